package auth

import (
	"errors"
	"strings"
)

// defaultRoleClaim is where Cognito user pools put group membership.
const defaultRoleClaim = "cognito:groups"

var errNoSubject = errors.New("token has no sub claim")

// claimMapper turns verified token claims into a UserInfo.
type claimMapper struct {
	// rolePath is a dot-separated path to the caller's roles.
	rolePath string

	// rolePrefix keeps only roles carrying it and strips it, so that
	// "bootcamp_instructor" becomes "instructor".
	rolePrefix string
}

func newClaimMapper(rolePath, rolePrefix string) claimMapper {
	if rolePath == "" {
		rolePath = defaultRoleClaim
	}
	return claimMapper{rolePath: rolePath, rolePrefix: rolePrefix}
}

// userInfo maps claims for authType. Sessions and profiles are keyed by
// sub, so a token without one is rejected.
func (m claimMapper) userInfo(claims map[string]any, authType string) (*UserInfo, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, errNoSubject
	}

	u := &UserInfo{UserID: sub, Claims: claims, AuthType: authType}
	u.Email, _ = claims["email"].(string)
	u.Name, _ = claims["name"].(string)
	if u.Name == "" {
		u.Name, _ = claims["cognito:username"].(string)
	}
	u.Roles = m.roles(lookup(claims, m.rolePath))
	return u, nil
}

// roles accepts a JSON array or a comma/space separated string.
func (m claimMapper) roles(v any) []string {
	var raw []string
	switch t := v.(type) {
	case []any:
		for _, r := range t {
			if s, ok := r.(string); ok {
				raw = append(raw, s)
			}
		}
	case []string:
		raw = t
	case string:
		raw = strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == ' ' })
	}

	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if m.rolePrefix != "" {
			var ok bool
			if r, ok = strings.CutPrefix(r, m.rolePrefix); !ok {
				continue
			}
		}
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

// lookup walks a dot-separated path. A key containing dots that exists
// verbatim at the top level wins over the walk.
func lookup(claims map[string]any, path string) any {
	if v, ok := claims[path]; ok {
		return v
	}
	var cur any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}
