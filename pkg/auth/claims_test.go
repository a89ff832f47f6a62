package auth

import (
	"errors"
	"reflect"
	"testing"
)

func TestClaimMapper_NestedPathWithPrefix(t *testing.T) {
	m := newClaimMapper("realm_access.roles", "bootcamp_")

	u, err := m.userInfo(map[string]any{
		"sub":   "user123",
		"email": "user@example.com",
		"name":  "Test User",
		"realm_access": map[string]any{
			"roles": []any{"bootcamp_mentor", "bootcamp_instructor", "other_role"},
		},
	}, "oidc")
	if err != nil {
		t.Fatalf("userInfo() error = %v", err)
	}
	if u.UserID != "user123" || u.Email != "user@example.com" || u.Name != "Test User" {
		t.Errorf("unexpected user %+v", u)
	}
	if u.AuthType != "oidc" {
		t.Errorf("AuthType = %q, want oidc", u.AuthType)
	}
	if want := []string{"mentor", "instructor"}; !reflect.DeepEqual(u.Roles, want) {
		t.Errorf("Roles = %v, want %v", u.Roles, want)
	}
}

func TestClaimMapper_MissingSubject(t *testing.T) {
	_, err := newClaimMapper("", "").userInfo(map[string]any{"email": "a@b.c"}, "jwt")
	if !errors.Is(err, errNoSubject) {
		t.Errorf("error = %v, want errNoSubject", err)
	}
}

func TestClaimMapper_CognitoDefaults(t *testing.T) {
	u, err := newClaimMapper("", "").userInfo(map[string]any{
		"sub":              "abc",
		"cognito:username": "learner-one",
		"cognito:groups":   []string{"mentors"},
	}, "jwt")
	if err != nil {
		t.Fatalf("userInfo() error = %v", err)
	}
	if !u.HasRole("mentors") || u.HasRole("admins") {
		t.Errorf("Roles = %v, want only mentors", u.Roles)
	}
	if u.Name != "learner-one" {
		t.Errorf("Name = %q, want cognito username fallback", u.Name)
	}
}

func TestClaimMapper_StringRoles(t *testing.T) {
	u, err := newClaimMapper("custom:roles", "").userInfo(map[string]any{
		"sub":          "abc",
		"custom:roles": "learner, instructor",
	}, "jwt")
	if err != nil {
		t.Fatalf("userInfo() error = %v", err)
	}
	if want := []string{"learner", "instructor"}; !reflect.DeepEqual(u.Roles, want) {
		t.Errorf("Roles = %v, want %v", u.Roles, want)
	}
}

func TestClaimMapper_WrongTypes(t *testing.T) {
	if _, err := newClaimMapper("", "").userInfo(map[string]any{"sub": 123}, "jwt"); err == nil {
		t.Error("non-string sub should not authenticate")
	}
}
