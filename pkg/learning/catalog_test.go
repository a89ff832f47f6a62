package learning

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultChallenges(t *testing.T) {
	challenges, err := DefaultChallenges()
	require.NoError(t, err)
	require.NotEmpty(t, challenges)

	ids := make(map[string]bool)
	for _, c := range challenges {
		ids[c.ID] = true
		assert.Positive(t, c.Points, c.ID)
	}
	assert.True(t, ids["docker-intro"])
}

func TestLoadChallenges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
challenges:
  - id: k8s-pods
    name: Pods
    category: kubernetes
    level: 5
    points: 250
    active: true
`), 0o600))

	challenges, err := LoadChallenges(path)
	require.NoError(t, err)
	require.Len(t, challenges, 1)
	assert.Equal(t, "k8s-pods", challenges[0].ID)
	assert.True(t, challenges[0].Active)
	assert.Equal(t, 250, challenges[0].Points)
}

func TestLoadChallenges_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
challenges:
  - id: dup
  - id: dup
  - name: no id
`), 0o600))

	_, err := LoadChallenges(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
	assert.Contains(t, err.Error(), "id is required")
}

func TestLoadChallenges_MissingFile(t *testing.T) {
	_, err := LoadChallenges(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
