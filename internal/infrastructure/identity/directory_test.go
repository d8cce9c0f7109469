package identity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleDirectory = `
users:
  alice:
    roles: [Manager]
    delegates_to: [bob]
  bob:
    roles: [manager]
  carol:
    roles: [cfo, director]
  mallory:
    roles: [cfo]
    disabled: true
`

func writeDirectory(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDirectory_HasRole(t *testing.T) {
	dir, err := NewDirectory(writeDirectory(t, sampleDirectory), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, dir.Size())

	tests := []struct {
		user string
		role string
		want bool
	}{
		{"alice", "manager", true},
		{"alice", "MANAGER", true},
		{"alice", "cfo", false},
		{"carol", "director", true},
		{"mallory", "cfo", false},
		{"nobody", "manager", false},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.user+"/"+tt.role, func(t *testing.T) {
			got, err := dir.HasRole(ctx, tt.user, tt.role)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDirectory_DelegationTargets(t *testing.T) {
	dir, err := NewDirectory(writeDirectory(t, sampleDirectory), zap.NewNop())
	require.NoError(t, err)

	targets, err := dir.DelegationTargetsFor(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, targets)

	// callers get a copy
	targets[0] = "eve"
	again, _ := dir.DelegationTargetsFor(context.Background(), "alice")
	assert.Equal(t, []string{"bob"}, again)

	none, err := dir.DelegationTargetsFor(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDirectory_InvalidFiles(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"syntax", "users: [oops"},
		{"unknown field", "users:\n  a:\n    rolez: [x]\n"},
		{"self delegation", "users:\n  a:\n    delegates_to: [a]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDirectory(writeDirectory(t, tt.body), zap.NewNop())
			assert.Error(t, err)
		})
	}

	_, err := NewDirectory(filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop())
	assert.Error(t, err)
}

func TestStaticDirectory(t *testing.T) {
	dir := NewStaticDirectory(
		map[string][]string{"alice": {"manager"}},
		map[string][]string{"alice": {"bob"}, "zoe": {"alice"}},
	)
	ok, err := dir.HasRole(context.Background(), "alice", "manager")
	require.NoError(t, err)
	assert.True(t, ok)

	targets, _ := dir.DelegationTargetsFor(context.Background(), "zoe")
	assert.Equal(t, []string{"alice"}, targets)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = dir.HasRole(ctx, "alice", "manager")
	assert.ErrorIs(t, err, context.Canceled)
}
