package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "selinon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
