// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_WALAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.sqlite")
	db, err := Open(path, DefaultConfig())
	require.NoError(t, err)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode;").Scan(&mode))
	assert.Equal(t, "wal", mode)

	_, err = db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	problems, err := VerifyIntegrity(path, "quick")
	require.NoError(t, err)
	assert.Empty(t, problems)
}
