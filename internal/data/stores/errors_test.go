package stores

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverFromCorruption_MovesFilesAside(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "wiggums.db")

	require.NoError(t, os.WriteFile(dbPath, []byte("corrupted data"), 0o644))
	require.NoError(t, os.WriteFile(dbPath+"-wal", []byte("wal data"), 0o644))
	require.NoError(t, os.WriteFile(dbPath+"-shm", []byte("shm data"), 0o644))

	backup, err := RecoverFromCorruption(dbPath)
	require.NoError(t, err)

	assert.NoFileExists(t, dbPath)
	assert.NoFileExists(t, dbPath+"-wal")
	assert.NoFileExists(t, dbPath+"-shm")

	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, "corrupted data", string(data))
	assert.FileExists(t, backup+"-wal")
	assert.FileExists(t, backup+"-shm")
}

func TestRecoverFromCorruption_MissingFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "wiggums.db")

	_, err := RecoverFromCorruption(dbPath)
	assert.NoError(t, err)
}

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, IsNotFoundError(sql.ErrNoRows))
	assert.True(t, IsNotFoundError(fmt.Errorf("wrapped: %w", sql.ErrNoRows)))
	assert.False(t, IsNotFoundError(errors.New("other")))
}

func TestIsCorruptionError_Message(t *testing.T) {
	assert.True(t, IsCorruptionError(errors.New("file is not a database")))
	assert.False(t, IsCorruptionError(errors.New("constraint failed")))
	assert.False(t, IsBusyError(errors.New("database is locked")))
}
