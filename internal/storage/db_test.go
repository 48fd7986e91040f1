package storage

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestRebind(t *testing.T) {
	pg := &DB{driver: "postgres"}
	assert.Equal(t, "SELECT $1, $2 FROM t WHERE id=$3", pg.rebind("SELECT ?, ? FROM t WHERE id=?"))

	lite := &DB{driver: "sqlite"}
	assert.Equal(t, "SELECT ? FROM t", lite.rebind("SELECT ? FROM t"))
}

func TestIsUniqueViolation(t *testing.T) {
	raw, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer raw.Close()

	_, err = raw.Exec(`CREATE TABLE t (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = raw.Exec(`INSERT INTO t (id) VALUES ('a')`)
	require.NoError(t, err)

	_, err = raw.Exec(`INSERT INTO t (id) VALUES ('a')`)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("connection reset")))
}
