package db

import (
	"database/sql"
	"ms-roster/internal/database/dbtest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func TestSnapshotOptions(t *testing.T) {
	sqlite := dbtest.New(t)
	assert.Nil(t, New(sqlite).snapshotOptions())

	// Only the dialect matters; nothing is sent over the connection.
	pg := bun.NewDB(sqlite.DB, pgdialect.New())
	opts := New(pg).snapshotOptions()
	require.NotNil(t, opts)
	assert.Equal(t, sql.LevelRepeatableRead, opts.Isolation)
	assert.True(t, opts.ReadOnly)
}
