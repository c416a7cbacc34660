package database

import (
	"io/fs"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
)

func TestMigrationsEmbedded(t *testing.T) {
	src, err := iofs.New(migrations, "migrations")
	if assert.NoError(t, err, "expected embedded migrations to form a valid source") {
		defer src.Close()

		version, err := src.First()
		assert.NoError(t, err)
		assert.Equal(t, uint(1), version)
	}

	for _, name := range []string{"migrations/000001_init.up.sql", "migrations/000001_init.down.sql"} {
		body, err := fs.ReadFile(migrations, name)
		assert.NoError(t, err, "expected %s to be embedded", name)
		assert.NotEmpty(t, body)
	}

	up, _ := fs.ReadFile(migrations, "migrations/000001_init.up.sql")
	for _, table := range []string{"accounts", "groups", "group_members"} {
		assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS "+table)
	}
}

func TestClose_nilConn(t *testing.T) {
	db := &PgRepository{}
	assert.NoError(t, db.Close())
}
