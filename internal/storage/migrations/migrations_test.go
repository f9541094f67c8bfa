package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgx5URL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost:5432/db?sslmode=disable": "pgx5://u:p@localhost:5432/db?sslmode=disable",
		"postgresql://localhost/db":                        "pgx5://localhost/db",
		"pgx5://localhost/db":                              "pgx5://localhost/db",
	}
	for in, want := range tests {
		assert.Equal(t, want, pgx5URL(in))
	}
}

func TestEmbeddedPostgresMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(PostgresFS, "postgres/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(PostgresFS, "postgres/*.down.sql")
	require.NoError(t, err)

	require.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}

func TestSplitStatements(t *testing.T) {
	sql := `-- comment line
CREATE TABLE a (x UInt8) ENGINE = Memory;

CREATE TABLE b (y String) ENGINE = Memory;
`
	stmts := splitStatements(sql)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x UInt8) ENGINE = Memory", stmts[0])
	assert.Equal(t, "CREATE TABLE b (y String) ENGINE = Memory", stmts[1])
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings("SELECT 'a''b' FROM t;"))
	assert.Error(t, validateNoSemicolonInStrings("SELECT 'a;b' FROM t;"))
}

func TestEmbeddedClickhouseMigrationsSplit(t *testing.T) {
	data, err := fs.ReadFile(ClickhouseFS, "clickhouse/0001_sale_events.sql")
	require.NoError(t, err)
	require.NoError(t, validateNoSemicolonInStrings(string(data)))
	assert.Len(t, splitStatements(string(data)), 1)
}
