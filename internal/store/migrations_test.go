package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMigrationName(t *testing.T) {
	cases := []struct {
		name    string
		version int
		label   string
		ok      bool
	}{
		{"001_initial_schema.sql", 1, "initial_schema", true},
		{"012_add_index.sql", 12, "add_index", true},
		{"initial_schema.sql", 0, "", false},
		{"001_.sql", 0, "", false},
		{"abc_label.sql", 0, "", false},
		{"001_label.txt", 0, "", false},
		{"000_label.sql", 0, "", false},
	}

	for _, tc := range cases {
		version, label, ok := parseMigrationName(tc.name)
		assert.Equal(t, tc.ok, ok, tc.name)
		assert.Equal(t, tc.version, version, tc.name)
		assert.Equal(t, tc.label, label, tc.name)
	}
}

func TestSQLStatementsSplitsOnTerminators(t *testing.T) {
	script := `-- leading comment
CREATE TABLE a (
    id TEXT PRIMARY KEY
);

-- another comment
CREATE INDEX idx_a ON a (id);
`
	stmts := sqlStatements(script)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Contains(t, stmts[1], "CREATE INDEX idx_a")
	for _, s := range stmts {
		assert.NotContains(t, s, "--", "comment lines must not survive splitting")
	}
}

func TestSQLStatementsKeepsUnterminatedTail(t *testing.T) {
	stmts := sqlStatements("INSERT INTO a (id) VALUES ('x')")
	require.Len(t, stmts, 1)
	assert.Equal(t, "INSERT INTO a (id) VALUES ('x')", stmts[0])
}

func TestEmbeddedMigrationsAreWellFormed(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	seen := map[int]string{}
	for _, e := range entries {
		version, label, ok := parseMigrationName(e.Name())
		require.True(t, ok, "migration %q must be named NNN_label.sql", e.Name())
		prev, dup := seen[version]
		require.False(t, dup, "version %d declared by both %q and %q", version, prev, e.Name())
		seen[version] = e.Name()

		script, err := migrationFiles.ReadFile("migrations/" + e.Name())
		require.NoError(t, err)
		assert.NotEmpty(t, sqlStatements(string(script)), "migration %s has no statements", label)
	}
}
