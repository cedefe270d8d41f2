package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/classindex/internal/store"
)

func decodeClasses(t *testing.T, stdout string) []store.Class {
	t.Helper()

	var rows []store.Class
	require.NoError(t, json.Unmarshal([]byte(stdout), &rows))

	return rows
}

func Test_Query_Lists_Recorded_Classes_When_Scan_Used_Db(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)
	c.WriteJar("one.jar", map[string][]byte{
		"sample/A":        classA(),
		"sample/B":        classB(),
		"java/util/Thing": platformThing(),
	})
	c.WriteJar("two.jar", map[string][]byte{
		"sample/B":        classB(),
		"java/util/Thing": platformThing(),
	})

	report := decodeScan(t, c.MustRun("scan", "--extends", "sample/A", "--db", "idx/classes.sqlite", "one.jar", "two.jar"))
	assert.Equal(t, 5, report.Recorded)

	matched := decodeClasses(t, c.MustRun("query", "--db", "idx/classes.sqlite", "--matched"))
	require.Len(t, matched, 2)

	for _, row := range matched {
		assert.Equal(t, "sample/B", row.Name)
		assert.Equal(t, "sample/B.class", row.Location)
		assert.True(t, row.Matched)
		assert.Len(t, row.Digest, 64)
	}

	assert.Equal(t, "one.jar", matched[0].Source)
	assert.Equal(t, "two.jar", matched[1].Source)
	assert.Equal(t, matched[0].Digest, matched[1].Digest)
	assert.NotEqual(t, matched[0].Scope, matched[1].Scope)

	platform := decodeClasses(t, c.MustRun("query", "--db", "idx/classes.sqlite", "--prefix", "java/"))
	require.Len(t, platform, 2)

	for _, row := range platform {
		assert.Equal(t, int32(-1), row.Scope)
		assert.False(t, row.Matched)
	}

	limited := decodeClasses(t, c.MustRun("query", "--db", "idx/classes.sqlite", "--source", "one.jar", "--limit", "1"))
	require.Len(t, limited, 1)
	assert.Equal(t, "java/util/Thing", limited[0].Name)
}

func Test_Query_Summarizes_Sources_When_Sources_Flag_Given(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)
	c.WriteJar("one.jar", map[string][]byte{"sample/A": classA(), "sample/B": classB()})

	c.MustRun("scan", "--extends", "sample/A", "--db", "classes.sqlite", "one.jar")

	var summaries []store.SourceSummary
	require.NoError(t, json.Unmarshal([]byte(c.MustRun("query", "--db", "classes.sqlite", "--sources")), &summaries))

	assert.Equal(t, []store.SourceSummary{{Source: "one.jar", Classes: 2, Matched: 1}}, summaries)
}

func Test_Scan_Replaces_Recorded_Rows_When_Source_Scanned_Again(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)
	c.WriteJar("app.jar", map[string][]byte{"sample/A": classA(), "sample/B": classB()})
	c.MustRun("scan", "--extends", "sample/A", "--db", "classes.sqlite", "app.jar")

	c.WriteJar("app.jar", map[string][]byte{"sample/A": classA()})
	c.MustRun("scan", "--extends", "sample/A", "--db", "classes.sqlite", "app.jar")

	rows := decodeClasses(t, c.MustRun("query", "--db", "classes.sqlite"))
	require.Len(t, rows, 1)
	assert.Equal(t, "sample/A", rows[0].Name)
}

func Test_Scan_Logs_Database_Path_When_Verbose(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)
	c.WriteJar("app.jar", map[string][]byte{"sample/A": classA()})

	_, stderr, code := c.Run("--verbose", "scan", "--extends", "sample/A", "--db", "idx/classes.sqlite", "app.jar")
	require.Equal(t, 0, code, stderr)

	assert.Contains(t, stderr, "recording scan")
	assert.Contains(t, stderr, c.Path("idx/classes.sqlite"))
}

func Test_Query_Fails_When_Db_Missing(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	assert.Contains(t, c.MustFail("query"), "--db is required")
	assert.Contains(t, c.MustFail("query", "--db", "nope.sqlite"), "opening database")
}
