package translate

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmbee/dngsync/internal/delta"
	"github.com/openmbee/dngsync/internal/triple"
)

const origin = "https://dng.example.org"

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

const dump = `# @prefix dng_type_T1: <https://dng.example.org/rm/types/T1#> .
# <https://dng.example.org/rm/resources/R1>
<https://dng.example.org/rm/resources/R1> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://open-services.net/ns/rm#Requirement> .
<https://dng.example.org/rm/resources/R1> <http://purl.org/dc/terms/title> "  Brake   response " .
<https://dng.example.org/rm/resources/R1> <http://open-services.net/ns/core#instanceShape> <https://dng.example.org/rm/types/S1> .
<https://dng.example.org/rm/resources/R1> <https://dng.example.org/rm/types/T1#priority> "3"^^<http://www.w3.org/2001/XMLSchema#integer> .
<https://dng.example.org/rm/resources/R1> <https://dng.example.org/rm/types/T1#weight> "0.5"^^<http://www.w3.org/2001/XMLSchema#double> .
<https://dng.example.org/rm/resources/R1> <https://dng.example.org/rm/types/T1#safety> "TRUE"^^<http://www.w3.org/2001/XMLSchema#boolean> .
<https://dng.example.org/rm/resources/R1> <http://purl.org/dc/terms/creator> <https://dng.example.org/jts/users/alice> .
<https://dng.example.org/rm/resources/R1> <https://dng.example.org/rm/types/T1#satisfies> <https://dng.example.org/rm/resources/R2> .
<https://dng.example.org/rm/resources/R1> <http://open-services.net/ns/core#serviceProvider> <https://dng.example.org/rm/process/p1> .
<https://dng.example.org/rm/resources/R1> <http://purl.org/dc/terms/subject> "a" .
<https://dng.example.org/rm/resources/R1> <http://purl.org/dc/terms/subject> "b" .
<https://dng.example.org/jts/users/alice> <http://xmlns.com/foaf/0.1/nick> "alice" .
<https://dng.example.org/rm/types/T1#priority> <http://purl.org/dc/terms/title> "Priority" .
# <https://dng.example.org/rm/resources/R2>
<https://dng.example.org/rm/resources/R2> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://open-services.net/ns/rm#Requirement> .
<https://dng.example.org/rm/resources/R2> <http://purl.org/dc/terms/title> "Stop distance" .
<https://other.example.org/rm/resources/X> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://open-services.net/ns/rm#Requirement> .
<https://dng.example.org/rm/folders/F1> <http://purl.org/dc/terms/title> "Folder" .
`

func newTestTranslator(t *testing.T) *Translator {
	t.Helper()

	tr, err := New("PROJ", origin, testLogger(t))
	require.NoError(t, err)

	return tr
}

// attribute finds the Property owned by class with the given name.
func attribute(t *testing.T, snap delta.Snapshot, class, name string) delta.Record {
	t.Helper()

	for _, id := range snap[class]["ownedAttributeIds"].([]any) {
		rec := snap[id.(string)]
		if rec["name"] == name {
			return rec
		}
	}

	require.Failf(t, "attribute not found", "%s on %s", name, class)

	return nil
}

func TestNew_Validates(t *testing.T) {
	_, err := New("PROJ", "dng.example.org", nil)
	require.Error(t, err)

	_, err = New("", origin, nil)
	require.Error(t, err)
}

func TestElementID(t *testing.T) {
	tr := newTestTranslator(t)

	id, err := tr.ElementID(origin + "/rm/resources/TX_abc")
	require.NoError(t, err)
	assert.Equal(t, "_rm_resources_TX_abc", id)

	_, err = tr.ElementID("https://other.example.org/rm/resources/X")
	require.ErrorIs(t, err, ErrForeignURI)
}

func TestTranslate_Requirements(t *testing.T) {
	tr := newTestTranslator(t)

	snap, err := tr.Translate(strings.NewReader(dump))
	require.NoError(t, err)

	root := snap[RootID("PROJ")]
	require.NotNil(t, root)
	assert.Equal(t, "Class", root["type"])
	assert.Equal(t, "PROJ", root["name"])

	r1 := snap["_rm_resources_R1"]
	require.NotNil(t, r1)
	assert.Equal(t, "Class", r1["type"])
	assert.Equal(t, "Brake response", r1["name"])
	assert.Equal(t, "PROJ_pm", r1["ownerId"])

	r2 := snap["_rm_resources_R2"]
	require.NotNil(t, r2)
	assert.Equal(t, "Stop distance", r2["name"])

	// Foreign requirement and untyped folder are not elements.
	for id := range snap {
		assert.NotContains(t, id, "other")
		assert.NotContains(t, id, "folders")
	}
}

func TestTranslate_Attributes(t *testing.T) {
	tr := newTestTranslator(t)

	snap, err := tr.Translate(strings.NewReader(dump))
	require.NoError(t, err)

	const r1 = "_rm_resources_R1"

	source := attribute(t, snap, r1, "Source")
	assert.Equal(t, hashID(r1+"_source"), source["id"])
	assert.Equal(t, primitiveTypes[kindString], source["typeId"])
	assert.Equal(t, origin+"/rm/resources/R1", source["defaultValue"].(map[string]any)["value"])

	prio := attribute(t, snap, r1, "Priority")
	dv := prio["defaultValue"].(map[string]any)
	assert.Equal(t, "LiteralInteger", dv["type"])
	assert.Equal(t, int64(3), dv["value"])

	weight := attribute(t, snap, r1, "weight")
	assert.InDelta(t, 0.5, weight["defaultValue"].(map[string]any)["value"], 0)

	safety := attribute(t, snap, r1, "safety")
	assert.Equal(t, true, safety["defaultValue"].(map[string]any)["value"])

	creator := attribute(t, snap, r1, "creator")
	assert.Equal(t, "alice", creator["defaultValue"].(map[string]any)["value"])

	subject := attribute(t, snap, r1, "subject")
	expr := subject["defaultValue"].(map[string]any)
	assert.Equal(t, "Expression", expr["type"])
	require.Len(t, expr["operand"], 2)

	// Process links carry no requirement data.
	for _, id := range snap[r1]["ownedAttributeIds"].([]any) {
		assert.NotEqual(t, "serviceProvider", snap[id.(string)]["name"])
	}
}

func TestTranslate_Relations(t *testing.T) {
	tr := newTestTranslator(t)

	snap, err := tr.Translate(strings.NewReader(dump))
	require.NoError(t, err)

	rel := attribute(t, snap, "_rm_resources_R1", "satisfies")
	assert.Equal(t, "_rm_resources_R2", rel["typeId"])

	assocID, ok := rel["associationId"].(string)
	require.True(t, ok)

	assoc := snap[assocID]
	require.NotNil(t, assoc)
	assert.Equal(t, "Association", assoc["type"])
	assert.Equal(t, []any{"_rm_resources_R1", "_rm_resources_R2"}, assoc["memberEndIds"])
}

func TestTranslate_Deterministic(t *testing.T) {
	tr := newTestTranslator(t)

	a, err := tr.Translate(strings.NewReader(dump))
	require.NoError(t, err)

	// Reverse the triple lines; element ids and content must not change.
	lines := strings.Split(strings.TrimSpace(dump), "\n")
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}

	b, err := tr.Translate(strings.NewReader(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)

	d, err := delta.Diff(a, b, RootID("PROJ"))
	require.NoError(t, err)
	assert.True(t, d.Empty())
}

func TestLiteralValue_Invalid(t *testing.T) {
	_, err := literalValue(kindInteger, triple.Literal("many", "", triple.NSXSD+"integer"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integer literal")

	_, err = literalValue(kindReal, triple.Literal("x", "", triple.NSXSD+"double"))
	require.Error(t, err)
}

func TestTranslate_MalformedDump(t *testing.T) {
	tr := newTestTranslator(t)

	_, err := tr.Translate(strings.NewReader("<a> <b> .\n"))
	require.ErrorIs(t, err, triple.ErrDecode)
}

func TestLiteralValue_DateTime(t *testing.T) {
	v, err := literalValue(kindString, triple.Literal("2021-03-04T05:06:07+02:00", "", triple.NSXSD+"dateTime"))
	require.NoError(t, err)
	assert.Equal(t, "2021-03-04T03:06:07.000Z", v)
}
