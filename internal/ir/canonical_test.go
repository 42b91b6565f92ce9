package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int", -100, "-100"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"empty array", []any{}, "[]"},
		{"string array", []any{"a", "b"}, `["a","b"]`},
		{"empty object", map[string]any{}, "{}"},
		{"nested", map[string]any{"a": []any{1, "x"}}, `{"a":[1,"x"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	result, err := MarshalCanonical(map[string]any{"b": 2, "a": 1, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(result))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	result, err := MarshalCanonical("x\u2028y")
	require.NoError(t, err)
	assert.Equal(t, "\"x\u2028y\"", string(result))

	result, err = MarshalCanonical(`x\u2028y`)
	require.NoError(t, err)
	assert.Equal(t, `"x\\u2028y"`, string(result), "literal backslash text stays escaped")
}

func TestMarshalCanonicalRejects(t *testing.T) {
	for name, v := range map[string]any{
		"nil":          nil,
		"float":        1.5,
		"int64":        int64(1),
		"string slice": []string{"a"},
		"struct":       struct{}{},
		"nested float": map[string]any{"a": []any{1, 2.5}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := MarshalCanonical(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "unsupported type")
		})
	}
}

func TestSummaryDigest(t *testing.T) {
	f := ProcID{Name: "f"}
	d1 := MustSummaryDigest(f, []byte(`{"x":1}`))
	d2 := MustSummaryDigest(f, []byte(`{"x":1}`))
	d3 := MustSummaryDigest(ProcID{Name: "g"}, []byte(`{"x":1}`))

	assert.Len(t, d1, 64)
	assert.Equal(t, d1, d2, "digest is deterministic")
	assert.NotEqual(t, d1, d3, "digest covers the procedure")
}

func TestProgramDigest(t *testing.T) {
	d1, err := ProgramDigest(NewProgram(loopGraph()))
	require.NoError(t, err)

	changed := loopGraph()
	changed.Edges[1] = []NodeID{3}
	d2, err := ProgramDigest(NewProgram(changed))
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)
}

func TestMarshalCanonicalDigestShapes(t *testing.T) {
	v := map[string]any{
		"proc":  "f/1",
		"entry": 0,
		"ok":    true,
		"nodes": []any{map[string]any{"id": 1, "succs": []any{2, 3}}},
	}
	result, err := MarshalCanonical(v)
	require.NoError(t, err)
	assert.Equal(t, `{"entry":0,"nodes":[{"id":1,"succs":[2,3]}],"ok":true,"proc":"f/1"}`, string(result))

	nfc, err := MarshalCanonical("cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"caf\u00e9\"", string(nfc), "strings are NFC normalized")
}
