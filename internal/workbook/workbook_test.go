package workbook

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Set {
	return Set{
		{ID: "a", FileName: "a.xlsx", Sheets: map[string][]Row{
			"Zeta":  {{"x": 1}},
			"Alpha": {{"b": 1, "a": 2}, {"c": 3}},
		}},
		{ID: "b", FileName: "b.xlsx", Sheets: map[string][]Row{"Only": {}}},
	}
}

func TestFile_SheetNamesAndHeaders(t *testing.T) {
	f := sample()[0]
	assert.Equal(t, []string{"Alpha", "Zeta"}, f.SheetNames())
	assert.Equal(t, []string{"a", "b", "c"}, f.Headers("Alpha"))
	assert.Empty(t, f.Headers("Missing"))
}

func TestFile_Validate(t *testing.T) {
	assert.NoError(t, sample()[0].Validate())
	assert.Error(t, File{FileName: "x", Sheets: map[string][]Row{"s": nil}}.Validate())
	assert.Error(t, File{ID: "x", Sheets: map[string][]Row{"s": nil}}.Validate())
	assert.Error(t, File{ID: "x", FileName: "x"}.Validate())
}

func TestSet_Sheet(t *testing.T) {
	s := sample()

	name, rows, err := s.Sheet("", "")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", name)
	assert.Len(t, rows, 2)

	name, _, err = s.Sheet("b", "")
	require.NoError(t, err)
	assert.Equal(t, "Only", name)

	_, _, err = s.Sheet("zzz", "")
	assert.Error(t, err)
	_, _, err = s.Sheet("a", "Nope")
	assert.Error(t, err)
	_, _, err = Set{}.Sheet("", "")
	assert.Error(t, err)
}

func TestSet_FingerprintStable(t *testing.T) {
	assert.Equal(t, sample().Fingerprint(), sample().Fingerprint())

	other := sample()
	other[0].Sheets["Zeta"][0]["x"] = 2
	assert.NotEqual(t, sample().Fingerprint(), other.Fingerprint())
}

func TestFilesContext(t *testing.T) {
	assert.Nil(t, FilesFromContext(context.Background()))
	ctx := WithFiles(context.Background(), sample())
	assert.Len(t, FilesFromContext(ctx), 2)
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{in: 3, want: 3, ok: true},
		{in: int64(4), want: 4, ok: true},
		{in: 2.5, want: 2.5, ok: true},
		{in: "1,234.5", want: 1234.5, ok: true},
		{in: json.Number("7"), want: 7, ok: true},
		{in: " ", ok: false},
		{in: "abc", ok: false},
		{in: nil, ok: false},
		{in: true, ok: false},
		{in: "NaN", ok: false},
		{in: "nan", ok: false},
		{in: "Inf", ok: false},
		{in: "-Infinity", ok: false},
		{in: math.NaN(), ok: false},
		{in: math.Inf(1), ok: false},
		{in: float32(math.Inf(-1)), ok: false},
		{in: json.Number("NaN"), ok: false},
	}
	for _, tt := range tests {
		got, ok := ToFloat(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-9)
		}
	}
}

func TestIsBlank(t *testing.T) {
	assert.True(t, IsBlank(nil))
	assert.True(t, IsBlank("  "))
	assert.False(t, IsBlank(0))
	assert.False(t, IsBlank("x"))
}
