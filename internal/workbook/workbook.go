// Package workbook holds parsed spreadsheet data handed to the orchestrator.
//
// Parsing Excel or Word files happens upstream; a File here is already a set
// of named sheets, each a slice of rows keyed by column header.
package workbook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Row is one spreadsheet row keyed by header.
type Row = map[string]any

// File is one uploaded workbook.
type File struct {
	ID       string           `json:"id"`
	FileName string           `json:"fileName"`
	Sheets   map[string][]Row `json:"sheets"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// SheetNames returns the sheet names in sorted order.
func (f File) SheetNames() []string {
	names := make([]string, 0, len(f.Sheets))
	for name := range f.Sheets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Headers returns the union of column names across rows of sheet, sorted.
func (f File) Headers(sheet string) []string {
	seen := map[string]struct{}{}
	for _, row := range f.Sheets[sheet] {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	headers := make([]string, 0, len(seen))
	for k := range seen {
		headers = append(headers, k)
	}
	sort.Strings(headers)
	return headers
}

// Validate reports the first structural problem with f.
func (f File) Validate() error {
	switch {
	case strings.TrimSpace(f.ID) == "":
		return fmt.Errorf("file id is required")
	case strings.TrimSpace(f.FileName) == "":
		return fmt.Errorf("file %s: file name is required", f.ID)
	case len(f.Sheets) == 0:
		return fmt.Errorf("file %s: at least one sheet is required", f.ID)
	}
	return nil
}

// Set is the group of files one task works on.
type Set []File

// Find returns the file with id, or the first file when id is empty.
func (s Set) Find(id string) (File, error) {
	if len(s) == 0 {
		return File{}, fmt.Errorf("no data files available")
	}
	if id == "" {
		return s[0], nil
	}
	for _, f := range s {
		if f.ID == id {
			return f, nil
		}
	}
	return File{}, fmt.Errorf("file %q not found", id)
}

// Sheet returns the rows of sheet in file id. Empty names pick the first
// file and its first sheet.
func (s Set) Sheet(fileID, sheet string) (string, []Row, error) {
	f, err := s.Find(fileID)
	if err != nil {
		return "", nil, err
	}
	if sheet == "" {
		names := f.SheetNames()
		if len(names) == 0 {
			return "", nil, fmt.Errorf("file %s has no sheets", f.FileName)
		}
		sheet = names[0]
	}
	rows, ok := f.Sheets[sheet]
	if !ok {
		return "", nil, fmt.Errorf("sheet %q not found in file %s", sheet, f.FileName)
	}
	return sheet, rows, nil
}

// Fingerprint is a stable hash of the set's content.
func (s Set) Fingerprint() string {
	h := sha256.New()
	// encoding/json sorts map keys, so the encoding is canonical.
	enc := json.NewEncoder(h)
	for _, f := range s {
		_ = enc.Encode(f)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type filesCtxKey struct{}

// WithFiles makes the task's files available to tool handlers.
func WithFiles(ctx context.Context, files Set) context.Context {
	return context.WithValue(ctx, filesCtxKey{}, files)
}

// FilesFromContext returns the files stored by WithFiles.
func FilesFromContext(ctx context.Context) Set {
	s, _ := ctx.Value(filesCtxKey{}).(Set)
	return s
}

// ToFloat converts a cell value to a number. Numeric strings are accepted;
// blanks and non-numeric values report false.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, false
		}
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(n, ",", ""))
		if s == "" {
			return 0, false
		}
		var err error
		if f, err = strconv.ParseFloat(s, 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	// NaN and Inf cells ("nan" from pandas exports) cannot be summed or encoded.
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// IsBlank reports whether a cell is empty.
func IsBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
