package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/excelmind/internal/privacy"
	"github.com/fyrsmithlabs/excelmind/internal/workbook"
)

const (
	// qualitySampleRows is how many leading rows per sheet are scanned for
	// missing values.
	qualitySampleRows = 100

	// maxSampleChars caps one sample cell in the prompt.
	maxSampleChars = 200
)

// Observation is the structural view of the task's data.
type Observation struct {
	Files       int              `json:"files"`
	Sheets      int              `json:"sheets"`
	TotalRows   int              `json:"totalRows"`
	Sheet       []SheetSummary   `json:"sheet"`
	DataQuality DataQuality      `json:"dataQuality"`
	Metadata    AnnotationCounts `json:"metadata"`
}

// SheetSummary describes one sheet without its full contents.
type SheetSummary struct {
	FileID        string         `json:"fileId"`
	FileName      string         `json:"fileName"`
	Name          string         `json:"name"`
	Rows          int            `json:"rows"`
	Headers       []string       `json:"headers"`
	Sample        []workbook.Row `json:"sample,omitempty"`
	MissingValues int            `json:"missingValues"`
}

// DataQuality counts blank or absent cells in the first qualitySampleRows
// rows of every sheet.
type DataQuality struct {
	MissingValues int `json:"missingValues"`
}

// AnnotationCounts totals the cell comments and notes carried in file
// metadata.
type AnnotationCounts struct {
	CommentCount int `json:"commentCount"`
	NoteCount    int `json:"noteCount"`
}

// observe summarizes files, masking sample values with m.
func observe(files workbook.Set, sampleRows int, m privacy.Masker) Observation {
	var obs Observation
	obs.Files = len(files)
	for _, f := range files {
		for _, name := range f.SheetNames() {
			rows := f.Sheets[name]
			s := SheetSummary{
				FileID:   f.ID,
				FileName: f.FileName,
				Name:     name,
				Rows:     len(rows),
				Headers:  f.Headers(name),
			}
			for i := 0; i < len(rows) && i < sampleRows; i++ {
				masked := make(workbook.Row, len(rows[i]))
				for k, v := range rows[i] {
					masked[k] = clipSample(m.MaskValue(v))
				}
				s.Sample = append(s.Sample, masked)
			}
			s.MissingValues = countMissing(rows, s.Headers)
			obs.Sheets++
			obs.TotalRows += len(rows)
			obs.DataQuality.MissingValues += s.MissingValues
			obs.Sheet = append(obs.Sheet, s)
		}
		comments, notes := countAnnotations(f.Metadata)
		obs.Metadata.CommentCount += comments
		obs.Metadata.NoteCount += notes
	}
	return obs
}

func countMissing(rows []workbook.Row, headers []string) int {
	n := 0
	for i := 0; i < len(rows) && i < qualitySampleRows; i++ {
		for _, h := range headers {
			if workbook.IsBlank(rows[i][h]) {
				n++
			}
		}
	}
	return n
}

// countAnnotations reads metadata shaped as
// {"<sheet>": {"comments": {...}, "notes": {...}}}. Lists are accepted in
// place of maps.
func countAnnotations(meta map[string]any) (comments, notes int) {
	for _, v := range meta {
		sheet, ok := v.(map[string]any)
		if !ok {
			continue
		}
		comments += countEntries(sheet["comments"])
		notes += countEntries(sheet["notes"])
	}
	return comments, notes
}

func countEntries(v any) int {
	switch c := v.(type) {
	case map[string]any:
		return len(c)
	case []any:
		return len(c)
	}
	return 0
}

func clipSample(v any) any {
	s, ok := v.(string)
	if !ok || utf8.RuneCountInString(s) <= maxSampleChars {
		return v
	}
	return string([]rune(s)[:maxSampleChars]) + "..."
}

// Text renders the observation for a prompt.
func (o Observation) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d file(s), %d sheet(s), %d row(s) in total.\n", o.Files, o.Sheets, o.TotalRows)
	if o.DataQuality.MissingValues > 0 {
		fmt.Fprintf(&b, "Data quality: %d missing value(s) in the first %d rows of each sheet.\n", o.DataQuality.MissingValues, qualitySampleRows)
	}
	if o.Metadata.CommentCount > 0 || o.Metadata.NoteCount > 0 {
		fmt.Fprintf(&b, "Annotations: %d comment(s), %d note(s).\n", o.Metadata.CommentCount, o.Metadata.NoteCount)
	}
	for _, s := range o.Sheet {
		fmt.Fprintf(&b, "- file_id=%q file=%q sheet=%q rows=%d", s.FileID, s.FileName, s.Name, s.Rows)
		if s.MissingValues > 0 {
			fmt.Fprintf(&b, " missing=%d", s.MissingValues)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "  columns: %s\n", strings.Join(s.Headers, ", "))
		for _, row := range s.Sample {
			data, err := json.Marshal(row)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "  sample: %s\n", data)
		}
	}
	return b.String()
}

// Digest is the one-line form kept in the Memorandum.
func (o Observation) Digest() string {
	names := make([]string, 0, len(o.Sheet))
	for _, s := range o.Sheet {
		names = append(names, fmt.Sprintf("%s/%s(%d rows)", s.FileName, s.Name, s.Rows))
	}
	d := fmt.Sprintf("%d files, %d sheets, %d rows: %s", o.Files, o.Sheets, o.TotalRows, strings.Join(names, "; "))
	if o.DataQuality.MissingValues > 0 {
		d += fmt.Sprintf("; %d missing values", o.DataQuality.MissingValues)
	}
	if o.Metadata.CommentCount > 0 || o.Metadata.NoteCount > 0 {
		d += fmt.Sprintf("; %d comments, %d notes", o.Metadata.CommentCount, o.Metadata.NoteCount)
	}
	return d
}
