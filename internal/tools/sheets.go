package tools

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/fyrsmithlabs/excelmind/internal/workbook"
)

// Built-in tool names.
const (
	AnalyzeSheet    = "analyze_sheet"
	GroupSum        = "group_sum"
	DetectAnomalies = "detect_anomalies"
	FillDocument    = "fill_document"
)

// DefaultAnomalyThreshold is the z-score above which a value is flagged.
const DefaultAnomalyThreshold = 3.0

// objectSchema builds a tool input schema with the file_id and sheet
// locator properties added to props. Each call returns fresh subschemas;
// a resolved schema must be a tree.
func objectSchema(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	out := map[string]*jsonschema.Schema{
		"file_id": {Type: "string", Description: "ID of the data file; defaults to the first file"},
		"sheet":   {Type: "string", Description: "Sheet name; defaults to the first sheet"},
	}
	for k, v := range props {
		out[k] = v
	}
	return &jsonschema.Schema{Type: "object", Properties: out, Required: required}
}

// Builtins returns the spreadsheet tools. They read the task's files from
// the context set by workbook.WithFiles.
func Builtins() []Tool {
	return []Tool{
		{
			Definition: Definition{
				Name:        AnalyzeSheet,
				Description: "Profile a sheet: row count and per-column type, blanks, and numeric min/max/sum/mean.",
				InputSchema: objectSchema(nil),
			},
			Handler: analyzeSheet,
		},
		{
			Definition: Definition{
				Name:        GroupSum,
				Description: "Sum a numeric column grouped by the distinct values of another column.",
				InputSchema: objectSchema(map[string]*jsonschema.Schema{
					"group_by":     {Type: "string", Description: "Column whose distinct values form the groups"},
					"value_column": {Type: "string", Description: "Numeric column to sum"},
				}, "group_by", "value_column"),
			},
			Handler: groupSum,
		},
		{
			Definition: Definition{
				Name:        DetectAnomalies,
				Description: "Flag rows whose value in a numeric column lies more than threshold standard deviations from the mean.",
				InputSchema: objectSchema(map[string]*jsonschema.Schema{
					"column":    {Type: "string", Description: "Numeric column to inspect"},
					"threshold": {Type: "number", Description: "Z-score threshold, default 3"},
				}, "column"),
			},
			Handler: detectAnomalies,
		},
		{
			Definition: Definition{
				Name:        FillDocument,
				Description: "Fill {{column}} placeholders in a document template with the values of one row.",
				InputSchema: objectSchema(map[string]*jsonschema.Schema{
					"template":  {Type: "string", Description: "Document text with {{column}} placeholders"},
					"row_index": {Type: "integer", Description: "Zero-based row to use, default 0"},
				}, "template"),
			},
			Handler: fillDocument,
		},
	}
}

// RegisterBuiltins adds the spreadsheet tools to r.
func RegisterBuiltins(r *Registry) error {
	return r.RegisterBatch(Builtins()...)
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func locate(ctx context.Context, tool string, args map[string]any) (string, []workbook.Row, error) {
	files := workbook.FilesFromContext(ctx)
	sheet, rows, err := files.Sheet(stringArg(args, "file_id"), stringArg(args, "sheet"))
	if err != nil {
		return "", nil, &ArgumentError{Tool: tool, Field: "sheet", Reason: err.Error()}
	}
	return sheet, rows, nil
}

func requireColumn(tool, field, column string, rows []workbook.Row) error {
	for _, row := range rows {
		if _, ok := row[column]; ok {
			return nil
		}
	}
	return &ArgumentError{Tool: tool, Field: field, Reason: fmt.Sprintf("names unknown column %q", column)}
}

// ColumnProfile summarizes one column.
type ColumnProfile struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	NonBlank int      `json:"non_blank"`
	Blank    int      `json:"blank"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Sum      *float64 `json:"sum,omitempty"`
	Mean     *float64 `json:"mean,omitempty"`
}

// SheetProfile is the result of analyze_sheet for one sheet.
type SheetProfile struct {
	File    string          `json:"file"`
	Sheet   string          `json:"sheet"`
	Rows    int             `json:"rows"`
	Columns []ColumnProfile `json:"columns"`
}

func analyzeSheet(ctx context.Context, args map[string]any) (any, error) {
	files := workbook.FilesFromContext(ctx)
	f, err := files.Find(stringArg(args, "file_id"))
	if err != nil {
		return nil, &ArgumentError{Tool: AnalyzeSheet, Field: "file_id", Reason: err.Error()}
	}
	sheet, rows, err := locate(ctx, AnalyzeSheet, args)
	if err != nil {
		return nil, err
	}
	return ProfileSheet(f, sheet, rows), nil
}

// ProfileSheet computes the analyze_sheet result for rows.
func ProfileSheet(f workbook.File, sheet string, rows []workbook.Row) SheetProfile {
	profile := SheetProfile{File: f.FileName, Sheet: sheet, Rows: len(rows)}

	for _, col := range f.Headers(sheet) {
		cp := ColumnProfile{Name: col}
		var nums []float64
		texts := 0
		for _, row := range rows {
			v, ok := row[col]
			if !ok || workbook.IsBlank(v) {
				cp.Blank++
				continue
			}
			cp.NonBlank++
			if n, ok := workbook.ToFloat(v); ok {
				nums = append(nums, n)
			} else {
				texts++
			}
		}

		switch {
		case cp.NonBlank == 0:
			cp.Type = "empty"
		case texts == 0:
			cp.Type = "number"
		case len(nums) == 0:
			cp.Type = "text"
		default:
			cp.Type = "mixed"
		}

		if len(nums) > 0 {
			lo, hi, sum := nums[0], nums[0], 0.0
			for _, n := range nums {
				lo = math.Min(lo, n)
				hi = math.Max(hi, n)
				sum += n
			}
			mean := sum / float64(len(nums))
			cp.Min, cp.Max, cp.Sum, cp.Mean = &lo, &hi, &sum, &mean
		}
		profile.Columns = append(profile.Columns, cp)
	}
	return profile
}

// Group is one row of a group_sum result.
type Group struct {
	Key   string  `json:"group"`
	Sum   float64 `json:"sum"`
	Count int     `json:"count"`
}

// GroupSumResult is the result of group_sum.
type GroupSumResult struct {
	Sheet       string  `json:"sheet"`
	GroupBy     string  `json:"group_by"`
	ValueColumn string  `json:"value_column"`
	Groups      []Group `json:"groups"`
	Skipped     int     `json:"skipped"`
}

func groupSum(ctx context.Context, args map[string]any) (any, error) {
	sheet, rows, err := locate(ctx, GroupSum, args)
	if err != nil {
		return nil, err
	}
	by, value := stringArg(args, "group_by"), stringArg(args, "value_column")
	if err := requireColumn(GroupSum, "group_by", by, rows); err != nil {
		return nil, err
	}
	if err := requireColumn(GroupSum, "value_column", value, rows); err != nil {
		return nil, err
	}

	res := GroupSumResult{Sheet: sheet, GroupBy: by, ValueColumn: value}
	index := map[string]int{}
	for _, row := range rows {
		n, ok := workbook.ToFloat(row[value])
		if !ok || workbook.IsBlank(row[by]) {
			res.Skipped++
			continue
		}
		key := fmt.Sprint(row[by])
		i, seen := index[key]
		if !seen {
			i = len(res.Groups)
			index[key] = i
			res.Groups = append(res.Groups, Group{Key: key})
		}
		res.Groups[i].Sum += n
		res.Groups[i].Count++
	}
	sort.Slice(res.Groups, func(i, j int) bool { return res.Groups[i].Key < res.Groups[j].Key })
	return res, nil
}

// Anomaly is one flagged row.
type Anomaly struct {
	RowIndex int     `json:"row_index"`
	Value    float64 `json:"value"`
	ZScore   float64 `json:"z_score"`
}

// AnomalyResult is the result of detect_anomalies.
type AnomalyResult struct {
	Sheet     string    `json:"sheet"`
	Column    string    `json:"column"`
	Count     int       `json:"count"`
	Mean      float64   `json:"mean"`
	StdDev    float64   `json:"stddev"`
	Threshold float64   `json:"threshold"`
	Anomalies []Anomaly `json:"anomalies"`
}

func detectAnomalies(ctx context.Context, args map[string]any) (any, error) {
	sheet, rows, err := locate(ctx, DetectAnomalies, args)
	if err != nil {
		return nil, err
	}
	column := stringArg(args, "column")
	if err := requireColumn(DetectAnomalies, "column", column, rows); err != nil {
		return nil, err
	}
	threshold := DefaultAnomalyThreshold
	if t, ok := number(args["threshold"]); ok && t > 0 {
		threshold = t
	}

	type point struct {
		row int
		v   float64
	}
	var points []point
	sum := 0.0
	for i, row := range rows {
		if n, ok := workbook.ToFloat(row[column]); ok {
			points = append(points, point{row: i, v: n})
			sum += n
		}
	}

	res := AnomalyResult{Sheet: sheet, Column: column, Count: len(points), Threshold: threshold, Anomalies: []Anomaly{}}
	if len(points) == 0 {
		return res, nil
	}
	res.Mean = sum / float64(len(points))
	variance := 0.0
	for _, p := range points {
		variance += (p.v - res.Mean) * (p.v - res.Mean)
	}
	res.StdDev = math.Sqrt(variance / float64(len(points)))
	if res.StdDev == 0 {
		return res, nil
	}
	for _, p := range points {
		z := (p.v - res.Mean) / res.StdDev
		if math.Abs(z) > threshold {
			res.Anomalies = append(res.Anomalies, Anomaly{RowIndex: p.row, Value: p.v, ZScore: z})
		}
	}
	return res, nil
}

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// FillResult is the result of fill_document.
type FillResult struct {
	Document string   `json:"document"`
	RowIndex int      `json:"row_index"`
	Filled   []string `json:"filled"`
	Missing  []string `json:"missing"`
}

func fillDocument(ctx context.Context, args map[string]any) (any, error) {
	_, rows, err := locate(ctx, FillDocument, args)
	if err != nil {
		return nil, err
	}
	idx := 0
	if n, ok := number(args["row_index"]); ok {
		idx = int(n)
	}
	if idx < 0 || idx >= len(rows) {
		return nil, &ArgumentError{Tool: FillDocument, Field: "row_index", Reason: fmt.Sprintf("is out of range [0,%d)", len(rows))}
	}
	row := rows[idx]

	tmpl, _ := args["template"].(string)
	res := FillResult{RowIndex: idx, Filled: []string{}, Missing: []string{}}
	res.Document = placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		field := placeholder.FindStringSubmatch(m)[1]
		v, ok := row[field]
		if !ok || workbook.IsBlank(v) {
			res.Missing = append(res.Missing, field)
			return m
		}
		res.Filled = append(res.Filled, field)
		return fmt.Sprint(v)
	})
	return res, nil
}
