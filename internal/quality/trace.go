package quality

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/excelmind/internal/workbook"
)

// Small integers are ranks, counts, and flags; they are always traceable.
const smallIntMax = 10

// relTolerance lets rounded figures match their source.
const relTolerance = 5e-3

type traceSet struct {
	nums []float64 // sorted
}

func buildTraceSet(ec EvalContext) traceSet {
	var nums []float64
	add := func(f float64) {
		if !math.IsNaN(f) && !math.IsInf(f, 0) {
			nums = append(nums, f)
		}
	}

	totalRows, totalSheets := 0, 0
	for _, f := range ec.Files {
		for _, sheet := range f.SheetNames() {
			rows := f.Sheets[sheet]
			totalRows += len(rows)
			totalSheets++
			add(float64(len(rows)))
			add(float64(len(f.Headers(sheet))))
			for _, row := range rows {
				for _, cell := range row {
					if n, ok := workbook.ToFloat(cell); ok {
						add(n)
					}
				}
			}
		}
	}
	add(float64(totalRows))
	add(float64(totalSheets))
	add(float64(len(ec.Files)))

	for _, out := range ec.ToolOutputs {
		walk(normalize(out), "$", func(_ string, v any) {
			switch n := v.(type) {
			case float64:
				add(n)
			case string:
				for _, x := range numbersInText(n) {
					add(x)
				}
			}
		})
	}
	for _, n := range numbersInText(ec.Prompt) {
		add(n)
	}

	sort.Float64s(nums)
	return traceSet{nums: nums}
}

func (t traceSet) contains(f float64) bool {
	if f == math.Trunc(f) && math.Abs(f) <= smallIntMax {
		return true
	}
	tol := math.Max(relTolerance*math.Abs(f), 5e-3)
	i := sort.SearchFloat64s(t.nums, f-tol)
	return i < len(t.nums) && t.nums[i] <= f+tol
}

var numberRe = regexp.MustCompile(`-?\d+(?:,\d{3})*(?:\.\d+)?`)

func numbersInText(s string) []float64 {
	var out []float64
	for _, m := range numberRe.FindAllString(s, -1) {
		if f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64); err == nil {
			out = append(out, f)
		}
	}
	return out
}

// normalize converts typed values (structs, typed slices, ints) into the
// generic JSON shapes walk understands. Non-finite floats survive as-is.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, el := range x {
			out[k] = normalize(el)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = normalize(el)
		}
		return out
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Sprint(v)
	}
	return out
}

// walk visits every node depth-first, containers before their children.
func walk(v any, path string, fn func(path string, v any)) {
	fn(path, v)
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(x[k], path+"."+k, fn)
		}
	case []any:
		for i, el := range x {
			walk(el, fmt.Sprintf("%s[%d]", path, i), fn)
		}
	}
}
