// Package privacy masks personal data and credentials in spreadsheet values
// before they are shown to the model.
package privacy

import (
	"sort"

	"github.com/fyrsmithlabs/excelmind/internal/config"
)

// Masker replaces sensitive substrings.
type Masker interface {
	// Mask returns s with every match replaced.
	Mask(s string) *Result

	// MaskValue masks string values and leaves everything else untouched.
	MaskValue(v any) any

	// IsEnabled returns whether masking is active.
	IsEnabled() bool
}

// Result describes one Mask call. Matched values are never recorded.
type Result struct {
	Masked   string         `json:"masked"`
	Findings int            `json:"findings"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
}

type masker struct {
	config *Config
}

type span struct {
	start, end  int
	replacement string
}

// New creates a Masker. A nil cfg uses DefaultConfig.
func New(cfg *Config) (Masker, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return NoopMasker{}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &masker{config: cfg}, nil
}

// FromSettings builds a Masker with the default rules.
func FromSettings(s config.PrivacyConfig) (Masker, error) {
	cfg := DefaultConfig()
	cfg.Enabled = s.Enabled
	return New(cfg)
}

func (m *masker) Mask(s string) *Result {
	res := &Result{Masked: s, ByRule: map[string]int{}}

	var spans []span
	for _, rule := range m.config.compiledRules {
		for _, loc := range rule.pattern.FindAllStringIndex(s, -1) {
			if m.isAllowed(s[loc[0]:loc[1]]) {
				continue
			}
			res.Findings++
			res.ByRule[rule.ID]++
			spans = append(spans, span{start: loc[0], end: loc[1], replacement: rule.Replacement})
		}
	}
	if len(spans) == 0 {
		return res
	}

	// Stable so that earlier rules win ties on the same start offset.
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := mergeSpans(spans)

	out := make([]byte, 0, len(s))
	pos := 0
	for _, sp := range merged {
		out = append(out, s[pos:sp.start]...)
		out = append(out, sp.replacement...)
		pos = sp.end
	}
	out = append(out, s[pos:]...)
	res.Masked = string(out)
	return res
}

func (m *masker) MaskValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return m.Mask(s).Masked
}

func (m *masker) IsEnabled() bool { return true }

func (m *masker) isAllowed(match string) bool {
	for _, p := range m.config.compiledAllowList {
		if p.MatchString(match) {
			return true
		}
	}
	return false
}

// mergeSpans merges overlapping spans, keeping the first span's replacement.
// Input must be sorted by start.
func mergeSpans(spans []span) []span {
	merged := []span{spans[0]}
	for _, curr := range spans[1:] {
		last := &merged[len(merged)-1]
		if curr.start < last.end {
			if curr.end > last.end {
				last.end = curr.end
			}
			continue
		}
		merged = append(merged, curr)
	}
	return merged
}

// NoopMasker returns everything unchanged.
type NoopMasker struct{}

func (NoopMasker) Mask(s string) *Result { return &Result{Masked: s, ByRule: map[string]int{}} }
func (NoopMasker) MaskValue(v any) any   { return v }
func (NoopMasker) IsEnabled() bool       { return false }

var (
	_ Masker = (*masker)(nil)
	_ Masker = NoopMasker{}
)
