package orchestrator

import (
	"time"

	"github.com/fyrsmithlabs/excelmind/internal/config"
	"github.com/fyrsmithlabs/excelmind/internal/memo"
	"github.com/fyrsmithlabs/excelmind/internal/retry"
)

// Config bounds a task run.
type Config struct {
	// MaxRetries bounds both the attempts per call and the repair cycles
	// per step. Zero is kept as given and disables retries and repair, so
	// callers should start from DefaultConfig.
	// Default: 3
	MaxRetries int

	// MaxGlobalRetries bounds all retries of one task combined.
	// Default: 10
	MaxGlobalRetries int

	// TimeoutPerStep bounds each model and tool call.
	// Default: 30 seconds
	TimeoutPerStep time.Duration

	// TotalTimeout bounds the whole task.
	// Default: 5 minutes
	TotalTimeout time.Duration

	// QualityThreshold is the score a result needs to be accepted outright.
	// Default: 0.8
	QualityThreshold float64

	EnableAutoRepair bool
	EnableParallel   bool

	// MaxToolsPerTurn caps the tool calls run for one model turn.
	// Default: 3
	MaxToolsPerTurn int

	// MaxToolDepth caps model/tool round trips per ACT phase.
	// Default: 2
	MaxToolDepth int

	// MemoMaxChars is the Memorandum digest budget in prompts.
	// Default: 1400
	MemoMaxChars int

	// SampleRows is how many rows per sheet the observation shows.
	// Default: 5
	SampleRows int

	// MaxTokens is passed on every model request. Zero uses the client's.
	MaxTokens int

	LogLevel string

	// Retry shapes backoff. MaxRetries and AttemptTimeout are taken from
	// the fields above.
	Retry retry.Config
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		MaxGlobalRetries: 10,
		TimeoutPerStep:   30 * time.Second,
		TotalTimeout:     5 * time.Minute,
		QualityThreshold: 0.8,
		EnableAutoRepair: true,
		EnableParallel:   true,
		MaxToolsPerTurn:  3,
		MaxToolDepth:     2,
		MemoMaxChars:     memo.DefaultReadBudget,
		SampleRows:       5,
		LogLevel:         "info",
		Retry:            retry.DefaultConfig(),
	}
}

// ConfigFromSettings builds a Config from the loaded file.
func ConfigFromSettings(c *config.Config) Config {
	o := c.Orchestrator
	return Config{
		MaxRetries:       o.MaxRetries,
		MaxGlobalRetries: o.MaxGlobalRetries,
		TimeoutPerStep:   o.TimeoutPerStep.Duration(),
		TotalTimeout:     o.TotalTimeout.Duration(),
		QualityThreshold: o.QualityThreshold,
		EnableAutoRepair: o.EnableAutoRepair,
		EnableParallel:   o.EnableParallel,
		MaxToolsPerTurn:  o.MaxToolsPerTurn,
		MaxToolDepth:     o.MaxToolDepth,
		MemoMaxChars:     o.MemoMaxChars,
		SampleRows:       o.SampleRows,
		MaxTokens:        c.LLM.MaxTokens,
		LogLevel:         o.LogLevel,
		Retry:            retry.FromSettings(o, c.Retry),
	}
}

// applyDefaults fills unset numeric fields. Booleans and a zero MaxRetries
// are taken as given.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MaxGlobalRetries <= 0 {
		c.MaxGlobalRetries = d.MaxGlobalRetries
	}
	if c.TimeoutPerStep <= 0 {
		c.TimeoutPerStep = d.TimeoutPerStep
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = d.TotalTimeout
	}
	if c.QualityThreshold <= 0 || c.QualityThreshold > 1 {
		c.QualityThreshold = d.QualityThreshold
	}
	if c.MaxToolsPerTurn <= 0 {
		c.MaxToolsPerTurn = d.MaxToolsPerTurn
	}
	if c.MaxToolDepth <= 0 {
		c.MaxToolDepth = d.MaxToolDepth
	}
	if c.MemoMaxChars <= 0 {
		c.MemoMaxChars = d.MemoMaxChars
	}
	if c.SampleRows <= 0 {
		c.SampleRows = d.SampleRows
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	c.Retry.MaxRetries = c.MaxRetries
	c.Retry.AttemptTimeout = c.TimeoutPerStep
}
