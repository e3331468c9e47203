package logging

import (
	"reflect"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger whose entries can be inspected.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger records every entry at TraceLevel and above.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core)},
		observed: observed,
	}
}

// All returns all logged entries.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns entries whose message contains msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessageSnippet(msg)
}

// Reset drops everything recorded so far.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

// AssertLogged fails tb unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	for _, entry := range t.observed.All() {
		if entry.Level == level && strings.Contains(entry.Message, msg) {
			return
		}
	}
	tb.Errorf("expected log at %v containing %q, logs: %+v", level, msg, t.observed.All())
}

// AssertNotLogged fails tb if an entry at level contains msg.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	for _, entry := range t.observed.All() {
		if entry.Level == level && strings.Contains(entry.Message, msg) {
			tb.Errorf("unexpected log at %v containing %q", level, msg)
		}
	}
}

// AssertField fails tb unless an entry containing msg carries key=expected.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected interface{}) {
	tb.Helper()
	for _, entry := range t.observed.FilterMessageSnippet(msg).All() {
		if v, ok := entry.ContextMap()[key]; ok && reflect.DeepEqual(v, expected) {
			return
		}
	}
	tb.Errorf("field %q=%v not found in message %q", key, expected, msg)
}

var (
	sensitiveKeys     = []string{"password", "secret", "token", "api_key", "authorization", "credential"}
	sensitivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)bearer\s+\S+`),
		regexp.MustCompile(`(?i)api[_-]?key[=:]\s*\S+`),
		regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{8,}`),
	}
)

// AssertNoSecrets fails tb if a message matches a secret pattern or a
// sensitive string field was logged unredacted.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	for _, entry := range t.observed.All() {
		for _, re := range sensitivePatterns {
			if re.MatchString(entry.Message) {
				tb.Errorf("sensitive pattern in message: %q", entry.Message)
			}
		}
		for _, field := range entry.Context {
			if field.Type != zapcore.StringType || field.String == "" {
				continue
			}
			key := strings.ToLower(field.Key)
			for _, sensitive := range sensitiveKeys {
				if strings.Contains(key, sensitive) && !strings.HasPrefix(field.String, "[REDACTED") {
					tb.Errorf("sensitive field %q not redacted", field.Key)
				}
			}
			for _, re := range sensitivePatterns {
				if re.MatchString(field.String) {
					tb.Errorf("sensitive pattern in field %q", field.Key)
				}
			}
		}
	}
}
