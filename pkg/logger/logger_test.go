package logger_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kennylajara/news/pkg/logger"
	"github.com/kennylajara/news/pkg/logger/console"
)

type recorder struct{ lines []string }

func (r *recorder) Log(m string, _ ...any)   { r.lines = append(r.lines, "log:"+m) }
func (r *recorder) Debug(m string, _ ...any) { r.lines = append(r.lines, "debug:"+m) }
func (r *recorder) Info(m string, _ ...any)  { r.lines = append(r.lines, "info:"+m) }
func (r *recorder) Warn(m string, _ ...any)  { r.lines = append(r.lines, "warn:"+m) }
func (r *recorder) Error(m string, _ ...any) { r.lines = append(r.lines, "error:"+m) }
func (r *recorder) Fatal(m string, _ ...any) { r.lines = append(r.lines, "fatal:"+m) }

func TestDispatchesToEveryBackend(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	logger.Init(a, b)
	t.Cleanup(func() { logger.Init() })

	logger.Info("one")
	logger.Warn("two", "k", 1)
	logger.Debug("three")

	want := []string{"info:one", "warn:two", "debug:three"}
	assert.Equal(t, want, a.lines)
	assert.Equal(t, want, b.lines)
}

func TestConsoleLevels(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{Output: &buf}))
	t.Cleanup(func() { logger.Init() })

	logger.Debug("[Test] hidden")
	logger.Warn("[Test] Alias with invalid references", "entity", 42)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "Alias with invalid references")
	assert.Contains(t, out, "entity=42")

	buf.Reset()
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{Output: &buf, Debug: true}))
	logger.Debug("[Test] shown")
	assert.Contains(t, buf.String(), "shown")
}
