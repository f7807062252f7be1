package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf}).With(String("comp", "test"))

	log.Info("hello", Int("n", 3), Err(errors.New("boom")), Err(nil))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "info", line["level"])
	require.Equal(t, "hello", line["message"])
	require.Equal(t, "test", line["comp"])
	require.Equal(t, float64(3), line["n"])
	require.Equal(t, "boom", line["err"])
}

func TestSetLevelAppliesToDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	root := New(Config{Level: "warn", Format: "json", Output: &buf})
	child := root.With(String("comp", "child"))

	child.Info("dropped")
	require.Zero(t, buf.Len())

	root.SetLevel("debug")
	child.Debug("kept")
	require.True(t, strings.Contains(buf.String(), "kept"))
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	require.True(t, zero.IsZero())
	zero.Error("never written")

	nop := Nop()
	require.False(t, nop.IsZero())
	nop.Error("never written")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	require.Equal(t, "warn", ParseLevel("WARNING").String())
	require.Equal(t, "info", ParseLevel("bogus").String())
	require.Equal(t, "trace", ParseLevel(" trace ").String())
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	CronLogger(log).Error(errors.New("panic"), "job failed", "entry", 3)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "error", line["level"])
	require.Equal(t, "job failed", line["message"])
	require.Equal(t, float64(3), line["entry"])
	require.Equal(t, "panic", line["err"])
}
