package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func memoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "error")
}

func TestConvert_Text(t *testing.T) {
	out, err := execute(t, "convert", "--time", "08:00", "--tz", "Asia/Jakarta")
	require.NoError(t, err)
	assert.Equal(t, "08:00 Asia/Jakarta (UTC+7) -> 01:00 UTC\n", out)
}

func TestConvert_JSONWrapsMidnight(t *testing.T) {
	out, err := execute(t, "convert", "--time", "05:15", "--tz", "Asia/Tokyo", "--json")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.EqualValues(t, 20, got["utcHour"])
	assert.EqualValues(t, 15, got["utcMinute"])
	assert.EqualValues(t, 9, got["offsetHours"])
	assert.Equal(t, true, got["knownTimezone"])
}

func TestConvert_UnknownZoneUsesDefault(t *testing.T) {
	out, err := execute(t, "convert", "--time", "08:00", "--tz", "Mars/Olympus")
	require.NoError(t, err)
	assert.Contains(t, out, "-> 01:00 UTC")
	assert.Contains(t, out, "unknown zone")
}

func TestConvert_InvalidTime(t *testing.T) {
	_, err := execute(t, "convert", "--time", "25:00")
	require.Error(t, err)

	_, err = execute(t, "convert")
	require.Error(t, err, "--time is required")
}

func TestNext_FromReference(t *testing.T) {
	out, err := execute(t, "next", "--cron", "0 * * * *", "--from", "2025-03-10T01:15:00Z", "-n", "3", "--json")
	require.NoError(t, err)

	var ticks []time.Time
	require.NoError(t, json.Unmarshal([]byte(out), &ticks))
	require.Len(t, ticks, 3)
	for i, want := range []int{2, 3, 4} {
		assert.Equal(t, want, ticks[i].UTC().Hour())
		assert.Zero(t, ticks[i].Minute())
	}
}

func TestNext_RejectsBadInput(t *testing.T) {
	_, err := execute(t, "next", "--cron", "every hour")
	require.Error(t, err)

	_, err = execute(t, "next", "--count", "0")
	require.Error(t, err)

	_, err = execute(t, "next", "--from", "yesterday")
	require.Error(t, err)
}

func TestTimezones_JSON(t *testing.T) {
	out, err := execute(t, "timezones", "--json")
	require.NoError(t, err)

	var zones []struct {
		Name   string `json:"name"`
		Offset int    `json:"offsetHours"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &zones))
	got := map[string]int{}
	for _, z := range zones {
		got[z.Name] = z.Offset
	}
	assert.Equal(t, 7, got["Asia/Jakarta"])
	assert.Equal(t, -5, got["America/New_York"])
	assert.Equal(t, 0, got["UTC"])
}

func TestRun_EmptyMemoryStore(t *testing.T) {
	memoryEnv(t)

	out, err := execute(t, "run", "--hour", "1", "--json")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.EqualValues(t, 1, got["utcHour"])
	assert.EqualValues(t, 0, got["successCount"])
	assert.EqualValues(t, 0, got["failedCount"])
}

func TestRun_HourOutOfRange(t *testing.T) {
	memoryEnv(t)

	_, err := execute(t, "run", "--hour", "24")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[0,23]")
}

func TestTrigger_UnknownUser(t *testing.T) {
	memoryEnv(t)

	_, err := execute(t, "trigger", "--user", "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no digest settings for user "ghost"`)

	_, err = execute(t, "trigger")
	require.Error(t, err, "--user is required")
}

func TestPurge_MemoryStore(t *testing.T) {
	memoryEnv(t)

	out, err := execute(t, "purge")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "purged 0 "), out)
}

func TestRun_BadConfig(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "redis")

	_, err := execute(t, "run", "--hour", "3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config")
}
