package logsink

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_DropsOldest(t *testing.T) {
	ring := NewRing(3, nil)
	for i := 0; i < 5; i++ {
		ring.Append(Entry{Message: fmt.Sprintf("m%d", i)})
	}

	got := ring.Recent()
	require.Len(t, got, 3)
	assert.Equal(t, "m2", got[0].Message)
	assert.Equal(t, "m4", got[2].Message)
}

func TestRing_Trim(t *testing.T) {
	ring := NewRing(10, nil)
	for i := 0; i < 6; i++ {
		ring.Append(Entry{Message: fmt.Sprintf("m%d", i)})
	}

	ring.Trim(2)
	got := ring.Recent()
	require.Len(t, got, 2)
	assert.Equal(t, "m4", got[0].Message)
	assert.Equal(t, "m5", got[1].Message)

	ring.Trim(0)
	assert.Equal(t, 0, ring.Len())
}

func TestRing_RecentIsSnapshot(t *testing.T) {
	ring := NewRing(5, nil)
	ring.Append(Entry{Message: "first"})

	snap := ring.Recent()
	ring.Append(Entry{Message: "second"})

	assert.Len(t, snap, 1)
	assert.Equal(t, 2, ring.Len())
}

func TestSetupLogger_FansOut(t *testing.T) {
	var buf bytes.Buffer
	ring := NewRing(10, slog.LevelInfo)
	logger := SetupLogger(&buf, ring, slog.LevelInfo)

	logger.With(AgentKey, "rahul").Info("joined room", TagKey, "SUCCESS", "room", "testroom")
	logger.Debug("not captured")

	assert.Contains(t, buf.String(), "joined room")

	entries := ring.Recent()
	require.Len(t, entries, 1)
	assert.Equal(t, "rahul", entries[0].Agent)
	assert.Equal(t, "SUCCESS", entries[0].Tag)
	assert.Equal(t, "joined room room=testroom", entries[0].Message)
}

func TestRing_DefaultTagIsLevel(t *testing.T) {
	ring := NewRing(10, slog.LevelDebug)
	logger := slog.New(ring)

	logger.Warn("socket closed")

	entries := ring.Recent()
	require.Len(t, entries, 1)
	assert.Equal(t, "WARN", entries[0].Tag)
	assert.Empty(t, entries[0].Agent)
}

func TestEntry_String(t *testing.T) {
	e := Entry{
		Time:    time.Date(2024, 1, 1, 13, 4, 5, 0, time.UTC),
		Tag:     "CHAT",
		Agent:   "priya",
		Message: "kya scene",
	}
	assert.Equal(t, "[13:04:05] [CHAT] priya: kya scene", e.String())
	assert.True(t, strings.HasPrefix(Entry{Tag: "INFO", Message: "x"}.String(), "["))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}
