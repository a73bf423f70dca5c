package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func restoreGlobal(t *testing.T) {
	t.Helper()
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})
}

func TestApplyConsoleWithoutTimestamp(t *testing.T) {
	restoreGlobal(t)
	var buf bytes.Buffer
	Apply(Config{Level: zerolog.DebugLevel, NoColor: true, Out: &buf})
	log.Info().Str("k", "v").Msg("hello")

	line := strings.TrimSpace(buf.String())
	if strings.HasPrefix(line, "<nil>") {
		t.Fatalf("console line carries an empty timestamp: %q", line)
	}
	if !strings.HasPrefix(line, "INF hello") || !strings.Contains(line, "k=v") {
		t.Fatalf("unexpected console line: %q", line)
	}
}

func TestApplyConsoleWithTimestamp(t *testing.T) {
	restoreGlobal(t)
	var buf bytes.Buffer
	Apply(Config{Level: zerolog.DebugLevel, NoColor: true, Timestamp: true, Out: &buf})
	log.Info().Msg("hello")

	line := strings.TrimSpace(buf.String())
	if strings.HasPrefix(line, "<nil>") || strings.HasPrefix(line, "INF") {
		t.Fatalf("expected a leading timestamp, got %q", line)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{raw: "", want: zerolog.InfoLevel, ok: false},
		{raw: " Debug ", want: zerolog.DebugLevel, ok: true},
		{raw: "warning", want: zerolog.WarnLevel, ok: true},
		{raw: "off", want: zerolog.Disabled, ok: true},
		{raw: "loud", want: zerolog.InfoLevel, ok: false},
	}
	for _, tc := range tests {
		got, ok := ParseLevel(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseLevel(%q) = %v,%v want %v,%v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}
