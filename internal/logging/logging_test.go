package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestSetup_JSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)
	var buf bytes.Buffer
	if err := Setup("warn", "json", &buf); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	log.Info().Msg("hidden")
	log.Warn().Str("channel", "tw").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"channel":"tw"`) {
		t.Errorf("output = %q, want structured channel field", out)
	}
}

func TestSetup_EmptyLevelDefaultsToInfo(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)
	var buf bytes.Buffer
	if err := Setup("", "", &buf); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("level = %v, want info", zerolog.GlobalLevel())
	}
}

func TestSetup_Errors(t *testing.T) {
	if err := Setup("loud", "json", nil); err == nil {
		t.Error("expected error for bad level")
	}
	if err := Setup("info", "xml", nil); err == nil {
		t.Error("expected error for bad format")
	}
}
