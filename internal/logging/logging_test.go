package logging

import (
	"testing"

	pionlog "github.com/pion/logging"
	"github.com/pterm/pterm"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]pterm.LogLevel{
		"debug":   pterm.LogLevelDebug,
		" DEV ":   pterm.LogLevelDebug,
		"warning": pterm.LogLevelWarn,
		"prod":    pterm.LogLevelError,
		"":        pterm.LogLevelInfo,
		"bogus":   pterm.LogLevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPionFactoryFollowsLevel(t *testing.T) {
	defer Init("info")

	Init("debug")
	f, ok := PionFactory().(*pionlog.DefaultLoggerFactory)
	if !ok {
		t.Fatal("expected *DefaultLoggerFactory")
	}
	if f.DefaultLogLevel != pionlog.LogLevelInfo {
		t.Errorf("expected pion info level under debug, got %v", f.DefaultLogLevel)
	}

	Init("info")
	f = PionFactory().(*pionlog.DefaultLoggerFactory)
	if f.DefaultLogLevel != pionlog.LogLevelWarn {
		t.Errorf("expected pion warn level under info, got %v", f.DefaultLogLevel)
	}
}
