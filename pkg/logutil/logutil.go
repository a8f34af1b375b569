package logutil

import (
	"fmt"
	"os"
	"strings"

	log "github.com/charmbracelet/log"
)

// Configure sets the process-wide log level. The empty string means "info".
func Configure(levelRaw string) error {
	levelRaw = strings.TrimSpace(levelRaw)
	if levelRaw == "" {
		levelRaw = "info"
	}
	level, err := parseConfiguredLevel(levelRaw)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	return nil
}

func parseConfiguredLevel(levelRaw string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelRaw)) {
	case "trace":
		// The logger has no native trace enum; map trace to most verbose mode.
		return log.DebugLevel, nil
	default:
		level, err := log.ParseLevel(levelRaw)
		if err != nil {
			return 0, fmt.Errorf("invalid loglevel %q", levelRaw)
		}
		return level, nil
	}
}
