package vault

import (
	"fmt"
	"strings"
)

// LogLevel is the server's -log-level value.
type LogLevel string

const (
	LogTrace LogLevel = "trace"
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "err"
)

// ParseLogLevel accepts the server spellings plus "warning" and "error".
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LogTrace, nil
	case "debug":
		return LogDebug, nil
	case "", "info":
		return LogInfo, nil
	case "warn", "warning":
		return LogWarn, nil
	case "err", "error":
		return LogError, nil
	default:
		return "", fmt.Errorf("unknown vault log level %q", s)
	}
}

// String implements fmt.Stringer.
func (l LogLevel) String() string {
	return string(l)
}
