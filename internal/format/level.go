package format

import (
	"log/slog"
	"strings"
)

// LevelFatal is the conventional slog level above Error used by many front-ends.
const LevelFatal = slog.LevelError + 4

// LevelName maps a slog level onto the six conventional severity names.
func LevelName(l slog.Level) string {
	switch {
	case l < slog.LevelDebug:
		return "TRACE"
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARN"
	case l < LevelFatal:
		return "ERROR"
	default:
		return "FATAL"
	}
}

var shortNames = map[string]string{
	"TRACE": "TRC",
	"DEBUG": "DBG",
	"INFO":  "INF",
	"WARN":  "WRN",
	"ERROR": "ERR",
	"FATAL": "FTL",
}

// formatLevel renders a level for the {Level:fmt} token:
// u3/w3 are three-letter upper/lower case, u/w the full name, anything else
// the slog rendering (e.g. "INFO+2").
func formatLevel(l slog.Level, spec string) string {
	switch spec {
	case "u3":
		return shortNames[LevelName(l)]
	case "w3":
		return strings.ToLower(shortNames[LevelName(l)])
	case "u":
		return LevelName(l)
	case "w":
		return strings.ToLower(LevelName(l))
	default:
		return l.String()
	}
}
