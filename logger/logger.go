package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	colorRed     = 31
	colorGreen   = 32
	colorYellow  = 33
	colorMagenta = 35

	colorBold = 1
)

func colorize(s interface{}, c int) string {
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}

// New creates a logger for the given environment name, writing to stderr.
func New(env string) zerolog.Logger {
	return NewWithWriter(env, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(env string, w io.Writer) zerolog.Logger {
	switch strings.ToLower(env) {
	case "development", "dev", "":
		return NewDevelopment(w)
	}
	return NewProduction(w)
}

// NewDevelopment creates a console logger with colored level tags
func NewDevelopment(w io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "2006-01-02 15:04:05",
		FormatLevel: func(i interface{}) string {
			ll, ok := i.(string)
			if !ok {
				return strings.ToUpper(fmt.Sprintf("%3.3s", fmt.Sprint(i)))
			}
			switch ll {
			case "trace":
				return colorize("TRC", colorMagenta)
			case "debug":
				return colorize("DBG", colorYellow)
			case "info":
				return colorize("INF", colorGreen)
			case "warn":
				return colorize("WRN", colorRed)
			case "error":
				return colorize("ERR", colorRed)
			case "fatal":
				return colorize("FTL", colorRed)
			case "panic":
				return colorize("PNC", colorRed)
			}
			return colorize(strings.ToUpper(fmt.Sprintf("%3.3s", ll)), colorBold)
		},
	}
	return zerolog.New(output).With().Timestamp().Logger()
}

// NewProduction creates a JSON logger with UNIX timestamps
func NewProduction(w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(w).With().Timestamp().Logger()
}
