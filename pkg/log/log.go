package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance; a no-op until Init runs.
	Logger = zerolog.Nop()
)

// Config holds logging configuration
type Config struct {
	// Program is prepended to every diagnostic, matching the
	// "prog: message" convention of the C tools.
	Program string

	// Verbosity is the repeat count of -v on the command line.
	// 0 = info, 1 = debug, >=2 = trace. Quiet wins over Verbosity.
	Verbosity int
	Quiet     bool

	// JSONOutput selects machine-readable output with RFC3339
	// timestamps (scrun --log-format=json).
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	zerolog.SetGlobalLevel(levelFor(cfg))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSONOutput {
		zerolog.TimeFieldFormat = time.RFC3339
		Logger = zerolog.New(output).With().Timestamp().Str("prog", cfg.Program).Logger()
		return
	}

	console := zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
		NoColor:    true,
		PartsOrder: []string{zerolog.LevelFieldName, zerolog.MessageFieldName},
		FormatLevel: func(i interface{}) string {
			if s, ok := i.(string); ok && s != "info" {
				return cfg.Program + ": " + s + ":"
			}
			return cfg.Program + ":"
		},
	}
	Logger = zerolog.New(console).With().Logger()
}

func levelFor(cfg Config) zerolog.Level {
	if cfg.Quiet {
		return zerolog.WarnLevel
	}
	switch cfg.Verbosity {
	case 0:
		return zerolog.InfoLevel
	case 1:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithJobID creates a child logger with job_id field
func WithJobID(jobID uint32) zerolog.Logger {
	return Logger.With().Uint32("job_id", jobID).Logger()
}

// WithContainerID creates a child logger with container_id field
func WithContainerID(id string) zerolog.Logger {
	return Logger.With().Str("container_id", id).Logger()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
