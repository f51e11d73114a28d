package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Zerolog field implementations
func (f StringField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Str(f.Key, f.Value)
}

func (f IntField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Int(f.Key, f.Value)
}

func (f Int64Field) apply(event *zerolog.Event) *zerolog.Event {
	return event.Int64(f.Key, f.Value)
}

func (f BoolField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Bool(f.Key, f.Value)
}

func (f DurationField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Dur(f.Key, f.Value)
}

func (f TimeField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Time(f.Key, f.Value)
}

func (f ErrorField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Err(f.Value)
}

func (f AnyField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Interface(f.Key, f.Value)
}

// ZerologLogger implements Logger using zerolog
type ZerologLogger struct {
	logger     zerolog.Logger
	config     *Config
	subsystem  string
	fileWriter *lumberjack.Logger
}

// NewZerologLogger creates a new ZerologLogger
func NewZerologLogger(config *Config) Logger {
	if config == nil {
		config = DefaultConfig()
	}

	var zerologLevel zerolog.Level
	switch config.Level {
	case TraceLevel:
		zerologLevel = zerolog.TraceLevel
	case DebugLevel:
		zerologLevel = zerolog.DebugLevel
	case InfoLevel:
		zerologLevel = zerolog.InfoLevel
	case WarnLevel:
		zerologLevel = zerolog.WarnLevel
	case ErrorLevel:
		zerologLevel = zerolog.ErrorLevel
	case FatalLevel:
		zerologLevel = zerolog.FatalLevel
	default:
		zerologLevel = zerolog.InfoLevel
	}

	var writers []io.Writer
	var fileWriter *lumberjack.Logger

	if config.FileConfig != nil {
		if err := os.MkdirAll(filepath.Dir(config.FileConfig.Filename), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		} else {
			fileWriter = &lumberjack.Logger{
				Filename:   config.FileConfig.Filename,
				MaxSize:    config.FileConfig.MaxSize,
				MaxAge:     config.FileConfig.MaxAge,
				MaxBackups: config.FileConfig.MaxBackups,
				Compress:   config.FileConfig.Compress,
				LocalTime:  true,
			}
			writers = append(writers, fileWriter)
		}
	}

	for _, output := range config.Outputs {
		if config.Format == ConsoleFormat {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        output,
				TimeFormat: "15:04:05",
			})
		} else {
			writers = append(writers, output)
		}
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerologLevel).
		With().Timestamp().Logger()

	if config.Subsystem != "" {
		zl = zl.With().Str("subsystem", config.Subsystem).Logger()
	}

	return &ZerologLogger{
		logger:     zl,
		config:     config,
		subsystem:  config.Subsystem,
		fileWriter: fileWriter,
	}
}

func (z *ZerologLogger) log(event *zerolog.Event, msg string, fields ...TypedField) {
	for _, f := range fields {
		event = f.apply(event)
	}
	event.Msg(msg)
}

func (z *ZerologLogger) Trace(msg string, fields ...TypedField) {
	z.log(z.logger.Trace(), msg, fields...)
}

func (z *ZerologLogger) Debug(msg string, fields ...TypedField) {
	z.log(z.logger.Debug(), msg, fields...)
}

func (z *ZerologLogger) Info(msg string, fields ...TypedField) {
	z.log(z.logger.Info(), msg, fields...)
}

func (z *ZerologLogger) Warn(msg string, fields ...TypedField) {
	z.log(z.logger.Warn(), msg, fields...)
}

func (z *ZerologLogger) Error(msg string, fields ...TypedField) {
	z.log(z.logger.Error(), msg, fields...)
}

func (z *ZerologLogger) Fatal(msg string, fields ...TypedField) {
	z.log(z.logger.Fatal(), msg, fields...)
}

// WithSubsystem returns a child logger tagged with the given subsystem name
func (z *ZerologLogger) WithSubsystem(name string) Logger {
	sub := name
	if z.subsystem != "" {
		sub = z.subsystem + "." + name
	}
	return &ZerologLogger{
		logger:     z.logger.With().Str("subsystem", sub).Logger(),
		config:     z.config,
		subsystem:  sub,
		fileWriter: z.fileWriter,
	}
}

// WithFields returns a child logger that includes the given fields on every event
func (z *ZerologLogger) WithFields(fields ...TypedField) Logger {
	ctx := z.logger.With()
	for _, f := range fields {
		switch fv := f.(type) {
		case StringField:
			ctx = ctx.Str(fv.Key, fv.Value)
		case IntField:
			ctx = ctx.Int(fv.Key, fv.Value)
		case Int64Field:
			ctx = ctx.Int64(fv.Key, fv.Value)
		case BoolField:
			ctx = ctx.Bool(fv.Key, fv.Value)
		case DurationField:
			ctx = ctx.Dur(fv.Key, fv.Value)
		case TimeField:
			ctx = ctx.Time(fv.Key, fv.Value)
		case ErrorField:
			ctx = ctx.Err(fv.Value)
		case AnyField:
			ctx = ctx.Interface(fv.Key, fv.Value)
		}
	}
	return &ZerologLogger{
		logger:     ctx.Logger(),
		config:     z.config,
		subsystem:  z.subsystem,
		fileWriter: z.fileWriter,
	}
}

// IsLevelEnabled reports whether the given level would be emitted
func (z *ZerologLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= z.config.Level
}

// Close flushes and closes the file writer, if any
func (z *ZerologLogger) Close() error {
	if z.fileWriter != nil {
		return z.fileWriter.Close()
	}
	return nil
}
