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
		if config.Format == DefaultFormat || config.Environment == "development" {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        output,
				TimeFormat: "15:04:05",
				PartsOrder: []string{
					zerolog.TimestampFieldName,
					zerolog.LevelFieldName,
					"module",
					zerolog.MessageFieldName,
				},
			})
		} else {
			writers = append(writers, output)
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zl := zerolog.New(writer).Level(toZerologLevel(config.Level)).With().Timestamp()
	if config.Subsystem != "" {
		zl = zl.Str("module", config.Subsystem)
	}

	return &ZerologLogger{
		logger:     zl.Logger(),
		config:     config,
		subsystem:  config.Subsystem,
		fileWriter: fileWriter,
	}
}

func toZerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case TraceLevel:
		return zerolog.TraceLevel
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case FatalLevel:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func (z *ZerologLogger) log(event *zerolog.Event, msg string, fields ...TypedField) {
	for _, field := range fields {
		event = field.apply(event)
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

// WithSubsystem returns a derived logger scoped to a named subsystem.
// Nested subsystems are joined with dots, e.g. "multitenant.sweeper".
func (z *ZerologLogger) WithSubsystem(name string) Logger {
	subsystem := name
	if z.subsystem != "" {
		subsystem = z.subsystem + "." + name
	}

	return &ZerologLogger{
		logger:     z.logger.With().Str("module", subsystem).Logger(),
		config:     z.config,
		subsystem:  subsystem,
		fileWriter: z.fileWriter,
	}
}

// WithFields returns a derived logger with fields attached to every event
func (z *ZerologLogger) WithFields(fields ...TypedField) Logger {
	ctx := z.logger.With()
	for _, field := range fields {
		switch f := field.(type) {
		case StringField:
			ctx = ctx.Str(f.Key, f.Value)
		case IntField:
			ctx = ctx.Int(f.Key, f.Value)
		case Int64Field:
			ctx = ctx.Int64(f.Key, f.Value)
		case BoolField:
			ctx = ctx.Bool(f.Key, f.Value)
		case DurationField:
			ctx = ctx.Dur(f.Key, f.Value)
		case TimeField:
			ctx = ctx.Time(f.Key, f.Value)
		case ErrorField:
			ctx = ctx.Err(f.Value)
		case AnyField:
			ctx = ctx.Interface(f.Key, f.Value)
		}
	}

	return &ZerologLogger{
		logger:     ctx.Logger(),
		config:     z.config,
		subsystem:  z.subsystem,
		fileWriter: z.fileWriter,
	}
}

func (z *ZerologLogger) IsLevelEnabled(level LogLevel) bool {
	return toZerologLevel(level) >= z.logger.GetLevel()
}

func (z *ZerologLogger) Close() error {
	if z.fileWriter != nil {
		return z.fileWriter.Close()
	}
	return nil
}
