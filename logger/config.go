package logger

import (
	"io"
	"os"
)

// FileConfig configures rotated file output for production logging.
type FileConfig struct {
	Filename   string
	MaxSize    int // megabytes
	MaxAge     int // days
	MaxBackups int
	Compress   bool
}

// Config holds the configuration for the logger
type Config struct {
	Level      LogLevel
	Format     OutputFormat
	Outputs    []io.Writer
	Subsystem  string
	FileConfig *FileConfig
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:   TraceLevel,
		Format:  ConsoleFormat,
		Outputs: []io.Writer{os.Stdout},
	}
}

// ProductionConfig returns a production-ready configuration with file logging
func ProductionConfig(appName string) *Config {
	return &Config{
		Level:  InfoLevel,
		Format: JSONFormat,
		FileConfig: &FileConfig{
			Filename:   "logs/" + appName + ".log",
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 10,
			Compress:   true,
		},
	}
}
