// Package logger builds the logrus logger shared by the binaries, with
// optional rotation of a log file through lumberjack.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// TimestampFormat is used by the text formatter: yy-mm-dd HH:MM:ss.
const TimestampFormat = "06-01-02 15:04:05"

// Config describes the logger.
type Config struct {
	Level      string // debug, info, warn, error; unknown values mean info
	OutputFile string // optional; empty logs to Output only
	MaxSize    int    // megabytes before the file is rotated
	MaxBackups int    // rotated files to keep
	MaxAge     int    // days to keep rotated files
	Compress   bool   // gzip rotated files

	// Output is the console writer. Defaults to os.Stderr.
	Output io.Writer
}

// New builds a logger from cfg. The returned closer flushes and closes the
// log file, if any.
func New(cfg Config) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: TimestampFormat,
	})

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0755); err != nil {
			return nil, nil, errors.Wrap(err, "create log directory")
		}
		file := &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(out, file)
		closer = file
	}
	log.SetOutput(out)
	return log, closer, nil
}

// Install makes log's level, formatter and output the defaults of the
// standard logrus logger, so package-level logrus.WithField entries
// created before or after this call follow the same configuration.
func Install(log *logrus.Logger) {
	std := logrus.StandardLogger()
	std.SetLevel(log.GetLevel())
	std.SetFormatter(log.Formatter)
	std.SetOutput(log.Out)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
