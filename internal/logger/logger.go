// Package logger configures the process-wide logrus logger.
package logger

import (
    "io"
    "os"
    "time"

    log "github.com/sirupsen/logrus"
    "gopkg.in/natefinch/lumberjack.v2"
)

// Setup points logrus at stdout and, when file is set, at a rotating log
// file as well. Unknown levels fall back to info.
func Setup(level, file string) io.Closer {
    var out io.Writer = os.Stdout
    var closer io.Closer = nopCloser{}
    if file != "" {
        rotator := &lumberjack.Logger{
            Filename:   file,
            MaxSize:    10, // megabytes
            MaxBackups: 7,
            MaxAge:     7, // days
            Compress:   true,
        }
        out = io.MultiWriter(os.Stdout, rotator)
        closer = rotator
    }
    log.SetOutput(out)
    log.SetFormatter(&log.TextFormatter{
        FullTimestamp:   true,
        TimestampFormat: time.RFC3339,
    })
    lvl, err := log.ParseLevel(level)
    if err != nil {
        lvl = log.InfoLevel
    }
    log.SetLevel(lvl)
    if err != nil && level != "" {
        log.WithField("level", level).Warn("unknown LOG_LEVEL, using info")
    }
    return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
