package main

import (
	"bytes"
	"log/slog"
	"sync"
)

// lineLogger logs every complete line written to it. A trailing partial
// line waits for the rest, or for Flush.
type lineLogger struct {
	logger *slog.Logger

	mu  sync.Mutex
	buf []byte
}

func newLineLogger(logger *slog.Logger) *lineLogger {
	return &lineLogger{logger: logger}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(l.buf[:i], "\r")
		if len(line) > 0 {
			l.logger.Info(string(line))
		}
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}

// Flush logs a trailing line that never got its newline
func (l *lineLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := bytes.TrimRight(l.buf, "\r")
	if len(line) > 0 {
		l.logger.Info(string(line))
	}
	l.buf = nil
}
