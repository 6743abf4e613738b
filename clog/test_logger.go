package clog

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// TestLogger records every message (prefixed with its level) so tests can
// assert on what was logged.
type TestLogger struct {
	Messages []string

	mtx sync.Mutex
}

func (t *TestLogger) Debug(msg string, _ ...zap.Field) { t.append("DEBUG: " + msg) }

func (t *TestLogger) Info(msg string, _ ...zap.Field) { t.append("INFO: " + msg) }

func (t *TestLogger) Warn(msg string, _ ...zap.Field) { t.append("WARN: " + msg) }

func (t *TestLogger) Error(msg string, _ ...zap.Field) { t.append("ERROR: " + msg) }

func (t *TestLogger) Fatal(msg string, _ ...zap.Field) { t.append("FATAL: " + msg) }

func (t *TestLogger) With(_ ...zap.Field) ICustomLog { return t }

// Contains reports whether any recorded message contains substr.
func (t *TestLogger) Contains(substr string) bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	for _, m := range t.Messages {
		if strings.Contains(m, substr) {
			return true
		}
	}

	return false
}

func (t *TestLogger) append(msg string) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	t.Messages = append(t.Messages, msg)
}
