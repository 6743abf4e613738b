// Package clog is a thin wrapper around zap.Logger that keeps "top-level"
// fields (env, pkg, method, ...) attached to a logger across With() calls.
//
// NR's zap integration only includes attributes that are present on the
// logger at the time of the log call, so fields are stored on the wrapper and
// re-applied on every call.
package clog

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ICustomLog interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Fatal(msg string, fields ...zap.Field)
	With(fields ...zap.Field) ICustomLog
}

type CustomLog struct {
	fields    map[string]zap.Field
	fieldsMtx *sync.Mutex
	logger    *zap.Logger
}

func New(logger *zap.Logger, fields ...zap.Field) ICustomLog {
	if logger == nil {
		logger = zap.NewNop()
	}

	mtx := &sync.Mutex{}

	return &CustomLog{
		logger:    logger,
		fieldsMtx: mtx,
		fields:    updateMap(mtx, make(map[string]zap.Field), fields...),
	}
}

// NewBasic returns a development console logger; used when no logger was
// wired in (one-off tools, tests that want output).
func NewBasic(fields ...zap.Field) ICustomLog {
	zc := zap.NewDevelopmentConfig()
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	logger, err := zc.Build()
	if err != nil {
		logger = zap.NewNop()
	}

	return New(logger, fields...)
}

// NewNoop returns a logger that discards everything.
func NewNoop() ICustomLog {
	return New(zap.NewNop())
}

func (c *CustomLog) Debug(msg string, fields ...zap.Field) {
	c.logger.Debug(msg, c.merge(fields)...)
}

func (c *CustomLog) Info(msg string, fields ...zap.Field) {
	c.logger.Info(msg, c.merge(fields)...)
}

func (c *CustomLog) Warn(msg string, fields ...zap.Field) {
	c.logger.Warn(msg, c.merge(fields)...)
}

func (c *CustomLog) Error(msg string, fields ...zap.Field) {
	c.logger.Error(msg, c.merge(fields)...)
}

func (c *CustomLog) Fatal(msg string, fields ...zap.Field) {
	c.logger.Fatal(msg, c.merge(fields)...)
}

func (c *CustomLog) With(fields ...zap.Field) ICustomLog {
	newFields := make(map[string]zap.Field)

	c.fieldsMtx.Lock()
	for k, v := range c.fields {
		newFields[k] = v
	}
	c.fieldsMtx.Unlock()

	return New(c.logger, mapToFields(nil, updateMap(nil, newFields, fields...))...)
}

func (c *CustomLog) merge(fields []zap.Field) []zap.Field {
	return append(mapToFields(c.fieldsMtx, c.fields), fields...)
}

func updateMap(mtx *sync.Mutex, m map[string]zap.Field, f ...zap.Field) map[string]zap.Field {
	if mtx != nil {
		mtx.Lock()
		defer mtx.Unlock()
	}

	for _, field := range f {
		m[field.Key] = field
	}

	return m
}

func mapToFields(mtx *sync.Mutex, m map[string]zap.Field) []zap.Field {
	if mtx != nil {
		mtx.Lock()
		defer mtx.Unlock()
	}

	fields := make([]zap.Field, 0, len(m))

	for _, field := range m {
		fields = append(fields, field)
	}

	return fields
}
