package util

import (
	"context"
	"fmt"
	"strings"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/clog"
)

type contextKey string

// LoggerKey is the context key under which a request/item scoped logger is
// stored (see MethodSetup).
const LoggerKey contextKey = "logger"

// Error is a helper log func that will log an error to NewRelic and to a custom
// logger. All fields can be nil.
//
// Examples:
//
// Error(nil, nil, "", nil) -- will return nil
// Error(txn, nil, "foo", nil) -- will notice errors.New("foo")
// Error(txn, logger, "foo", errors.New("bar")) -- will log "Foo: bar" to logger and NR + return "foo: bar"
func Error(txn *newrelic.Transaction, log clog.ICustomLog, msg string, err error, fields ...zap.Field) error {
	if err == nil && msg == "" {
		return nil
	} else if err != nil && msg != "" {
		err = errors.Wrap(err, msg)
	} else if err == nil && msg != "" {
		err = errors.New(msg)
	}

	if txn != nil {
		txn.NoticeError(err)
	}

	if log != nil {
		log.Error(CapitalizeFirstChar(err.Error()), fields...)
	}

	return err
}

func CapitalizeFirstChar(s string) string {
	if len(s) == 0 {
		return s
	}

	return strings.ToUpper(string(s[0])) + s[1:]
}

// ContextWithLogger returns a copy of ctx carrying logger; picked up by MethodSetup.
func ContextWithLogger(ctx context.Context, logger clog.ICustomLog) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, LoggerKey, logger)
}

// MethodSetup extracts a NewRelic txn and a logger from ctx. It ensures every
// method has a logger that carries item-level fields (input, batch, etc.)
// when they were attached upstream.
//
// If the context does not contain a logger, the fallback logger is used; if
// there is no fallback either, a basic logger is created and a noisy warning
// is printed.
func MethodSetup(ctx context.Context, fallbackLogger clog.ICustomLog, fields ...zap.Field) (*newrelic.Transaction, clog.ICustomLog) {
	// nil *Transaction is safe to call methods on
	txn := newrelic.FromContext(ctx)

	if ctx == nil {
		if fallbackLogger == nil {
			fmt.Println("WARNING: CTX IS NIL AND NO FALLBACK LOGGER PROVIDED, RETURNING BASIC LOGGER")
			return txn, clog.NewBasic(fields...)
		}

		return txn, fallbackLogger.With(fields...)
	}

	logger, ok := ctx.Value(LoggerKey).(clog.ICustomLog)
	if !ok {
		if fallbackLogger != nil {
			logger = fallbackLogger
		} else {
			fmt.Println("WARNING: NO LOGGER FOUND IN CTX AND NO FALLBACK LOGGER PROVIDED")
			logger = clog.NewBasic()
		}
	}

	if len(fields) > 0 {
		logger = logger.With(fields...)
	}

	return txn, logger
}
