// Package obslog provides structured logging with trace-id propagation,
// adapted from the teacher's infrastructure/logging package.
package obslog

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey namespaces values stashed on a context.Context.
type ContextKey string

const (
	TraceIDKey ContextKey = "trace_id"
	CallerKey  ContextKey = "caller_id"
)

// redactedFields never leave the process in a log line; masked by name, not
// by content, grounded on the teacher's redaction BlockedPatterns idiom.
var redactedFields = []string{
	"client_secret", "password", "bearer", "authorization", "token",
	"access_token", "refresh_token", "account_number",
}

// Logger wraps logrus.Logger with the gateway's service identity and field
// redaction.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a Logger for the given service name, level ("debug", "info",
// ...) and format ("json" or "text").
func New(service, level, format string) *Logger {
	l := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if format == "text" {
		l.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l, service: service}
}

// NewFromEnv reads LOG_LEVEL/LOG_FORMAT, defaulting to info/json.
func NewFromEnv(service string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

func isRedacted(name string) bool {
	lower := strings.ToLower(name)
	for _, blocked := range redactedFields {
		if strings.Contains(lower, blocked) {
			return true
		}
	}
	return false
}

func sanitize(fields map[string]interface{}) logrus.Fields {
	out := make(logrus.Fields, len(fields)+1)
	for k, v := range fields {
		if isRedacted(k) {
			out[k] = "***REDACTED***"
			continue
		}
		out[k] = v
	}
	return out
}

// WithContext seeds an entry with the service name and any trace/caller id
// carried on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if callerID := ctx.Value(CallerKey); callerID != nil {
		entry = entry.WithField("caller_id", callerID)
	}
	return entry
}

// WithFields seeds an entry with redacted custom fields.
func (l *Logger) WithFields(ctx context.Context, fields map[string]interface{}) *logrus.Entry {
	return l.WithContext(ctx).WithFields(sanitize(fields))
}

// NewTraceID mints a fresh trace id.
func NewTraceID() string { return uuid.NewString() }

// WithTraceID attaches a trace id to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// TraceID reads the trace id from ctx, or "" if absent.
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

// WithCaller attaches a caller id to ctx.
func WithCaller(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, CallerKey, callerID)
}

// LogUpstreamCall records a single provider call outcome, mirroring the
// teacher's LogServiceCall helper.
func (l *Logger) LogUpstreamCall(ctx context.Context, provider, operation string, duration time.Duration, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"provider":    provider,
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("upstream call failed")
		return
	}
	entry.Info("upstream call succeeded")
}

// LogBreakerTransition records a circuit breaker state change.
func (l *Logger) LogBreakerTransition(ctx context.Context, provider, from, to string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"provider":   provider,
		"from_state": from,
		"to_state":   to,
	}).Warn("circuit breaker state changed")
}

// LogAudit mirrors the teacher's LogAudit convenience helper.
func (l *Logger) LogAudit(ctx context.Context, tool, operation, result string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"tool":      tool,
		"operation": operation,
		"result":    result,
		"audit":     true,
	}).Info("audit")
}

// LogJobRun records an ingestion job's outcome.
func (l *Logger) LogJobRun(ctx context.Context, job, status string, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"job":         job,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	if status == "failed" {
		entry.Warn("ingestion job failed")
		return
	}
	entry.Info("ingestion job completed")
}
