package observability

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/breezeboot/breeze/pkg/contextkeys"
)

// NewLogger creates a JSON logger at the given level ("debug", "info", "warn",
// "error"). Unknown levels fall back to info.
func NewLogger(level string, output io.Writer) *logrus.Logger {
	if output == nil {
		output = os.Stdout
	}

	logger := logrus.New()
	logger.SetOutput(output)
	logger.SetLevel(ParseLevel(level))
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "message",
		},
	})
	return logger
}

// ParseLevel is logrus.ParseLevel with an info default
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "warning":
		return logrus.WarnLevel
	case "":
		return logrus.InfoLevel
	}
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return l
}

// LoggerFromContext returns the request-scoped logger stored by the request ID
// middleware, or base enriched with whatever request and trace identifiers the
// context carries.
func LoggerFromContext(ctx context.Context, base logrus.FieldLogger) logrus.FieldLogger {
	if l, ok := ctx.Value(contextkeys.LoggerKey).(logrus.FieldLogger); ok {
		return l
	}

	fields := logrus.Fields{}
	if id := contextkeys.GetRequestID(ctx); id != "" {
		fields["request_id"] = id
	}
	for k, v := range TraceFields(ctx) {
		fields[k] = v
	}
	if len(fields) == 0 {
		return base
	}
	return base.WithFields(fields)
}

// TraceFields returns trace_id and span_id for a recording span
func TraceFields(ctx context.Context) logrus.Fields {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	sc := span.SpanContext()
	return logrus.Fields{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	}
}
