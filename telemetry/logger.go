// Package telemetry provides concrete core.Logger and core.Telemetry
// implementations, grounded in the framework's layered-observability logging
// pattern (structured JSON or human-readable text, one sink, optional metrics
// correlation) and its OpenTelemetry-backed span/metric provider.
package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/itsneelabh/agentcore/core"
)

// LogFormat selects the on-the-wire shape of each log line.
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// StructuredLogger is a component-tagged, level-filtered logger writing
// either JSON lines (for log aggregation) or human-readable text (for local
// development) to a single io.Writer.
type StructuredLogger struct {
	serviceName string
	component   string
	format      LogFormat
	debug       bool
	output      io.Writer
}

// NewStructuredLogger constructs a logger for serviceName. debug enables
// Debug-level output; format chooses JSON or text framing.
func NewStructuredLogger(serviceName string, format LogFormat, debug bool) *StructuredLogger {
	return &StructuredLogger{
		serviceName: serviceName,
		format:      format,
		debug:       debug,
		output:      os.Stdout,
	}
}

// WithComponent returns a logger tagging every line with component, sharing
// the same sink and settings (core.ComponentAwareLogger).
func (l *StructuredLogger) WithComponent(component string) core.Logger {
	clone := *l
	clone.component = component
	return &clone
}

func (l *StructuredLogger) Info(msg string, fields map[string]interface{}) {
	l.logEvent("INFO", msg, fields)
}

func (l *StructuredLogger) Warn(msg string, fields map[string]interface{}) {
	l.logEvent("WARN", msg, fields)
}

func (l *StructuredLogger) Error(msg string, fields map[string]interface{}) {
	l.logEvent("ERROR", msg, fields)
}

func (l *StructuredLogger) Debug(msg string, fields map[string]interface{}) {
	if l.debug {
		l.logEvent("DEBUG", msg, fields)
	}
}

func (l *StructuredLogger) logEvent(level, msg string, fields map[string]interface{}) {
	timestamp := time.Now().Format(time.RFC3339)

	if l.format == FormatJSON {
		entry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   l.serviceName,
			"message":   msg,
		}
		if l.component != "" {
			entry["component"] = l.component
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(l.output, string(data))
		}
		return
	}

	var b strings.Builder
	if len(fields) > 0 {
		b.WriteString(" ")
		for k, v := range fields {
			fmt.Fprintf(&b, "%s=%v ", k, v)
		}
	}
	component := l.component
	if component == "" {
		component = l.serviceName
	}
	fmt.Fprintf(l.output, "%s [%s] [%s] %s%s\n", timestamp, level, component, msg, b.String())
}

var _ core.ComponentAwareLogger = (*StructuredLogger)(nil)
