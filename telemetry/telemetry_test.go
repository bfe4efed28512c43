package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestStructuredLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewStructuredLogger("agentcore", FormatJSON, true)
	l.output = &buf

	l.Info("hello", map[string]interface{}{"tenant": "t1"})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "hello" || entry["tenant"] != "t1" || entry["level"] != "INFO" {
		t.Fatalf("unexpected log entry: %+v", entry)
	}
}

func TestStructuredLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewStructuredLogger("agentcore", FormatText, false)
	l.output = &buf

	l.Warn("careful", map[string]interface{}{"attempt": 2})

	line := buf.String()
	if !strings.Contains(line, "[WARN]") || !strings.Contains(line, "careful") {
		t.Fatalf("unexpected text log line: %q", line)
	}
}

func TestStructuredLoggerDebugSuppressedWhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	l := NewStructuredLogger("agentcore", FormatText, false)
	l.output = &buf

	l.Debug("should not appear", nil)

	if buf.Len() != 0 {
		t.Fatalf("expected debug output suppressed, got %q", buf.String())
	}
}

func TestStructuredLoggerWithComponentTagsLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewStructuredLogger("agentcore", FormatJSON, false)
	l.output = &buf
	scoped := l.WithComponent("gateway")

	scoped.Info("routed", nil)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON, got %v", err)
	}
	if entry["component"] != "gateway" {
		t.Fatalf("expected component tag, got %+v", entry)
	}
}

func TestOTelProviderStartSpanAndRecordMetric(t *testing.T) {
	p := NewOTelProvider("agentcore-test")
	defer p.Shutdown(context.Background())

	ctx, span := p.StartSpan(context.Background(), "unit.test")
	if ctx == nil {
		t.Fatalf("expected non-nil context")
	}
	span.SetAttribute("tenant", "t1")
	span.RecordError(nil)
	span.End()

	p.RecordMetric("gateway.latency_ms", 12.5, map[string]string{"model": "m-fast"})
	p.RecordMetric("gateway.requests_total", 1, map[string]string{"model": "m-fast"})
}
