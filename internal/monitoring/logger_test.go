package monitoring

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// Now set to nil and verify the previous logger is no longer reached
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestSetLogWriters_Streams(t *testing.T) {
	var ops, diag, trace bytes.Buffer
	SetLogWriters(LogWriters{Ops: &ops, Diag: &diag, Trace: &trace})
	defer SetLogWriters(LogWriters{})

	Opsf("solve failed: %d", 1)
	Diagf("session %s", "abc")
	Tracef("frame %d inliers=%d", 7, 31)

	if !strings.Contains(ops.String(), "solve failed: 1") {
		t.Errorf("ops stream missing message, got %q", ops.String())
	}
	if !strings.Contains(ops.String(), "[pose]") {
		t.Errorf("expected '[pose]' prefix, got %q", ops.String())
	}
	if !strings.Contains(diag.String(), "session abc") {
		t.Errorf("diag stream missing message, got %q", diag.String())
	}
	if !strings.Contains(trace.String(), "frame 7 inliers=31") {
		t.Errorf("trace stream missing message, got %q", trace.String())
	}
}

func TestSetLogWriters_Disable(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(LogWriters{Ops: &buf})
	SetLogWriters(LogWriters{})

	// Should not panic or write when no logger is configured.
	Opsf("silently discarded: %d", 123)
	Diagf("silently discarded")
	Tracef("silently discarded")
	if buf.Len() != 0 {
		t.Errorf("expected nothing written after disable, got %q", buf.String())
	}
}

func TestNewLogger_NilWriter(t *testing.T) {
	if newLogger("[test] ", nil) != nil {
		t.Error("expected nil logger for nil writer")
	}
}
