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

	// nil installs a no-op
	SetLogger(nil)
	Logf("test message")
}

func TestSetLogWriter(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var buf bytes.Buffer
	SetLogWriter(&buf)
	Logf("fps=%.1f", 2.5)

	out := buf.String()
	if !strings.Contains(out, "[monitor] ") {
		t.Errorf("expected prefix in %q", out)
	}
	if !strings.Contains(out, "fps=2.5") {
		t.Errorf("expected formatted message in %q", out)
	}

	buf.Reset()
	SetLogWriter(nil)
	Logf("muted")
	if buf.Len() != 0 {
		t.Errorf("expected no output after SetLogWriter(nil), got %q", buf.String())
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()

	Logf("test message: %s", "value")
}
