package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestMultiHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := NewMultiHandler(
		NewHandler(Config{Level: LevelInfo, Output: &a}),
		NewHandler(Config{Level: LevelError, Output: &b}),
	)
	logger := slog.New(h).With("component", "cli")

	logger.Info("info record")
	logger.Error("error record")

	if !strings.Contains(a.String(), "info record") || !strings.Contains(a.String(), "error record") {
		t.Errorf("first handler missing records: %q", a.String())
	}
	if strings.Contains(b.String(), "info record") {
		t.Errorf("second handler got record below its level: %q", b.String())
	}
	if !strings.Contains(b.String(), "component=cli") {
		t.Errorf("attrs not propagated: %q", b.String())
	}
}
