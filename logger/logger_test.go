package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromZapFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core))

	log.Info("token refreshed", "shared", true)
	log.Warn("token storage read failed", "key", "accessToken")
	log.Debug("pre-emptive refresh failed", "error", "boom")
	log.Error("login redirect failed")

	entries := logs.All()
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	if entries[0].Message != "token refreshed" || entries[0].ContextMap()["shared"] != true {
		t.Fatalf("entry = %+v", entries[0])
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["key"] != "accessToken" {
		t.Fatalf("entry = %+v", entries[1])
	}
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"release", "development", "nop"} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q) error = %v", mode, err)
		}
		if l == nil {
			t.Fatalf("New(%q) returned nil", mode)
		}
	}
	if FromZap(nil) == nil {
		t.Fatal("FromZap(nil) returned nil")
	}
}
