package logger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFieldConstructors(t *testing.T) {
	cases := []struct {
		name  string
		field Field
		key   string
	}{
		{"string", String("queue", "features"), "queue"},
		{"int", Int("attempt", 3), "attempt"},
		{"float64", Float64("value", 9.5), "value"},
		{"duration", Duration("timeout", time.Second), "timeout"},
		{"any", Any("payload", []byte("x")), "payload"},
		{"error", Error(errors.New("boom")), "error"},
	}
	for _, tc := range cases {
		if tc.field.Key != tc.key {
			t.Errorf("%s: expected key %q, got %q", tc.name, tc.key, tc.field.Key)
		}
	}
}

func TestInitAndLevels(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	l := Get()
	if l == nil {
		t.Fatal("Get returned nil after Init")
	}

	// Named loggers should not panic and should be usable.
	named := Named("aggregator")
	named.Info(context.Background(), "test message", String("id", "A1"))

	for _, level := range []string{"debug", "info", "warn", "warning", "error", ""} {
		if err := SetLevelString(level); err != nil {
			t.Errorf("SetLevelString(%q) failed: %v", level, err)
		}
	}
	if err := SetLevelString("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
