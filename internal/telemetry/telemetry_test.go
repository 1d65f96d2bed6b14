package telemetry

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/config"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	p, err := Init(config.TelemetryConfig{Enabled: false}, zap.NewNop())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.tp != nil || p.mp != nil {
		t.Fatal("disabled telemetry must not build providers")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown must succeed: %v", err)
	}
}

func TestShutdown_NilReceiver(t *testing.T) {
	t.Parallel()

	var p *Providers
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil shutdown must succeed: %v", err)
	}
}

func TestClampSampleRate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   float64
		want float64
	}{
		{"valid", 0.25, 0.25},
		{"full", 1.0, 1.0},
		{"zero falls back to full sampling", 0, 1.0},
		{"negative falls back", -0.5, 1.0},
		{"above one falls back", 1.5, 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := clampSampleRate(tc.in); got != tc.want {
				t.Fatalf("clampSampleRate(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
