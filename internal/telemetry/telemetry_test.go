package telemetry

import (
	"testing"
)

func TestNewMeterProviderWithoutOTLP(t *testing.T) {
	provider, err := NewMeterProvider(t.Context(), "azf2s-bridge", "")
	if err != nil {
		t.Fatalf("NewMeterProvider error: %v", err)
	}

	if err := provider.Shutdown(t.Context()); err != nil {
		t.Errorf("Shutdown error: %v", err)
	}
}

func TestNewTracerProvider(t *testing.T) {
	// The exporter dials lazily, so construction needs no listener.
	provider, err := NewTracerProvider(t.Context(), "azf2s-bridge", "localhost:4318")
	if err != nil {
		t.Fatalf("NewTracerProvider error: %v", err)
	}

	if provider == nil {
		t.Fatal("provider is nil")
	}
}
