package firestore

import (
	"context"
	"errors"
	"testing"

	"github.com/artisan-market/api/internal/platform/config"
)

func TestNewProviderResolvesFromEnvironment(t *testing.T) {
	t.Setenv(envGoogleProjectID, "env-project")
	t.Setenv(envEmulatorHost, "localhost:8681")

	p := NewProvider(config.FirestoreConfig{})
	if p.ProjectID() != "env-project" || p.emulator != "localhost:8681" {
		t.Fatalf("expected environment fallback, got %q %q", p.ProjectID(), p.emulator)
	}

	p = NewProvider(config.FirestoreConfig{ProjectID: " market-prod ", EmulatorHost: "127.0.0.1:9000"})
	if p.ProjectID() != "market-prod" || p.emulator != "127.0.0.1:9000" {
		t.Fatalf("expected config to win, got %q %q", p.ProjectID(), p.emulator)
	}
	if got := len(p.clientOptions()); got != 3 {
		t.Fatalf("expected emulator options, got %d", got)
	}
}

func TestProviderClientRequiresProject(t *testing.T) {
	t.Setenv(envGoogleProjectID, "")
	t.Setenv(envEmulatorHost, "")

	p := NewProvider(config.FirestoreConfig{})
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrNoProjectID) {
		t.Fatalf("expected ErrNoProjectID, got %v", err)
	}
	if len(p.clientOptions()) != 0 {
		t.Fatalf("no options expected without an emulator")
	}
}

func TestProviderCloseIsIdempotent(t *testing.T) {
	p := NewProvider(config.FirestoreConfig{ProjectID: "p"})
	for i := 0; i < 2; i++ {
		if err := p.Close(context.Background()); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
	var nilProvider *Provider
	if err := nilProvider.Close(context.Background()); err != nil {
		t.Fatalf("nil provider close: %v", err)
	}
}
