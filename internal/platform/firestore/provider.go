package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/artisan-market/api/internal/platform/config"
)

const (
	defaultDialTimeout = 10 * time.Second
	envEmulatorHost    = "FIRESTORE_EMULATOR_HOST"
	envGoogleProjectID = "GOOGLE_CLOUD_PROJECT"

	pingCollection = "_health"
	pingDocument   = "ping"
)

var (
	ErrProviderClosed = errors.New("firestore: provider is closed")
	ErrNoProjectID    = errors.New("firestore: project id is required")
)

// Provider owns the process-wide Firestore client and creates it on first use.
type Provider struct {
	projectID   string
	emulator    string
	dialTimeout time.Duration
	extra       []option.ClientOption

	dial singleflight.Group

	mu     sync.RWMutex
	client *firestore.Client
	closed bool
}

// ProviderOption customises the Provider behaviour.
type ProviderOption func(*Provider)

// WithDialTimeout bounds client creation.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithClientOptions appends options passed to firestore.NewClient.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) {
		p.extra = append(p.extra, opts...)
	}
}

// NewProvider resolves the project and emulator from cfg, falling back to the standard
// Google environment variables.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{
		projectID:   firstSet(cfg.ProjectID, os.Getenv(envGoogleProjectID)),
		emulator:    firstSet(cfg.EmulatorHost, os.Getenv(envEmulatorHost)),
		dialTimeout: defaultDialTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// ProjectID reports the resolved Google Cloud project.
func (p *Provider) ProjectID() string { return p.projectID }

// Client returns the shared client. Concurrent first calls share one dial and a failed
// dial is retried by the next caller.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	if ctx == nil {
		return nil, errors.New("firestore: context is required")
	}
	p.mu.RLock()
	client, closed := p.client, p.closed
	p.mu.RUnlock()
	switch {
	case closed:
		return nil, ErrProviderClosed
	case client != nil:
		return client, nil
	}

	value, err, _ := p.dial.Do("client", func() (any, error) {
		p.mu.RLock()
		existing := p.client
		p.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		created, err := p.newClient(ctx)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			_ = created.Close()
			return nil, ErrProviderClosed
		}
		p.client = created
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*firestore.Client), nil
}

func (p *Provider) newClient(ctx context.Context) (*firestore.Client, error) {
	if p.projectID == "" {
		return nil, ErrNoProjectID
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.dialTimeout)
	defer cancel()

	client, err := firestore.NewClient(ctx, p.projectID, p.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client for %s: %w", p.projectID, err)
	}
	return client, nil
}

func (p *Provider) clientOptions() []option.ClientOption {
	opts := make([]option.ClientOption, 0, len(p.extra)+3)
	opts = append(opts, p.extra...)
	if p.emulator == "" {
		return opts
	}
	// The SDK reads the emulator address from the environment as well as from options.
	if os.Getenv(envEmulatorHost) == "" {
		_ = os.Setenv(envEmulatorHost, p.emulator)
	}
	return append(opts,
		option.WithEndpoint(p.emulator),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
}

// Ping reads a sentinel document for readiness probes. A missing document still proves
// the backend answered.
func (p *Provider) Ping(ctx context.Context) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(pingCollection).Doc(pingDocument).Get(ctx)
	err = WrapError("firestore.ping", err)
	var repoErr *Error
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return nil
	}
	return err
}

// Close releases the client; the provider rejects further use. It gives up waiting once
// ctx is done.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	client := p.client
	alreadyClosed := p.closed
	p.client, p.closed = nil, true
	p.mu.Unlock()
	if alreadyClosed || client == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	done := make(chan error, 1)
	go func() { done <- client.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
