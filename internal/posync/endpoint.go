package posync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/posync/internal/remote"
)

// EndpointSource yields the remote endpoint configuration for one call.
type EndpointSource interface {
	Endpoint(ctx context.Context) (remote.Endpoint, error)
}

// SealedEndpoint is the stored form of the endpoint configuration.
type SealedEndpoint struct {
	BaseURL      string
	APIKey       string
	SealedSecret []byte
}

// EndpointStore loads the stored endpoint row.
type EndpointStore interface {
	LoadEndpoint(ctx context.Context) (SealedEndpoint, error)
}

// SecretOpener decrypts stored secrets.
type SecretOpener interface {
	Open(sealed []byte) ([]byte, error)
}

// endpointLoadTimeout bounds the shared endpoint read.
const endpointLoadTimeout = 5 * time.Second

// ErrEndpointNotConfigured indicates the endpoint row is missing or incomplete.
var ErrEndpointNotConfigured = errors.New("posync: remote endpoint not configured")

// ConfigSource reads the endpoint row on every call; concurrent reads share one query.
type ConfigSource struct {
	store    EndpointStore
	opener   SecretOpener
	validate *validator.Validate
	group    singleflight.Group
}

// NewConfigSource constructs a ConfigSource.
func NewConfigSource(store EndpointStore, opener SecretOpener) *ConfigSource {
	return &ConfigSource{store: store, opener: opener, validate: validator.New()}
}

// Endpoint implements EndpointSource.
func (s *ConfigSource) Endpoint(ctx context.Context) (remote.Endpoint, error) {
	v, err, _ := s.group.Do("endpoint", func() (interface{}, error) {
		// Joined callers share this load, so one caller's cancellation must not fail the rest.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), endpointLoadTimeout)
		defer cancel()
		return s.load(loadCtx)
	})
	if err != nil {
		return remote.Endpoint{}, err
	}
	return v.(remote.Endpoint), nil
}

func (s *ConfigSource) load(ctx context.Context) (remote.Endpoint, error) {
	row, err := s.store.LoadEndpoint(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return remote.Endpoint{}, ErrEndpointNotConfigured
		}
		return remote.Endpoint{}, fmt.Errorf("posync: load endpoint: %w", err)
	}
	secret, err := s.opener.Open(row.SealedSecret)
	if err != nil {
		return remote.Endpoint{}, fmt.Errorf("posync: open api secret: %w", err)
	}
	ep := remote.Endpoint{BaseURL: row.BaseURL, APIKey: row.APIKey, APISecret: string(secret)}
	if err := s.validate.Struct(ep); err != nil {
		return remote.Endpoint{}, fmt.Errorf("%w: %v", ErrEndpointNotConfigured, err)
	}
	return ep, nil
}

// StaticEndpoint serves a fixed endpoint, mostly for tests and tooling.
type StaticEndpoint remote.Endpoint

// Endpoint implements EndpointSource.
func (s StaticEndpoint) Endpoint(context.Context) (remote.Endpoint, error) {
	return remote.Endpoint(s), nil
}
