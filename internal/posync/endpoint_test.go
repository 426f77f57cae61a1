package posync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubEndpointStore struct {
	row   SealedEndpoint
	err   error
	loads atomic.Int32
}

func (s *stubEndpointStore) LoadEndpoint(context.Context) (SealedEndpoint, error) {
	s.loads.Add(1)
	return s.row, s.err
}

// blockingEndpointStore holds every load until release is closed.
type blockingEndpointStore struct {
	row     SealedEndpoint
	entered chan struct{}
	release chan struct{}
	loads   atomic.Int32
}

func (s *blockingEndpointStore) LoadEndpoint(ctx context.Context) (SealedEndpoint, error) {
	if s.loads.Add(1) == 1 {
		close(s.entered)
	}
	select {
	case <-s.release:
		return s.row, nil
	case <-ctx.Done():
		return SealedEndpoint{}, ctx.Err()
	}
}

type reverseOpener struct{}

func (reverseOpener) Open(sealed []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, errors.New("empty")
	}
	out := make([]byte, len(sealed))
	for i, b := range sealed {
		out[len(sealed)-1-i] = b
	}
	return out, nil
}

func TestConfigSourceOpensSecret(t *testing.T) {
	store := &stubEndpointStore{row: SealedEndpoint{BaseURL: "https://erp15.example.com", APIKey: "k", SealedSecret: []byte("terces")}}
	src := NewConfigSource(store, reverseOpener{})

	ep, err := src.Endpoint(context.Background())
	require.NoError(t, err)
	require.Equal(t, "secret", ep.APISecret)
	require.Equal(t, "k", ep.APIKey)

	// every call re-reads the row
	_, err = src.Endpoint(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), store.loads.Load())
}

func TestConfigSourceMissingOrIncomplete(t *testing.T) {
	src := NewConfigSource(&stubEndpointStore{err: ErrNotFound}, reverseOpener{})
	_, err := src.Endpoint(context.Background())
	require.ErrorIs(t, err, ErrEndpointNotConfigured)

	src = NewConfigSource(&stubEndpointStore{row: SealedEndpoint{BaseURL: "not a url", APIKey: "k", SealedSecret: []byte("x")}}, reverseOpener{})
	_, err = src.Endpoint(context.Background())
	require.ErrorIs(t, err, ErrEndpointNotConfigured)

	src = NewConfigSource(&stubEndpointStore{row: SealedEndpoint{BaseURL: "https://erp15.example.com", APIKey: "k"}}, reverseOpener{})
	_, err = src.Endpoint(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrEndpointNotConfigured)
}

func TestConfigSourceSurvivesCancelledCaller(t *testing.T) {
	store := &blockingEndpointStore{
		row:     SealedEndpoint{BaseURL: "https://erp15.example.com", APIKey: "k", SealedSecret: []byte("terces")},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	src := NewConfigSource(store, reverseOpener{})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := src.Endpoint(firstCtx)
		firstErr <- err
	}()
	<-store.entered

	type result struct {
		ep  string
		err error
	}
	second := make(chan result, 1)
	go func() {
		ep, err := src.Endpoint(context.Background())
		second <- result{ep: ep.APISecret, err: err}
	}()

	// let the second caller join the in-flight load before cancelling the first
	time.Sleep(50 * time.Millisecond)
	cancelFirst()
	time.Sleep(20 * time.Millisecond)
	close(store.release)

	select {
	case res := <-second:
		require.NoError(t, res.err)
		require.Equal(t, "secret", res.ep)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
	<-firstErr
}
