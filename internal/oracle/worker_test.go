package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

type stubBus struct {
	ch chan []byte
}

func (b *stubBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }

func (b *stubBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return b.ch, nil
}

func (b *stubBus) StreamAppend(ctx context.Context, stream string, payload []byte) error { return nil }

func (b *stubBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type stubLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *stubLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type stubBlob struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func (b *stubBlob) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.docs == nil {
		b.docs = make(map[string][]byte)
	}
	b.docs[path] = body
	return nil
}

func (b *stubBlob) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	return b.Put(ctx, path, data, "")
}

type resolvedCall struct {
	caller common.Address
	cardID uint64
	uri    string
}

type stubResolver struct {
	mu      sync.Mutex
	updates []resolvedCall
}

func (r *stubResolver) ResolveUpdate(ctx context.Context, caller common.Address, cardID uint64, uri string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, resolvedCall{caller: caller, cardID: cardID, uri: uri})
	return nil
}

func (r *stubResolver) ResolveSwap(ctx context.Context, caller common.Address, cardID1 uint64, uri1 string, cardID2 uint64, uri2 string) error {
	if err := r.ResolveUpdate(ctx, caller, cardID1, uri1); err != nil {
		return err
	}
	return r.ResolveUpdate(ctx, caller, cardID2, uri2)
}

func (r *stubResolver) calls() []resolvedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]resolvedCall(nil), r.updates...)
}

func testWorker(bus *stubBus, blob *stubBlob, resolver *stubResolver) *Worker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	addr := common.BytesToAddress([]byte{0x03})
	return NewWorker(bus, &stubLocks{}, blob, resolver, addr, "https://cards.dorsia.club", logger)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestWorkerResolvesUpdateRequest(t *testing.T) {
	bus := &stubBus{ch: make(chan []byte, 8)}
	blob := &stubBlob{}
	resolver := &stubResolver{}
	w := testWorker(bus, blob, resolver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	evt, err := json.Marshal(domain.CardUpdateRequested{
		Type:         domain.EventCardUpdateRequested,
		CardID:       7,
		IdentitySeed: big.NewInt(12345),
		Name:         "Patrick Bateman",
		Position:     "Vice President",
	})
	require.NoError(t, err)
	bus.ch <- evt

	waitFor(t, func() bool { return len(resolver.calls()) == 1 })

	call := resolver.calls()[0]
	assert.Equal(t, uint64(7), call.cardID)
	assert.Equal(t, "https://cards.dorsia.club/cards/7.json", call.uri)

	blob.mu.Lock()
	body := blob.docs["cards/7.json"]
	blob.mu.Unlock()
	require.True(t, bytes.Contains(body, []byte("Patrick Bateman")))

	var doc Descriptor
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, GenerateDescriptor(big.NewInt(12345), "Patrick Bateman", "Vice President"), doc,
		"uploaded document is the deterministic elaboration of the seed")
}

func TestWorkerResolvesSwapRequest(t *testing.T) {
	bus := &stubBus{ch: make(chan []byte, 8)}
	blob := &stubBlob{}
	resolver := &stubResolver{}
	w := testWorker(bus, blob, resolver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	evt, err := json.Marshal(domain.CardSwapRequested{
		Type:    domain.EventCardSwapRequested,
		CardID1: 1,
		CardID2: 2,
		Seed1:   big.NewInt(111),
		Seed2:   big.NewInt(222),
	})
	require.NoError(t, err)
	bus.ch <- evt

	waitFor(t, func() bool { return len(resolver.calls()) == 2 })

	calls := resolver.calls()
	assert.Equal(t, uint64(1), calls[0].cardID)
	assert.Equal(t, uint64(2), calls[1].cardID)
	assert.Equal(t, "https://cards.dorsia.club/cards/1.json", calls[0].uri)
	assert.Equal(t, "https://cards.dorsia.club/cards/2.json", calls[1].uri)
}

func TestWorkerIgnoresUnknownEvents(t *testing.T) {
	bus := &stubBus{ch: make(chan []byte, 8)}
	blob := &stubBlob{}
	resolver := &stubResolver{}
	w := testWorker(bus, blob, resolver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	bus.ch <- []byte(`{"type":"card_uri_resolved","card_id":9}`)
	bus.ch <- []byte(`not json`)

	evt, err := json.Marshal(domain.CardUpdateRequested{
		Type:         domain.EventCardUpdateRequested,
		CardID:       3,
		IdentitySeed: big.NewInt(1),
		Name:         "x",
	})
	require.NoError(t, err)
	bus.ch <- evt

	waitFor(t, func() bool { return len(resolver.calls()) == 1 })
	assert.Equal(t, uint64(3), resolver.calls()[0].cardID)
}
