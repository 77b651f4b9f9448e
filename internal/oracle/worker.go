package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

// lockTTL bounds how long one replica may hold a resolution lock before it is
// considered dead and another replica may take over.
const lockTTL = 30 * time.Second

// Resolver is the callback surface the worker submits results through.
// Implemented by the oracle gateway.
type Resolver interface {
	ResolveUpdate(ctx context.Context, caller common.Address, cardID uint64, uri string) error
	ResolveSwap(ctx context.Context, caller common.Address, cardID1 uint64, uri1 string, cardID2 uint64, uri2 string) error
}

// Worker subscribes to card request events and resolves them. Multiple
// replicas may run concurrently; a distributed lock per card ensures only one
// does the work for a given request.
type Worker struct {
	bus      domain.SignalBus
	locks    domain.LockManager
	blob     domain.BlobWriter
	resolver Resolver
	addr     common.Address
	baseURI  string
	logger   *slog.Logger
}

// NewWorker creates a Worker resolving as addr; addr must match the
// gateway's registered oracle address or every callback will be rejected.
// baseURI prefixes the object keys of uploaded documents to form card URIs.
func NewWorker(
	bus domain.SignalBus,
	locks domain.LockManager,
	blob domain.BlobWriter,
	resolver Resolver,
	addr common.Address,
	baseURI string,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		bus:      bus,
		locks:    locks,
		blob:     blob,
		resolver: resolver,
		addr:     addr,
		baseURI:  baseURI,
		logger:   logger,
	}
}

// Run consumes card request events until the context is cancelled. Handling
// failures are logged and never stop the loop; an unresolved request stays
// pending for a later replay.
func (w *Worker) Run(ctx context.Context) error {
	events, err := w.bus.Subscribe(ctx, domain.ChannelCards)
	if err != nil {
		return fmt.Errorf("oracle: subscribe %s: %w", domain.ChannelCards, err)
	}

	w.logger.InfoContext(ctx, "oracle: worker started",
		slog.String("address", w.addr.Hex()),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "oracle: worker stopped")
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				return fmt.Errorf("oracle: event channel closed")
			}
			w.handle(ctx, payload)
		}
	}
}

func (w *Worker) handle(ctx context.Context, payload []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		w.logger.WarnContext(ctx, "oracle: undecodable event",
			slog.String("error", err.Error()))
		return
	}

	switch head.Type {
	case domain.EventCardUpdateRequested:
		var evt domain.CardUpdateRequested
		if err := json.Unmarshal(payload, &evt); err != nil {
			w.logger.WarnContext(ctx, "oracle: bad update request payload",
				slog.String("error", err.Error()))
			return
		}
		w.handleUpdate(ctx, evt)
	case domain.EventCardSwapRequested:
		var evt domain.CardSwapRequested
		if err := json.Unmarshal(payload, &evt); err != nil {
			w.logger.WarnContext(ctx, "oracle: bad swap request payload",
				slog.String("error", err.Error()))
			return
		}
		w.handleSwap(ctx, evt)
	}
}

func (w *Worker) handleUpdate(ctx context.Context, evt domain.CardUpdateRequested) {
	unlock, err := w.locks.Acquire(ctx, fmt.Sprintf("oracle:card:%d", evt.CardID), lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			// Another replica owns this request.
			return
		}
		w.logger.WarnContext(ctx, "oracle: acquire lock failed",
			slog.Uint64("card_id", evt.CardID),
			slog.String("error", err.Error()))
		return
	}
	defer unlock()

	uri, err := w.publishDescriptor(ctx, evt.CardID, evt.IdentitySeed, evt.Name, evt.Position)
	if err != nil {
		w.logger.ErrorContext(ctx, "oracle: publish descriptor failed",
			slog.Uint64("card_id", evt.CardID),
			slog.String("error", err.Error()))
		return
	}

	if err := w.resolver.ResolveUpdate(ctx, w.addr, evt.CardID, uri); err != nil {
		w.logger.ErrorContext(ctx, "oracle: resolve update failed",
			slog.Uint64("card_id", evt.CardID),
			slog.String("error", err.Error()))
		return
	}

	w.logger.InfoContext(ctx, "oracle: update resolved",
		slog.Uint64("card_id", evt.CardID),
		slog.String("uri", uri),
	)
}

func (w *Worker) handleSwap(ctx context.Context, evt domain.CardSwapRequested) {
	unlock, err := w.locks.Acquire(ctx, fmt.Sprintf("oracle:swap:%d:%d", evt.CardID1, evt.CardID2), lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return
		}
		w.logger.WarnContext(ctx, "oracle: acquire lock failed",
			slog.Uint64("card_id_1", evt.CardID1),
			slog.Uint64("card_id_2", evt.CardID2),
			slog.String("error", err.Error()))
		return
	}
	defer unlock()

	// The swap event carries no names; the documents are seed-derived and
	// titled by card id, which keeps the worker independent of registry
	// reads.
	uri1, err := w.publishDescriptor(ctx, evt.CardID1, evt.Seed1, fmt.Sprintf("Card #%d", evt.CardID1), "")
	if err != nil {
		w.logger.ErrorContext(ctx, "oracle: publish descriptor failed",
			slog.Uint64("card_id", evt.CardID1),
			slog.String("error", err.Error()))
		return
	}
	uri2, err := w.publishDescriptor(ctx, evt.CardID2, evt.Seed2, fmt.Sprintf("Card #%d", evt.CardID2), "")
	if err != nil {
		w.logger.ErrorContext(ctx, "oracle: publish descriptor failed",
			slog.Uint64("card_id", evt.CardID2),
			slog.String("error", err.Error()))
		return
	}

	if err := w.resolver.ResolveSwap(ctx, w.addr, evt.CardID1, uri1, evt.CardID2, uri2); err != nil {
		w.logger.ErrorContext(ctx, "oracle: resolve swap failed",
			slog.Uint64("card_id_1", evt.CardID1),
			slog.Uint64("card_id_2", evt.CardID2),
			slog.String("error", err.Error()))
		return
	}

	w.logger.InfoContext(ctx, "oracle: swap resolved",
		slog.Uint64("card_id_1", evt.CardID1),
		slog.Uint64("card_id_2", evt.CardID2),
	)
}

// publishDescriptor uploads the generated document and returns the card URI.
func (w *Worker) publishDescriptor(ctx context.Context, cardID uint64, seed *big.Int, name, position string) (string, error) {
	doc := GenerateDescriptor(seed, name, position)
	body, err := doc.Marshal()
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("cards/%d.json", cardID)
	if err := w.blob.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return "", fmt.Errorf("oracle: upload %s: %w", key, err)
	}
	return w.baseURI + "/" + key, nil
}
