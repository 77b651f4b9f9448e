package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

// Bridge subscribes to the domain event channels and forwards each event to
// the Notifier as a human-readable message. It runs alongside the services
// that publish the events; event filtering happens inside the Notifier.
type Bridge struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewBridge creates a Bridge over the given signal bus and notifier.
func NewBridge(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Bridge {
	return &Bridge{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_bridge")),
	}
}

// Run consumes events from the cards, oracle and listings channels until the
// context is cancelled. Notification failures are logged, never fatal.
func (b *Bridge) Run(ctx context.Context) error {
	channels := []string{domain.ChannelCards, domain.ChannelOracle, domain.ChannelListings}
	merged := make(chan []byte)

	for _, ch := range channels {
		events, err := b.bus.Subscribe(ctx, ch)
		if err != nil {
			return fmt.Errorf("notify: subscribe %s: %w", ch, err)
		}
		go func() {
			for payload := range events {
				select {
				case merged <- payload:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	b.logger.InfoContext(ctx, "notify bridge started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-merged:
			b.handle(ctx, payload)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, payload []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		b.logger.WarnContext(ctx, "undecodable event payload",
			slog.String("error", err.Error()),
		)
		return
	}

	title, message, ok := b.render(head.Type, payload)
	if !ok {
		return
	}

	if err := b.notifier.Notify(ctx, head.Type, title, message); err != nil {
		b.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("event", head.Type),
			slog.String("error", err.Error()),
		)
	}
}

// render formats an event payload into a title and message body. Unknown
// event types are dropped.
func (b *Bridge) render(eventType string, payload []byte) (title, message string, ok bool) {
	switch eventType {
	case domain.EventCardUpdateRequested:
		var ev domain.CardUpdateRequested
		if err := json.Unmarshal(payload, &ev); err != nil {
			return "", "", false
		}
		return "Card Update Requested",
			fmt.Sprintf("Card #%d (%s, %s) is awaiting oracle resolution.", ev.CardID, ev.Name, ev.Position),
			true

	case domain.EventCardSwapRequested:
		var ev domain.CardSwapRequested
		if err := json.Unmarshal(payload, &ev); err != nil {
			return "", "", false
		}
		return "Card Swap Requested",
			fmt.Sprintf("Cards #%d and #%d swapped names; both await oracle resolution.", ev.CardID1, ev.CardID2),
			true

	case domain.EventCardURIResolved:
		var ev domain.CardURIResolved
		if err := json.Unmarshal(payload, &ev); err != nil {
			return "", "", false
		}
		return "Card Metadata Resolved",
			fmt.Sprintf("Card #%d now serves %s", ev.CardID, ev.URI),
			true

	case domain.EventListingCreated:
		var ev domain.ListingCreated
		if err := json.Unmarshal(payload, &ev); err != nil {
			return "", "", false
		}
		return "New Listing",
			fmt.Sprintf("Card #%d listed by %s for %s.", ev.CardID, ev.Seller.Hex(), ev.Price),
			true

	case domain.EventListingCancelled:
		var ev domain.ListingCancelled
		if err := json.Unmarshal(payload, &ev); err != nil {
			return "", "", false
		}
		return "Listing Cancelled",
			fmt.Sprintf("Listing #%d for card #%d was cancelled.", ev.ListingID, ev.CardID),
			true

	case domain.EventListingFilled:
		var ev domain.ListingFilled
		if err := json.Unmarshal(payload, &ev); err != nil {
			return "", "", false
		}
		return "Listing Filled",
			fmt.Sprintf("Card #%d sold by %s to %s for %s.", ev.CardID, ev.Seller.Hex(), ev.Buyer.Hex(), ev.Price),
			true
	}

	return "", "", false
}
