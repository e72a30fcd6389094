package events

import "context"

// SwapStream is the Redis channel every engine event is published on.
const SwapStream = "events:swap"

// Event types
const (
	EventSwapCreated     = "swap_created"
	EventSwapUpdated     = "swap_updated"
	EventSwapCanceled    = "swap_canceled"
	EventSwapAccepted    = "swap_accepted"
	EventBidPlaced       = "bid_placed"
	EventBidAccepted     = "bid_accepted"
	EventBidCanceled     = "bid_canceled"
	EventAllBidsCanceled = "all_bids_canceled"

	EventSettingsUpdated = "settings_updated"
	EventCurrencyAdded   = "currency_added"
	EventCurrencyRemoved = "currency_removed"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
