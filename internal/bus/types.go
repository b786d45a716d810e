package bus

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BaseEvent contains fields common to all broadcast events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"ts"`
	Producer  string    `json:"producer"`
	TraceID   string    `json:"trace_id,omitempty"`
}

// NewBaseEvent creates a new BaseEvent with generated IDs.
func NewBaseEvent(producer string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Producer:  producer,
		TraceID:   uuid.New().String()[:16],
	}
}

// --- Mention records ---

// Mention is a single observed token mention by one account. Immutable once
// persisted except for the Processed flag, which the quorum detector sets
// after folding the mention into an activation decision. Mentions are never
// deleted; they form the audit trail of every quorum decision.
type Mention struct {
	ID              string    `json:"id" bson:"id"`
	TokenName       string    `json:"token_name" bson:"token_name"` // normalized upper-case
	AccountUsername string    `json:"account_username" bson:"account_username"`
	SourceURL       string    `json:"source_url" bson:"source_url"`
	Excerpt         string    `json:"excerpt" bson:"excerpt"` // raw text, capped
	SourceName      string    `json:"source_name" bson:"source_name"`
	ObservedAt      time.Time `json:"observed_at" bson:"observed_at"`
	Processed       bool      `json:"processed" bson:"processed"`
}

// NewMention builds a Mention with a fresh ID.
func NewMention(token, account, url, excerpt, source string, observedAt time.Time) Mention {
	return Mention{
		ID:              uuid.New().String(),
		TokenName:       token,
		AccountUsername: account,
		SourceURL:       url,
		Excerpt:         excerpt,
		SourceName:      source,
		ObservedAt:      observedAt,
	}
}

// --- Trend activations ---

// ActivationStatus is the lifecycle state of a TrendActivation.
type ActivationStatus string

const (
	ActivationActive  ActivationStatus = "active"
	ActivationCAFound ActivationStatus = "ca_found"
	ActivationExpired ActivationStatus = "expired"
)

// TrendActivation marks that a token crossed the distinct-account quorum and
// is being watched for CA discovery. At most one activation per token name is
// open at any time; status moves active -> ca_found or active -> expired and
// both transitions are terminal.
type TrendActivation struct {
	ID           string           `json:"id" bson:"id"`
	TokenName    string           `json:"token_name" bson:"token_name"`
	MentionCount int              `json:"mention_count" bson:"mention_count"` // distinct accounts
	ActivatedAt  time.Time        `json:"activated_at" bson:"activated_at"`
	Status       ActivationStatus `json:"status" bson:"status"`
	ResolvedAt   *time.Time       `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
}

// NewTrendActivation opens a new active activation.
func NewTrendActivation(token string, mentionCount int) TrendActivation {
	return TrendActivation{
		ID:           uuid.New().String(),
		TokenName:    token,
		MentionCount: mentionCount,
		ActivatedAt:  time.Now().UTC(),
		Status:       ActivationActive,
	}
}

// --- CA alerts ---

// AlertSource identifies which discovery path produced a CAAlert.
type AlertSource string

const (
	AlertSourcePushFeed AlertSource = "push_feed"
	AlertSourcePoller   AlertSource = "poller"
)

// CAAlert records a discovered contract address for a token name. Immutable
// once created. WasTrending alerts are one-to-one with an activation that
// reached ca_found; push-feed alerts for non-trending tokens stand alone.
type CAAlert struct {
	ID                      string          `json:"id" bson:"id"`
	ContractAddress         string          `json:"contract_address" bson:"contract_address"`
	TokenName               string          `json:"token_name" bson:"token_name"`
	MarketCap               decimal.Decimal `json:"market_cap" bson:"market_cap"`
	ChartURL                string          `json:"chart_url" bson:"chart_url"`
	DiscoveredAt            time.Time       `json:"discovered_at" bson:"discovered_at"`
	Source                  AlertSource     `json:"source" bson:"source"`
	WasTrending             bool            `json:"was_trending" bson:"was_trending"`
	MentionCountAtDiscovery int             `json:"mention_count_at_discovery" bson:"mention_count_at_discovery"`
}

// --- Broadcast envelope ---

// Event type discriminators.
const (
	EventTrendActivation = "trend_activation"
	EventCAAlert         = "ca_alert"
)

// Event is the envelope delivered to alert subscribers.
type Event struct {
	BaseEvent
	Type       string           `json:"type"` // trend_activation|ca_alert
	Activation *TrendActivation `json:"activation,omitempty"`
	Alert      *CAAlert         `json:"alert,omitempty"`
}

// NewActivationEvent wraps a trend activation for broadcast.
func NewActivationEvent(producer string, act TrendActivation) Event {
	return Event{
		BaseEvent:  NewBaseEvent(producer),
		Type:       EventTrendActivation,
		Activation: &act,
	}
}

// NewCAAlertEvent wraps a CA alert for broadcast.
func NewCAAlertEvent(producer string, alert CAAlert) Event {
	return Event{
		BaseEvent: NewBaseEvent(producer),
		Type:      EventCAAlert,
		Alert:     &alert,
	}
}
