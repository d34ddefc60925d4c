package realtime

import (
	"encoding/json"
	"fmt"

	"fgcmatch/internal/models"
)

// Event is a typed server-initiated change delivered by the bridge.
type Event interface {
	Topic() string
}

type WalletUpdated struct {
	topic  string
	Wallet models.Wallet
}

func (e WalletUpdated) Topic() string { return e.topic }

type NotificationInserted struct {
	topic        string
	Notification models.Notification
}

func (e NotificationInserted) Topic() string { return e.topic }

type MatchChanged struct {
	topic string
	Type  string // INSERT or UPDATE
	Match models.Match
}

func (e MatchChanged) Topic() string { return e.topic }

// SubscriptionStatus reports the health of a channel. While a channel is
// unhealthy the affected data is only kept fresh by polling.
type SubscriptionStatus struct {
	topic   string
	Healthy bool
	Err     error
}

func (e SubscriptionStatus) Topic() string { return e.topic }

// Subscription describes one postgres_changes channel.
type Subscription struct {
	Topic  string
	Event  string // INSERT, UPDATE, DELETE or *
	Schema string
	Table  string
	Filter string
}

func WalletSubscription(userID string) Subscription {
	return Subscription{Topic: "wallet:" + userID, Event: "UPDATE", Schema: "public", Table: "wallets", Filter: "user_id=eq." + userID}
}

func NotificationSubscription(userID string) Subscription {
	return Subscription{Topic: "notifications:" + userID, Event: "INSERT", Schema: "public", Table: "notifications", Filter: "user_id=eq." + userID}
}

// MatchSubscriptions follow every match the user created or accepted.
func MatchSubscriptions(userID string) []Subscription {
	return []Subscription{
		{Topic: "matches:created:" + userID, Event: "*", Schema: "public", Table: "matches", Filter: "created_by=eq." + userID},
		{Topic: "matches:accepted:" + userID, Event: "UPDATE", Schema: "public", Table: "matches", Filter: "accepted_by=eq." + userID},
	}
}

// UserSubscriptions is the full set the daemon joins for a signed-in user.
func UserSubscriptions(userID string) []Subscription {
	subs := []Subscription{WalletSubscription(userID), NotificationSubscription(userID)}
	return append(subs, MatchSubscriptions(userID)...)
}

type changePayload struct {
	Data struct {
		Type   string          `json:"type"`
		Table  string          `json:"table"`
		Schema string          `json:"schema"`
		Record json.RawMessage `json:"record"`
	} `json:"data"`
}

// decodeChange turns a postgres_changes payload into a typed event. Records
// that fail validation are rejected rather than passed on.
func decodeChange(topic string, raw json.RawMessage) (Event, error) {
	var p changePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding change: %w", err)
	}
	switch p.Data.Table {
	case "wallets":
		var w models.Wallet
		if err := json.Unmarshal(p.Data.Record, &w); err != nil {
			return nil, fmt.Errorf("decoding wallet: %w", err)
		}
		if err := w.Validate(); err != nil {
			return nil, err
		}
		return WalletUpdated{topic: topic, Wallet: w}, nil
	case "notifications":
		var n models.Notification
		if err := json.Unmarshal(p.Data.Record, &n); err != nil {
			return nil, fmt.Errorf("decoding notification: %w", err)
		}
		if err := n.Validate(); err != nil {
			return nil, err
		}
		return NotificationInserted{topic: topic, Notification: n}, nil
	case "matches":
		var m models.Match
		if err := json.Unmarshal(p.Data.Record, &m); err != nil {
			return nil, fmt.Errorf("decoding match: %w", err)
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		return MatchChanged{topic: topic, Type: p.Data.Type, Match: m}, nil
	}
	return nil, fmt.Errorf("unexpected table %q", p.Data.Table)
}
