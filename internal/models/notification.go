package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type Notification struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	IsRead    bool            `json:"is_read"`
	CreatedAt time.Time       `json:"created_at"`
}

func (n *Notification) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("notification without id")
	}
	return nil
}

// UnreadCount counts notifications not yet acknowledged.
func UnreadCount(list []Notification) int {
	n := 0
	for _, x := range list {
		if !x.IsRead {
			n++
		}
	}
	return n
}
