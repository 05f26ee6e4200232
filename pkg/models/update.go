package models

import "time"

// Update is one symbol's changed-field delta, produced by the ingestion
// pipeline and delivered to push subscribers in batches. Fields holds only
// the values that changed since the previous update for this symbol.
type Update struct {
	Symbol    string                 `json:"symbol"`
	Fields    map[string]interface{} `json:"fields"`
	Timestamp time.Time              `json:"timestamp"`
}

// Merge folds a newer update's fields into u, latest write winning per field.
func (u *Update) Merge(other *Update) {
	if u.Fields == nil {
		u.Fields = make(map[string]interface{}, len(other.Fields))
	}
	for k, v := range other.Fields {
		u.Fields[k] = v
	}
	if other.Timestamp.After(u.Timestamp) {
		u.Timestamp = other.Timestamp
	}
}

// BatchMessage is the envelope pushed to a subscriber on each flush.
type BatchMessage struct {
	Type      string    `json:"type"` // connected | update | error
	Items     []*Update `json:"items,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
