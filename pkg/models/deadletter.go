package models

import (
	"encoding/json"
	"time"
)

// DeadLetter is a document the target rejected inside an otherwise
// successful bulk write, with the raw payload needed to replay it by hand.
type DeadLetter struct {
	RunID       string          `json:"run_id" bson:"run_id"`
	Index       string          `json:"index" bson:"index"`
	ID          string          `json:"id" bson:"doc_id"`
	OrderingKey int64           `json:"ordering_key" bson:"ordering_key"`
	Status      int             `json:"status,omitempty" bson:"status,omitempty"`
	Reason      string          `json:"reason" bson:"reason"`
	FailedAt    time.Time       `json:"failed_at" bson:"failed_at"`
	Source      json.RawMessage `json:"source" bson:"-"`
}
