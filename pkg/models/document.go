package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Document is one source hit: a stable identifier, the ordering key and the
// opaque _source payload.
type Document struct {
	ID          string          `json:"id"`
	OrderingKey int64           `json:"ordering_key"`
	Source      json.RawMessage `json:"source"`
}

// Batch is one page of the source query. An empty batch marks the end of the stream.
type Batch []Document

// MinKey returns the ordering key of the first document.
func (b Batch) MinKey() int64 {
	if len(b) == 0 {
		return 0
	}
	return b[0].OrderingKey
}

// MaxKey returns the largest ordering key in the batch.
func (b Batch) MaxKey() int64 {
	var max int64
	for i, d := range b {
		if i == 0 || d.OrderingKey > max {
			max = d.OrderingKey
		}
	}
	return max
}

// Watermark is the ordering key of the last document confirmed on the target.
type Watermark int64

func (w Watermark) String() string {
	return strconv.FormatInt(int64(w), 10)
}

// ParseWatermark parses the decimal form written by String.
func ParseWatermark(s string) (Watermark, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid watermark %q: %w", s, err)
	}
	return Watermark(v), nil
}
