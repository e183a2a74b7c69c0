package etl

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BartekS5/esync/pkg/models"
)

// Transformer turns documents into the NDJSON body of a bulk request.
// Every document becomes an "index" action keyed by its source _id, so
// sending it again overwrites instead of duplicating.
type Transformer struct {
	Index       string
	MappingType string
}

func NewTransformer(index, mappingType string) *Transformer {
	return &Transformer{Index: index, MappingType: mappingType}
}

type bulkMeta struct {
	Index string `json:"_index,omitempty"`
	Type  string `json:"_type,omitempty"`
	ID    string `json:"_id"`
}

func (t *Transformer) BulkBody(docs models.Batch) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		meta := map[string]bulkMeta{"index": {Index: t.Index, Type: t.MappingType, ID: doc.ID}}
		if err := enc.Encode(meta); err != nil {
			return nil, fmt.Errorf("document %s: %w", doc.ID, err)
		}
		// Pretty-printed sources would break the line-oriented bulk format.
		if err := json.Compact(&buf, doc.Source); err != nil {
			return nil, fmt.Errorf("document %s: invalid source: %w", doc.ID, err)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
