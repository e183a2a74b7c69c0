package etl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/BartekS5/esync/pkg/models"
	"github.com/elastic/go-elasticsearch/v7"
)

// ElasticTarget writes batches to an Elasticsearch index with the bulk API.
type ElasticTarget struct {
	Client      *elasticsearch.Client
	Index       string
	Transformer *Transformer
}

func NewElasticTarget(client *elasticsearch.Client, index, mappingType string) *ElasticTarget {
	return &ElasticTarget{
		Client:      client,
		Index:       index,
		Transformer: NewTransformer(index, mappingType),
	}
}

type bulkError struct {
	Type     string     `json:"type"`
	Reason   string     `json:"reason"`
	CausedBy *bulkError `json:"caused_by,omitempty"`
}

func (e *bulkError) String() string {
	if e == nil {
		return ""
	}
	s := e.Type + ": " + e.Reason
	if e.CausedBy != nil {
		s += " (caused by " + e.CausedBy.String() + ")"
	}
	return s
}

type bulkItemResult struct {
	ID     string     `json:"_id"`
	Status int        `json:"status"`
	Error  *bulkError `json:"error,omitempty"`
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

// transientStatus lists statuses that mean "try again later" rather than
// "this request is wrong".
func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (t *ElasticTarget) BulkUpsert(ctx context.Context, docs models.Batch) ([]models.ItemOutcome, error) {
	body, err := t.Transformer.BulkBody(docs)
	if err != nil {
		return nil, &FatalBackendError{Reason: err.Error()}
	}

	res, err := t.Client.Bulk(
		bytes.NewReader(body),
		t.Client.Bulk.WithContext(ctx),
		t.Client.Bulk.WithIndex(t.Index),
	)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		reason, _ := io.ReadAll(io.LimitReader(res.Body, 8*1024))
		if transientStatus(res.StatusCode) {
			return nil, &TransientError{Err: fmt.Errorf("bulk request answered %s: %s", res.Status(), reason)}
		}
		return nil, &FatalBackendError{Status: res.StatusCode, Reason: string(reason)}
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		// A body cut short by the connection is worth another attempt; a
		// complete body we cannot understand is not.
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, &TransientError{Err: fmt.Errorf("truncated bulk response: %w", err)}
		}
		return nil, &FatalBackendError{Status: res.StatusCode, Reason: fmt.Sprintf("undecodable bulk response: %v", err)}
	}
	if len(parsed.Items) != len(docs) {
		return nil, &FatalBackendError{Status: res.StatusCode, Reason: fmt.Sprintf("bulk response has %d items for %d documents", len(parsed.Items), len(docs))}
	}

	outcomes := make([]models.ItemOutcome, 0, len(docs))
	for i, item := range parsed.Items {
		doc := docs[i]
		out := models.ItemOutcome{ID: doc.ID, OrderingKey: doc.OrderingKey}
		for _, r := range item {
			out.Status = r.Status
			if r.Error != nil || r.Status >= 300 {
				out.Failed = true
				out.Reason = r.Error.String()
				if out.Reason == "" {
					out.Reason = http.StatusText(r.Status)
				}
			}
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}
