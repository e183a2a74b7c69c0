package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BartekS5/esync/pkg/logger"
	"github.com/BartekS5/esync/pkg/models"
	"github.com/BartekS5/esync/pkg/utils"
	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/elastic/go-elasticsearch/v7/esutil"
	"github.com/jonboulle/clockwork"
)

// Cursor is a server-side scroll plus its lease. It lives for one process
// run only and is never persisted.
type Cursor struct {
	Index     string
	ScrollID  string
	Lease     time.Duration
	ExpiresAt time.Time

	lastKey int64
	seen    bool
}

// ScrollReader extracts documents from an Elasticsearch index through the
// scroll API, sorted ascending on OrderingField.
type ScrollReader struct {
	Client        *elasticsearch.Client
	OrderingField string
	Clock         clockwork.Clock
}

func NewScrollReader(client *elasticsearch.Client, orderingField string) *ScrollReader {
	return &ScrollReader{
		Client:        client,
		OrderingField: orderingField,
		Clock:         clockwork.NewRealClock(),
	}
}

type searchHit struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
}

func (r *ScrollReader) clock() clockwork.Clock {
	if r.Clock == nil {
		return clockwork.NewRealClock()
	}
	return r.Clock
}

// Query builds the search body. With a lower bound the range is inclusive,
// so documents sharing the boundary key are delivered again after a restart.
func (r *ScrollReader) Query(lowerBound *models.Watermark, pageSize int) map[string]interface{} {
	query := map[string]interface{}{"match_all": map[string]interface{}{}}
	if lowerBound != nil {
		query = map[string]interface{}{
			"range": map[string]interface{}{
				r.OrderingField: map[string]interface{}{"gte": int64(*lowerBound)},
			},
		}
	}
	return map[string]interface{}{
		"query": query,
		"size":  pageSize,
		"sort": []interface{}{
			map[string]interface{}{r.OrderingField: map[string]interface{}{"order": "asc"}},
		},
	}
}

func (r *ScrollReader) Open(ctx context.Context, index string, lowerBound *models.Watermark, pageSize int, lease time.Duration) (*Cursor, models.Batch, error) {
	cur := &Cursor{Index: index, Lease: lease}

	res, err := r.Client.Search(
		r.Client.Search.WithContext(ctx),
		r.Client.Search.WithIndex(index),
		r.Client.Search.WithBody(esutil.NewJSONReader(r.Query(lowerBound, pageSize))),
		r.Client.Search.WithScroll(lease),
	)
	page, err := decodeSearch(res, err)
	if err != nil {
		return cur, nil, fmt.Errorf("failed to open scroll on %s: %w", index, err)
	}

	batch, err := r.accept(cur, page)
	return cur, batch, err
}

// Advance fetches the next page. It fails with ErrCursorExpired when the
// lease ran out before the call, without contacting the server.
func (r *ScrollReader) Advance(ctx context.Context, cur *Cursor) (*Cursor, models.Batch, error) {
	if cur == nil || cur.ScrollID == "" {
		return cur, models.Batch{}, nil
	}
	if now := r.clock().Now(); now.After(cur.ExpiresAt) {
		return cur, nil, fmt.Errorf("%w: lease of %s elapsed %s ago", ErrCursorExpired, cur.Lease, now.Sub(cur.ExpiresAt).Round(time.Millisecond))
	}

	res, err := r.Client.Scroll(
		r.Client.Scroll.WithContext(ctx),
		r.Client.Scroll.WithScroll(cur.Lease),
		r.Client.Scroll.WithBody(esutil.NewJSONReader(map[string]string{"scroll_id": cur.ScrollID})),
	)
	page, err := decodeSearch(res, err)
	if err != nil {
		return cur, nil, fmt.Errorf("failed to advance scroll on %s: %w", cur.Index, err)
	}

	batch, err := r.accept(cur, page)
	return cur, batch, err
}

// Close releases the server-side scroll context. Failures are only logged:
// the lease reclaims the context anyway.
func (r *ScrollReader) Close(ctx context.Context, cur *Cursor) error {
	if cur == nil || cur.ScrollID == "" {
		return nil
	}
	res, err := r.Client.ClearScroll(
		r.Client.ClearScroll.WithContext(ctx),
		r.Client.ClearScroll.WithScrollID(cur.ScrollID),
	)
	if err != nil {
		logger.Warnf("Failed to clear scroll on %s: %v", cur.Index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		logger.Warnf("Failed to clear scroll on %s: %s", cur.Index, res.Status())
		return fmt.Errorf("clear scroll returned %s", res.Status())
	}
	cur.ScrollID = ""
	return nil
}

// accept converts hits into documents and enforces the ordering invariant
// across every page yielded on cur.
func (r *ScrollReader) accept(cur *Cursor, page *searchResponse) (models.Batch, error) {
	cur.ScrollID = page.ScrollID
	cur.ExpiresAt = r.clock().Now().Add(cur.Lease)

	batch := make(models.Batch, 0, len(page.Hits.Hits))
	for _, hit := range page.Hits.Hits {
		key, err := utils.OrderingKey(hit.Source, r.OrderingField)
		if err != nil {
			return nil, fmt.Errorf("%w: document %s in %s: %v", ErrMissingOrderingKey, hit.ID, cur.Index, err)
		}
		if cur.seen && key < cur.lastKey {
			return nil, fmt.Errorf("%w: document %s has %s=%d after %d", ErrOrderingViolation, hit.ID, r.OrderingField, key, cur.lastKey)
		}
		cur.lastKey, cur.seen = key, true
		batch = append(batch, models.Document{ID: hit.ID, OrderingKey: key, Source: hit.Source})
	}
	return batch, nil
}

func decodeSearch(res *esapi.Response, err error) (*searchResponse, error) {
	if err != nil {
		return nil, fmt.Errorf("unable to perform search request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		if res.StatusCode == http.StatusNotFound && strings.Contains(string(body), "search_context_missing_exception") {
			return nil, fmt.Errorf("%w: scroll context no longer exists", ErrCursorExpired)
		}
		return nil, fmt.Errorf("search failed, HTTP status: %s, body: %s", res.Status(), body)
	}

	var page searchResponse
	if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &page, nil
}

// Count returns how many documents of index sit at or above lowerBound, or
// all documents when lowerBound is nil.
func (r *ScrollReader) Count(ctx context.Context, index string, lowerBound *models.Watermark) (int64, error) {
	body := map[string]interface{}{"query": r.Query(lowerBound, 0)["query"]}
	res, err := r.Client.Count(
		r.Client.Count.WithContext(ctx),
		r.Client.Count.WithIndex(index),
		r.Client.Count.WithBody(esutil.NewJSONReader(body)),
	)
	if err != nil {
		return 0, fmt.Errorf("unable to count %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("count on %s failed, HTTP status: %s", index, res.Status())
	}

	var parsed struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("failed to decode count response: %w", err)
	}
	return parsed.Count, nil
}
