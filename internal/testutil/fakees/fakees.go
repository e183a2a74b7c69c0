// Package fakees is an in-process stand-in for the subset of the
// Elasticsearch REST API the replicator uses: search with scroll, clear
// scroll, bulk and count.
package fakees

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/BartekS5/esync/pkg/utils"
	"github.com/elastic/go-elasticsearch/v7"
	"github.com/tidwall/gjson"
)

// Fault is consumed by the next bulk request instead of processing it.
type Fault struct {
	// Status answers with this HTTP status and an error body.
	Status int
	// Drop closes the connection without answering.
	Drop bool
	// Truncate answers 200 with a body cut short.
	Truncate bool
}

type scroll struct {
	index string
	docs  []doc
	pos   int
	size  int
}

type doc struct {
	id     string
	key    int64
	hasKey bool
	source json.RawMessage
}

type Server struct {
	*httptest.Server

	mu          sync.Mutex
	field       string
	indices     map[string]map[string]json.RawMessage
	scrolls     map[string]*scroll
	nextScroll  int
	lowerBounds []*int64
	bulkCalls   int
	bulkMetas   []map[string]interface{}
	rejects     map[string]string
	faults      []Fault
	cleared     int
}

// New starts a fake cluster that sorts and filters on orderingField.
func New(t testing.TB, orderingField string) *Server {
	s := &Server{
		field:   orderingField,
		indices: map[string]map[string]json.RawMessage{},
		scrolls: map[string]*scroll{},
		rejects: map[string]string{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Client returns a client for the fake with transport retries disabled.
func (s *Server) Client(t testing.TB) *elasticsearch.Client {
	c, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{s.URL},
		DisableRetry: true,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return c
}

// Seed stores documents keyed by id.
func (s *Server) Seed(index string, docs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.index(index)
	for id, src := range docs {
		idx[id] = json.RawMessage(src)
	}
}

// SeedRange stores documents "1".."n" whose ordering key equals their id.
func (s *Server) SeedRange(index string, from, to int) {
	docs := make(map[string]string, to-from+1)
	for i := from; i <= to; i++ {
		docs[strconv.Itoa(i)] = fmt.Sprintf(`{%q:%d,"n":%d}`, s.field, i, i)
	}
	s.Seed(index, docs)
}

// Docs returns a copy of the documents stored in index.
func (s *Server) Docs(index string) map[string]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]json.RawMessage, len(s.indices[index]))
	for id, src := range s.indices[index] {
		out[id] = src
	}
	return out
}

// Reject makes every bulk item for id fail with reason.
func (s *Server) Reject(id, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects[id] = reason
}

// Accept lifts a Reject.
func (s *Server) Accept(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rejects, id)
}

// Inject queues faults for the following bulk requests.
func (s *Server) Inject(faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, faults...)
}

// ExpireScrolls forgets every open scroll context.
func (s *Server) ExpireScrolls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrolls = map[string]*scroll{}
}

func (s *Server) BulkCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bulkCalls
}

// BulkMetas returns the action metadata of every bulk item applied.
func (s *Server) BulkMetas() []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]interface{}(nil), s.bulkMetas...)
}

// LowerBounds returns the range lower bound of every search opened, nil for
// unbounded searches.
func (s *Server) LowerBounds() []*int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*int64(nil), s.lowerBounds...)
}

func (s *Server) OpenScrolls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scrolls)
}

func (s *Server) ClearedScrolls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}

func (s *Server) index(name string) map[string]json.RawMessage {
	idx, ok := s.indices[name]
	if !ok {
		idx = map[string]json.RawMessage{}
		s.indices[name] = idx
	}
	return idx
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	body, _ := io.ReadAll(r.Body)
	path := strings.TrimSuffix(r.URL.Path, "/")

	switch {
	case path == "" && (r.Method == http.MethodGet || r.Method == http.MethodHead):
		fmt.Fprint(w, `{"name":"fake","cluster_name":"fakees","version":{"number":"7.17.1","build_flavor":"default"},"tagline":"You Know, for Search"}`)
	case strings.HasPrefix(path, "/_search/scroll"):
		if r.Method == http.MethodDelete {
			s.clearScroll(w, path, body)
			return
		}
		s.scroll(w, body)
	case strings.HasSuffix(path, "/_search"):
		s.search(w, indexOf(path), body)
	case strings.HasSuffix(path, "/_bulk"):
		s.bulk(w, indexOf(path), body)
	case strings.HasSuffix(path, "/_count"):
		s.count(w, indexOf(path), body)
	default:
		writeError(w, http.StatusNotFound, "invalid_request", "unsupported path "+r.URL.Path)
	}
}

func indexOf(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	return parts[0]
}

func writeError(w http.ResponseWriter, status int, typ, reason string) {
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"root_cause":[{"type":%q,"reason":%q}],"type":%q,"reason":%q},"status":%d}`, typ, reason, typ, reason, status)
}

// matching returns documents of index at or above gte, sorted ascending on
// the ordering field. Documents without a key sort last and never match a
// range.
func (s *Server) matching(index string, gte *int64) []doc {
	var docs []doc
	for id, src := range s.indices[index] {
		d := doc{id: id, source: src}
		if key, err := utils.OrderingKey(src, s.field); err == nil {
			d.key, d.hasKey = key, true
		}
		if gte != nil && (!d.hasKey || d.key < *gte) {
			continue
		}
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if a.hasKey != b.hasKey {
			return a.hasKey
		}
		if a.key != b.key {
			return a.key < b.key
		}
		return a.id < b.id
	})
	return docs
}

func (s *Server) lowerBound(body []byte) *int64 {
	gte := gjson.GetBytes(body, "query.range."+s.field+".gte")
	if !gte.Exists() {
		return nil
	}
	v := gte.Int()
	return &v
}

func (s *Server) search(w http.ResponseWriter, index string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.indices[index]; !ok {
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+index+"]")
		return
	}
	gte := s.lowerBound(body)
	s.lowerBounds = append(s.lowerBounds, gte)

	size := int(gjson.GetBytes(body, "size").Int())
	if size <= 0 {
		size = 10
	}
	s.nextScroll++
	id := fmt.Sprintf("scroll-%d", s.nextScroll)
	sc := &scroll{index: index, docs: s.matching(index, gte), size: size}
	s.scrolls[id] = sc
	s.writePage(w, id, sc)
}

func (s *Server) scroll(w http.ResponseWriter, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := gjson.GetBytes(body, "scroll_id").String()
	sc, ok := s.scrolls[id]
	if !ok {
		writeError(w, http.StatusNotFound, "search_context_missing_exception", "No search context found for id ["+id+"]")
		return
	}
	s.writePage(w, id, sc)
}

func (s *Server) writePage(w http.ResponseWriter, id string, sc *scroll) {
	end := sc.pos + sc.size
	if end > len(sc.docs) {
		end = len(sc.docs)
	}
	page := sc.docs[sc.pos:end]
	sc.pos = end

	hits := make([]map[string]interface{}, 0, len(page))
	for _, d := range page {
		hit := map[string]interface{}{"_index": sc.index, "_id": d.id, "_source": d.source}
		if d.hasKey {
			hit["sort"] = []int64{d.key}
		}
		hits = append(hits, hit)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"_scroll_id": id,
		"took":       1,
		"hits": map[string]interface{}{
			"total": map[string]interface{}{"value": len(sc.docs), "relation": "eq"},
			"hits":  hits,
		},
	})
}

func (s *Server) clearScroll(w http.ResponseWriter, path string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	if rest := strings.TrimPrefix(path, "/_search/scroll"); rest != "" {
		ids = strings.Split(strings.TrimPrefix(rest, "/"), ",")
	}
	for _, v := range gjson.GetBytes(body, "scroll_id").Array() {
		ids = append(ids, v.String())
	}

	freed := 0
	for _, id := range ids {
		if _, ok := s.scrolls[id]; ok {
			delete(s.scrolls, id)
			freed++
		}
	}
	s.cleared += freed
	if freed == 0 {
		w.WriteHeader(http.StatusNotFound)
	}
	fmt.Fprintf(w, `{"succeeded":true,"num_freed":%d}`, freed)
}

func (s *Server) count(w http.ResponseWriter, index string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.indices[index]; !ok {
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+index+"]")
		return
	}
	fmt.Fprintf(w, `{"count":%d}`, len(s.matching(index, s.lowerBound(body))))
}

func (s *Server) bulk(w http.ResponseWriter, index string, body []byte) {
	s.mu.Lock()
	s.bulkCalls++
	var fault *Fault
	if len(s.faults) > 0 {
		f := s.faults[0]
		s.faults = s.faults[1:]
		fault = &f
	}
	s.mu.Unlock()

	if fault != nil {
		switch {
		case fault.Drop:
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
					return
				}
			}
			writeError(w, http.StatusServiceUnavailable, "unavailable", "connection dropped")
		case fault.Truncate:
			w.Header().Set("Content-Length", "4096")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"took":1,"errors":false,"items":[{"index":`)
		default:
			writeError(w, fault.Status, "injected_fault", http.StatusText(fault.Status))
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var items []map[string]interface{}
	anyErr := false
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var action map[string]map[string]interface{}
		if err := json.Unmarshal(line, &action); err != nil {
			writeError(w, http.StatusBadRequest, "illegal_argument_exception", "malformed action line")
			return
		}
		if !sc.Scan() {
			writeError(w, http.StatusBadRequest, "illegal_argument_exception", "action without source")
			return
		}
		source := json.RawMessage(append([]byte(nil), sc.Bytes()...))

		for op, meta := range action {
			s.bulkMetas = append(s.bulkMetas, meta)
			target := index
			if v, ok := meta["_index"].(string); ok && v != "" {
				target = v
			}
			id, _ := meta["_id"].(string)

			result := map[string]interface{}{"_index": target, "_id": id}
			if reason, rejected := s.rejects[id]; rejected {
				anyErr = true
				result["status"] = http.StatusBadRequest
				result["error"] = map[string]interface{}{"type": "mapper_parsing_exception", "reason": reason}
			} else {
				idx := s.index(target)
				status := http.StatusCreated
				if _, exists := idx[id]; exists {
					status = http.StatusOK
				}
				idx[id] = source
				result["status"] = status
			}
			items = append(items, map[string]interface{}{op: result})
		}
	}

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"took":   1,
		"errors": anyErr,
		"items":  items,
	})
}
