// Package testutil provides testing utilities for the catalog loader.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// Paths served by MockCatalog.
const (
	ListPath   = "/api/v2/pokemon"
	recordPath = "/api/v2/pokemon/"
	imagePath  = "/img/"
)

// Request kinds counted by MockCatalog.
const (
	KindList   = "list"
	KindRecord = "record"
	KindImage  = "image"
)

var tagCycle = []string{"grass", "fire", "water", "electric", "normal", "psychic", "rock"}

// MockCatalog is a configurable mock catalog server with a listing
// endpoint, per-item records and PNG image assets for ids 1..size.
type MockCatalog struct {
	server *httptest.Server

	mu          sync.RWMutex
	size        int
	reportCount bool
	listStatus  int
	recordFail  map[string]int
	imageFail   map[string]int
	corrupt     map[string]bool
	tags        map[string][]string
	recordDelay time.Duration
	budget      map[string]string
	handlers    map[string]http.HandlerFunc
	requests    map[string]int
	listQueries []string
}

// NewMockCatalog creates a mock catalog holding size items.
func NewMockCatalog(size int) *MockCatalog {
	m := &MockCatalog{
		size:        size,
		reportCount: true,
		recordFail:  make(map[string]int),
		imageFail:   make(map[string]int),
		corrupt:     make(map[string]bool),
		tags:        make(map[string][]string),
		handlers:    make(map[string]http.HandlerFunc),
		requests:    make(map[string]int),
	}

	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the mock server URL.
func (m *MockCatalog) URL() string {
	return m.server.URL
}

// AssetTemplate returns the image URL template for catalog.NewHTTPAssets.
func (m *MockCatalog) AssetTemplate() string {
	return m.server.URL + imagePath + "{id}.png"
}

// RecordURL returns the canonical record URL for id.
func (m *MockCatalog) RecordURL(id int) string {
	return fmt.Sprintf("%s%s%d/", m.server.URL, recordPath, id)
}

// Close shuts down the mock server.
func (m *MockCatalog) Close() {
	m.server.Close()
}

// Reset clears request counters.
func (m *MockCatalog) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[string]int)
	m.listQueries = nil
}

// SetSize changes the number of items in the catalog.
func (m *MockCatalog) SetSize(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.size = size
}

// SetReportCount controls whether listings include "count".
func (m *MockCatalog) SetReportCount(report bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reportCount = report
}

// FailList makes the listing endpoint answer with status. 0 restores it.
func (m *MockCatalog) FailList(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listStatus = status
}

// FailRecord makes the record for id answer with status.
func (m *MockCatalog) FailRecord(id int, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordFail[strconv.Itoa(id)] = status
}

// FailImage makes the image for id answer with status.
func (m *MockCatalog) FailImage(id int, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imageFail[strconv.Itoa(id)] = status
}

// CorruptImage makes the image for id answer 200 with bytes that are not an image.
func (m *MockCatalog) CorruptImage(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrupt[strconv.Itoa(id)] = true
}

// SetTags overrides the raw type names served for id.
func (m *MockCatalog) SetTags(id int, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[strconv.Itoa(id)] = tags
}

// SetRecordDelay delays every record response.
func (m *MockCatalog) SetRecordDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordDelay = d
}

// SetBudgetHeaders adds rate limit budget headers to every response.
func (m *MockCatalog) SetBudgetHeaders(remaining, resetSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budget = map[string]string{
		"X-RateLimit-Remaining": strconv.Itoa(remaining),
		"X-RateLimit-Reset":     strconv.Itoa(resetSeconds),
	}
}

// SetHandler overrides the handler for an exact path.
func (m *MockCatalog) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// RequestCount returns the number of requests of one kind.
func (m *MockCatalog) RequestCount(kind string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[kind]
}

// TotalRequests returns the number of requests of all kinds.
func (m *MockCatalog) TotalRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, n := range m.requests {
		total += n
	}
	return total
}

// ListQueries returns the raw query strings of listing requests in order.
func (m *MockCatalog) ListQueries() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.listQueries...)
}

// NameFor returns the name served for id.
func NameFor(id int) string {
	return fmt.Sprintf("mon%03d", id)
}

// TagsFor returns the default type names served for id.
func TagsFor(id int) []string {
	tags := []string{tagCycle[(id-1)%len(tagCycle)]}
	if id%3 == 0 {
		tags = append(tags, "poison")
	}
	return tags
}

func (m *MockCatalog) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	handler, custom := m.handlers[r.URL.Path]
	for k, v := range m.budget {
		w.Header().Set(k, v)
	}
	m.mu.Unlock()

	if custom {
		handler(w, r)
		return
	}

	switch {
	case r.URL.Path == ListPath || r.URL.Path == ListPath+"/":
		m.serveList(w, r)
	case strings.HasPrefix(r.URL.Path, recordPath):
		m.serveRecord(w, r)
	case strings.HasPrefix(r.URL.Path, imagePath):
		m.serveImage(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (m *MockCatalog) serveList(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests[KindList]++
	m.listQueries = append(m.listQueries, r.URL.RawQuery)
	status, size, reportCount := m.listStatus, m.size, m.reportCount
	m.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]string{"detail": http.StatusText(status)})
		return
	}

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		limit = 20
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}

	type result struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	body := struct {
		Count    *int     `json:"count,omitempty"`
		Next     *string  `json:"next"`
		Previous *string  `json:"previous"`
		Results  []result `json:"results"`
	}{Results: []result{}}

	if reportCount {
		body.Count = &size
	}
	for id := offset + 1; id <= offset+limit && id <= size; id++ {
		body.Results = append(body.Results, result{Name: NameFor(id), URL: m.RecordURL(id)})
	}
	if offset+limit < size {
		next := fmt.Sprintf("%s%s?offset=%d&limit=%d", m.server.URL, ListPath, offset+limit, limit)
		body.Next = &next
	}
	if offset > 0 {
		prev := fmt.Sprintf("%s%s?offset=%d&limit=%d", m.server.URL, ListPath, max(offset-limit, 0), limit)
		body.Previous = &prev
	}

	writeJSON(w, http.StatusOK, body)
}

func (m *MockCatalog) serveRecord(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, recordPath), "/")

	m.mu.Lock()
	m.requests[KindRecord]++
	status := m.recordFail[id]
	delay := m.recordDelay
	tags, overridden := m.tags[id]
	size := m.size
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		writeJSON(w, status, map[string]string{"detail": http.StatusText(status)})
		return
	}

	n, err := strconv.Atoi(id)
	if err != nil || n < 1 || n > size {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	if !overridden {
		tags = TagsFor(n)
	}

	type slot struct {
		Slot int `json:"slot"`
		Type struct {
			Name string `json:"name"`
		} `json:"type"`
	}
	types := make([]slot, len(tags))
	for i, tag := range tags {
		types[i].Slot = i + 1
		types[i].Type.Name = tag
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":    n,
		"name":  NameFor(n),
		"types": types,
	})
}

func (m *MockCatalog) serveImage(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, imagePath), ".png")

	m.mu.Lock()
	m.requests[KindImage]++
	status := m.imageFail[id]
	corrupt := m.corrupt[id]
	size := m.size
	m.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	n, err := strconv.Atoi(id)
	if err != nil || n < 1 || n > size {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if corrupt {
		w.Write([]byte("not a png"))
		return
	}
	w.Write(PNG())
}

// PNG returns a small valid PNG image.
func PNG() []byte {
	var buf bytes.Buffer
	img := imaging.New(4, 4, color.NRGBA{R: 0xDE, G: 0xFD, B: 0xE0, A: 0xFF})
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// WriteAssetDir writes <id>.png for every id into dir.
func WriteAssetDir(dir string, ids ...int) error {
	data := PNG()
	for _, id := range ids {
		path := fmt.Sprintf("%s/%d.png", strings.TrimRight(dir, "/"), id)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
