// Package server implements ordkeyd's JSON HTTP API over a table of
// key-encoded tuples: Put, Get, Delete and Scan, each operating on a
// caller-supplied table name (a key prefix) and a tuple of typed
// elements rather than raw bytes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/ordkey/internal/logger"
	"github.com/nainya/ordkey/internal/metrics"
	"github.com/nainya/ordkey/pkg/key"
	"github.com/nainya/ordkey/pkg/keycoder"
	"github.com/nainya/ordkey/pkg/rangeiter"
	"github.com/nainya/ordkey/pkg/storage"
)

// tableSep separates a table name from the tuple-encoded key that
// follows it, forming the physical key prefix each table's rows share.
const tableSep = 0x01

// Server holds the storage engine and observability collaborators
// backing the HTTP API.
type Server struct {
	kv  *storage.KV
	log *logger.Logger
	m   *metrics.Metrics

	startTime time.Time
}

// serverMetrics is created once per process and shared by every Server:
// metrics.NewMetrics registers its collectors with the default
// Prometheus registry, which refuses a second registration of a name.
var (
	metricsOnce   sync.Once
	serverMetrics *metrics.Metrics
)

// NewServer opens the database at dbPath and returns a Server ready to
// build a Handler from.
func NewServer(dbPath string) (*Server, error) {
	kv := &storage.KV{Path: dbPath}
	if err := kv.Open(); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	metricsOnce.Do(func() { serverMetrics = metrics.NewMetrics() })
	return &Server{
		kv:        kv,
		log:       logger.GetGlobalLogger(),
		m:         serverMetrics,
		startTime: time.Now(),
	}, nil
}

// Close closes the underlying database.
func (s *Server) Close() error {
	return s.kv.Close()
}

// RunStatsLoop periodically samples the storage engine's page stats
// into the metrics surface until ctx is done. Callers run it in its own
// goroutine.
func (s *Server) RunStatsLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sizeBytes, freePages := s.kv.Stats()
			s.m.UpdateEngineStats(sizeBytes, freePages)
		}
	}
}

// Handler builds the HTTP mux, wrapping every route in the metrics/
// logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/put", MetricsMiddleware("/v1/put", s.m, s.log, s.handlePut))
	mux.HandleFunc("/v1/get", MetricsMiddleware("/v1/get", s.m, s.log, s.handleGet))
	mux.HandleFunc("/v1/delete", MetricsMiddleware("/v1/delete", s.m, s.log, s.handleDelete))
	mux.HandleFunc("/v1/scan", MetricsMiddleware("/v1/scan", s.m, s.log, s.handleScan))
	return mux
}

// elementJSON is the wire representation of a keycoder.Element: exactly
// one of the typed fields is set, selected by Kind.
type elementJSON struct {
	Kind  string     `json:"kind"`
	Bool  *bool      `json:"bool,omitempty"`
	Int   *int64     `json:"int,omitempty"`
	Bytes []byte     `json:"bytes,omitempty"`
	Text  *string    `json:"text,omitempty"`
	UUID  *string    `json:"uuid,omitempty"`
	Time  *time.Time `json:"time,omitempty"`
}

func toElement(ej elementJSON) (keycoder.Element, error) {
	switch ej.Kind {
	case "null":
		return keycoder.NewNull(), nil
	case "bool":
		if ej.Bool == nil {
			return keycoder.Element{}, fmt.Errorf("bool element missing \"bool\" field")
		}
		return keycoder.NewBool(*ej.Bool), nil
	case "int":
		if ej.Int == nil {
			return keycoder.Element{}, fmt.Errorf("int element missing \"int\" field")
		}
		return keycoder.NewInt(*ej.Int), nil
	case "bytes":
		return keycoder.NewBytes(ej.Bytes), nil
	case "text":
		if ej.Text == nil {
			return keycoder.Element{}, fmt.Errorf("text element missing \"text\" field")
		}
		return keycoder.NewText(*ej.Text), nil
	case "uuid":
		if ej.UUID == nil {
			return keycoder.Element{}, fmt.Errorf("uuid element missing \"uuid\" field")
		}
		u, err := uuid.Parse(*ej.UUID)
		if err != nil {
			return keycoder.Element{}, fmt.Errorf("invalid uuid %q: %w", *ej.UUID, err)
		}
		return keycoder.NewUuid(u), nil
	case "time":
		if ej.Time == nil {
			return keycoder.Element{}, fmt.Errorf("time element missing \"time\" field")
		}
		return keycoder.NewTime(*ej.Time), nil
	default:
		return keycoder.Element{}, fmt.Errorf("unknown element kind %q", ej.Kind)
	}
}

func fromElement(e keycoder.Element) elementJSON {
	switch e.Kind {
	case keycoder.Null:
		return elementJSON{Kind: "null"}
	case keycoder.Bool:
		b := e.BoolVal
		return elementJSON{Kind: "bool", Bool: &b}
	case keycoder.Int:
		n, _ := e.Int64()
		return elementJSON{Kind: "int", Int: &n}
	case keycoder.Bytes:
		return elementJSON{Kind: "bytes", Bytes: e.Bytes}
	case keycoder.Text:
		t := e.Text
		return elementJSON{Kind: "text", Text: &t}
	case keycoder.Uuid:
		s := e.Uuid.String()
		return elementJSON{Kind: "uuid", UUID: &s}
	case keycoder.Time:
		t := e.Time
		return elementJSON{Kind: "time", Time: &t}
	default:
		return elementJSON{Kind: "null"}
	}
}

func toTuple(ejs []elementJSON) ([]keycoder.Element, error) {
	elements := make([]keycoder.Element, len(ejs))
	for i, ej := range ejs {
		e, err := toElement(ej)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		elements[i] = e
	}
	return elements, nil
}

func fromTuple(elements []keycoder.Element) []elementJSON {
	out := make([]elementJSON, len(elements))
	for i, e := range elements {
		out[i] = fromElement(e)
	}
	return out
}

func tablePrefix(table string) []byte {
	return append([]byte(table), tableSep)
}

type putRequest struct {
	Table string        `json:"table"`
	Tuple []elementJSON `json:"tuple"`
	Value []byte        `json:"value"`
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	var req putRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	elements, err := toTuple(req.Tuple)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	k, err := key.FromTuple(elements)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.kv.Set(k.ToRaw(tablePrefix(req.Table)), req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type getGetDeleteRequest struct {
	Table string        `json:"table"`
	Tuple []elementJSON `json:"tuple"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	var req getGetDeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	elements, err := toTuple(req.Tuple)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	k, err := key.FromTuple(elements)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	val, ok := s.kv.Get(k.ToRaw(tablePrefix(req.Table)))
	writeJSON(w, http.StatusOK, map[string]any{"found": ok, "value": val})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req getGetDeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	elements, err := toTuple(req.Tuple)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	k, err := key.FromTuple(elements)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	deleted, err := s.kv.Del(k.ToRaw(tablePrefix(req.Table)))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

type scanRequest struct {
	Table    string        `json:"table"`
	Lo       []elementJSON `json:"lo,omitempty"`
	LoClosed bool          `json:"lo_closed,omitempty"`
	Hi       []elementJSON `json:"hi,omitempty"`
	HiClosed bool          `json:"hi_closed,omitempty"`
	Prefix   []elementJSON `json:"prefix,omitempty"`
	Reverse  bool          `json:"reverse,omitempty"`
	Max      int           `json:"max,omitempty"`
}

type scanResult struct {
	Tuple []elementJSON `json:"tuple"`
	Value []byte        `json:"value"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	it := rangeiter.New(s.kv, tablePrefix(req.Table))

	if len(req.Prefix) > 0 {
		elements, err := toTuple(req.Prefix)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		k, err := key.FromTuple(elements)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		it.SetPrefix(k)
	}
	if len(req.Lo) > 0 {
		elements, err := toTuple(req.Lo)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		k, err := key.FromTuple(elements)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		it.SetLo(k, req.LoClosed)
	}
	if len(req.Hi) > 0 {
		elements, err := toTuple(req.Hi)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		k, err := key.FromTuple(elements)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		it.SetHi(k, req.HiClosed)
	}
	if req.Max > 0 {
		it.SetMax(req.Max)
	}

	var startErr error
	if req.Reverse {
		startErr = it.Reverse()
	} else {
		startErr = it.Forward()
	}
	if startErr != nil {
		writeError(w, http.StatusBadRequest, startErr)
		return
	}
	s.m.RangeScansTotal.Inc()

	results := make([]scanResult, 0)
	for it.Next() {
		elements, err := keyToTuple(it.Key())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		results = append(results, scanResult{Tuple: fromTuple(elements), Value: it.Data()})
		s.m.RangeResultsTotal.Inc()
	}
	if err := it.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func keyToTuple(k *key.Key) ([]keycoder.Element, error) {
	n, err := k.Len()
	if err != nil {
		return nil, err
	}
	elements := make([]keycoder.Element, n)
	it := k.Iter()
	for i := 0; i < n; i++ {
		e, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		elements[i] = e
	}
	return elements, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
