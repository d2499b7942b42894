package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func setupTestServer(t *testing.T) (*Server, *httptest.Server, func()) {
	t.Helper()

	dbPath := "/tmp/test_ordkeyd_" + time.Now().Format("20060102150405.000000000") + ".db"

	srv, err := NewServer(dbPath)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())

	cleanup := func() {
		ts.Close()
		srv.Close()
		os.Remove(dbPath)
		os.Remove(dbPath + ".wal.000")
	}

	return srv, ts, cleanup
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("request to %s failed: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

func textTuple(values ...string) []elementJSON {
	ejs := make([]elementJSON, len(values))
	for i, v := range values {
		s := v
		ejs[i] = elementJSON{Kind: "text", Text: &s}
	}
	return ejs
}

func intTuple(values ...int64) []elementJSON {
	ejs := make([]elementJSON, len(values))
	for i, v := range values {
		n := v
		ejs[i] = elementJSON{Kind: "int", Int: &n}
	}
	return ejs
}

func TestPutGetRoundTrip(t *testing.T) {
	_, ts, cleanup := setupTestServer(t)
	defer cleanup()

	resp := postJSON(t, ts, "/v1/put", putRequest{
		Table: "policies",
		Tuple: textTuple("POL-001"),
		Value: []byte("active"),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/v1/get", getGetDeleteRequest{
		Table: "policies",
		Tuple: textTuple("POL-001"),
	})
	var getResp struct {
		Found bool   `json:"found"`
		Value []byte `json:"value"`
	}
	decodeBody(t, resp, &getResp)

	if !getResp.Found {
		t.Fatal("expected key to be found after put")
	}
	if string(getResp.Value) != "active" {
		t.Fatalf("expected value %q, got %q", "active", getResp.Value)
	}
}

func TestGetMissingKey(t *testing.T) {
	_, ts, cleanup := setupTestServer(t)
	defer cleanup()

	resp := postJSON(t, ts, "/v1/get", getGetDeleteRequest{
		Table: "policies",
		Tuple: textTuple("NOPE"),
	})
	var getResp struct {
		Found bool `json:"found"`
	}
	decodeBody(t, resp, &getResp)
	if getResp.Found {
		t.Fatal("expected key to be absent")
	}
}

func TestDelete(t *testing.T) {
	_, ts, cleanup := setupTestServer(t)
	defer cleanup()

	postJSON(t, ts, "/v1/put", putRequest{
		Table: "policies",
		Tuple: textTuple("POL-002"),
		Value: []byte("x"),
	}).Body.Close()

	resp := postJSON(t, ts, "/v1/delete", getGetDeleteRequest{
		Table: "policies",
		Tuple: textTuple("POL-002"),
	})
	var delResp struct {
		Deleted bool `json:"deleted"`
	}
	decodeBody(t, resp, &delResp)
	if !delResp.Deleted {
		t.Fatal("expected delete to report true")
	}

	resp = postJSON(t, ts, "/v1/get", getGetDeleteRequest{
		Table: "policies",
		Tuple: textTuple("POL-002"),
	})
	var getResp struct {
		Found bool `json:"found"`
	}
	decodeBody(t, resp, &getResp)
	if getResp.Found {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestScanForwardAndReverse(t *testing.T) {
	_, ts, cleanup := setupTestServer(t)
	defer cleanup()

	for i := int64(1); i <= 3; i++ {
		postJSON(t, ts, "/v1/put", putRequest{
			Table: "nodes",
			Tuple: intTuple(i),
			Value: []byte{byte(i)},
		}).Body.Close()
	}

	resp := postJSON(t, ts, "/v1/scan", scanRequest{Table: "nodes"})
	var scanResp struct {
		Results []scanResult `json:"results"`
	}
	decodeBody(t, resp, &scanResp)
	if len(scanResp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(scanResp.Results))
	}
	if scanResp.Results[0].Value[0] != 1 || scanResp.Results[2].Value[0] != 3 {
		t.Fatalf("expected ascending order, got %+v", scanResp.Results)
	}

	resp = postJSON(t, ts, "/v1/scan", scanRequest{Table: "nodes", Reverse: true})
	decodeBody(t, resp, &scanResp)
	if len(scanResp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(scanResp.Results))
	}
	if scanResp.Results[0].Value[0] != 3 || scanResp.Results[2].Value[0] != 1 {
		t.Fatalf("expected descending order, got %+v", scanResp.Results)
	}
}

func TestScanWithMaxLimit(t *testing.T) {
	_, ts, cleanup := setupTestServer(t)
	defer cleanup()

	for i := int64(1); i <= 5; i++ {
		postJSON(t, ts, "/v1/put", putRequest{
			Table: "nodes",
			Tuple: intTuple(i),
			Value: []byte{byte(i)},
		}).Body.Close()
	}

	resp := postJSON(t, ts, "/v1/scan", scanRequest{Table: "nodes", Max: 2})
	var scanResp struct {
		Results []scanResult `json:"results"`
	}
	decodeBody(t, resp, &scanResp)
	if len(scanResp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(scanResp.Results))
	}
}

func TestPutRejectsMalformedBody(t *testing.T) {
	_, ts, cleanup := setupTestServer(t)
	defer cleanup()

	resp, err := http.Post(ts.URL+"/v1/put", "application/json", bytes.NewReader([]byte("not json")))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
