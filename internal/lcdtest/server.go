// Package lcdtest is a fake LCD node for tests: node_info plus contract smart queries.
package lcdtest

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// QueryFunc answers one decoded query message. Return a non-2xx status to reject it.
type QueryFunc func(msg map[string]json.RawMessage) (answer any, status int)

// Server records every query it receives.
type Server struct {
	*httptest.Server

	ChainID string

	mu      sync.Mutex
	handler QueryFunc
	queries []map[string]json.RawMessage
}

func New(t *testing.T, chainID string, handler QueryFunc) *Server {
	t.Helper()
	s := &Server{ChainID: chainID, handler: handler}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// SetHandler swaps the query handler.
func (s *Server) SetHandler(h QueryFunc) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Queries returns the decoded messages received so far.
func (s *Server) Queries() []map[string]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]json.RawMessage(nil), s.queries...)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/cosmos/base/tendermint/v1beta1/node_info":
		writeJSON(w, http.StatusOK, map[string]any{
			"default_node_info": map[string]any{"network": s.ChainID, "moniker": "lcdtest"},
		})

	case strings.HasPrefix(r.URL.Path, "/compute/v1beta1/query/"):
		raw, err := base64.StdEncoding.DecodeString(r.URL.Query().Get("query"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": 3, "message": "bad query encoding"})
			return
		}
		var msg map[string]json.RawMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": 3, "message": "bad query json"})
			return
		}

		s.mu.Lock()
		s.queries = append(s.queries, msg)
		h := s.handler
		s.mu.Unlock()

		if h == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"code": 5, "message": "no handler"})
			return
		}
		answer, status := h(msg)
		if status < 200 || status > 299 {
			writeJSON(w, status, answer)
			return
		}
		data, err := json.Marshal(answer)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"code": 13, "message": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"data": base64.StdEncoding.EncodeToString(data)})

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Reject builds an LCD error body.
func Reject(code int, message string) (any, int) {
	return map[string]any{"code": code, "message": message}, http.StatusBadRequest
}
