// Package testfixture provides a mock pointer/document HTTP server for
// exercising internal/lifecycle against real transport semantics
// (conditional GET, ETag comparison) instead of a stub Fetcher. The
// content-addressed store behind it is a miniredis-backed go-redis
// client, standing in for the production store the engine treats as an
// external collaborator.
package testfixture

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/vitaliisemenov/featureflag/internal/model"
)

const pointerKey = "pointer"

// Server is a mock pointer/document endpoint pair backed by redis.
type Server struct {
	httpServer *httptest.Server
	redis      *redis.Client
	mini       *miniredis.Miniredis
}

// NewServer starts the fixture and registers its cleanup with t.
func NewServer(t *testing.T) *Server {
	t.Helper()

	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})

	s := &Server{redis: client, mini: mini}

	router := mux.NewRouter()
	router.HandleFunc("/pointer", s.handlePointer).Methods(http.MethodGet)
	router.HandleFunc("/documents/{version}", s.handleDocument).Methods(http.MethodGet)

	s.httpServer = httptest.NewServer(router)
	t.Cleanup(func() {
		s.httpServer.Close()
		_ = client.Close()
	})
	return s
}

func (s *Server) handlePointer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw, err := s.redis.Get(ctx, pointerKey).Result()
	if err == redis.Nil {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var ptr model.PointerDocument
	if err := json.Unmarshal([]byte(raw), &ptr); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == ptr.Version {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", ptr.Version)
	if country, _ := s.redis.Get(ctx, "country").Result(); country != "" {
		w.Header().Set("Country", country)
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(raw))
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	version := mux.Vars(r)["version"]
	body, err := s.redis.Get(r.Context(), docKey(version)).Result()
	if err == redis.Nil {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func docKey(version string) string { return "doc:" + version }

// Publish installs a new pointer version and its document body, the
// way an out-of-band rule-authoring pipeline would.
func (s *Server) Publish(ctx context.Context, version string, body []byte, minPollIntervalSecs int) error {
	ptr := model.PointerDocument{Version: version, MinPollIntervalSecs: minPollIntervalSecs}
	raw, err := json.Marshal(ptr)
	if err != nil {
		return fmt.Errorf("testfixture: marshal pointer: %w", err)
	}
	if err := s.redis.Set(ctx, pointerKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("testfixture: publish pointer: %w", err)
	}
	if err := s.redis.Set(ctx, docKey(version), body, 0).Err(); err != nil {
		return fmt.Errorf("testfixture: publish document: %w", err)
	}
	return nil
}

// SetCountry makes the pointer endpoint emit a Country response header.
func (s *Server) SetCountry(ctx context.Context, country string) error {
	return s.redis.Set(ctx, "country", country, 0).Err()
}

// PointerURL is the fixture's pointer-document endpoint.
func (s *Server) PointerURL() string { return s.httpServer.URL + "/pointer" }

// DocumentURL derives a document URL from its version, matching the
// shape lifecycle.NewHTTPFetcher expects.
func (s *Server) DocumentURL(version string) string {
	return s.httpServer.URL + "/documents/" + strings.TrimSpace(version)
}
