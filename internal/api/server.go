// Package api exposes the registry operations over HTTP. Binary entry
// points accept raw instruction bytes; JSON conveniences build the same
// instructions from hex-encoded fields. All mutations go through the
// serializing registry service.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"Oraculum/internal/logger"
	"Oraculum/internal/record"
	"Oraculum/internal/registry"
)

const (
	// maxInstructionSize bounds POST /ix bodies. Instructions are tiny.
	maxInstructionSize = 4 << 10

	// maxSnapshotSize bounds PUT /snapshot bodies.
	maxSnapshotSize = 256 << 20
)

// Server is the HTTP API server.
type Server struct {
	addr   string            // addr is the HTTP listen address
	svc    *registry.Service // svc applies instructions with per-entity serialization
	server *http.Server      // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, svc *registry.Service) *Server {
	return &Server{
		addr: addr,
		svc:  svc,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ix", s.handleInstruction)
	mux.HandleFunc("POST /anchor", s.handleInitAnchor)
	mux.HandleFunc("GET /anchor", s.handleGetAnchor)
	mux.HandleFunc("POST /entity", s.handleInitEntity)
	mux.HandleFunc("POST /entity/update", s.handleUpdateEntity)
	mux.HandleFunc("GET /entity/{ref}", s.handleGetEntity)
	mux.HandleFunc("GET /snapshot", s.handleGetSnapshot)
	mux.HandleFunc("PUT /snapshot", s.handlePutSnapshot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleInstruction handles POST /ix with raw instruction bytes.
func (s *Server) handleInstruction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInstructionSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	state, err := s.svc.ApplyBytes(body)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeApplied(w, state)
}

// handleInitAnchor handles POST /anchor.
func (s *Server) handleInitAnchor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AuthorityKey string `json:"authorityKey"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	key, err := decodeHex32(req.AuthorityKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid authorityKey: %v", err))
		return
	}

	_, applyErr := s.svc.Apply(registry.Instruction{
		Kind:         registry.KindInitTrustAnchor,
		AuthorityKey: key,
	})
	if applyErr != nil {
		writeRegistryError(w, applyErr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"authorityKey": req.AuthorityKey,
	})
}

// handleGetAnchor handles GET /anchor.
func (s *Server) handleGetAnchor(w http.ResponseWriter, r *http.Request) {
	anchor, err := s.svc.Registry().TrustAnchor()
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	if !anchor.Initialized {
		writeError(w, http.StatusNotFound, "trust anchor not initialized")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"initialized":  true,
		"authorityKey": hex.EncodeToString(anchor.AuthorityKey[:]),
	})
}

// handleInitEntity handles POST /entity.
func (s *Server) handleInitEntity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ref string `json:"ref"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ref, err := decodeHex32(req.Ref)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid ref: %v", err))
		return
	}

	state, applyErr := s.svc.Apply(registry.Instruction{
		Kind:      registry.KindInitEntity,
		EntityRef: ref,
	})
	if applyErr != nil {
		writeRegistryError(w, applyErr)
		return
	}

	writeApplied(w, state)
}

// handleUpdateEntity handles POST /entity/update.
func (s *Server) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ref         string `json:"ref"`
		Attestation string `json:"attestation"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ref, err := decodeHex32(req.Ref)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid ref: %v", err))
		return
	}

	attestation, err := hex.DecodeString(req.Attestation)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attestation hex")
		return
	}

	state, applyErr := s.svc.Apply(registry.Instruction{
		Kind:        registry.KindUpdateEntity,
		EntityRef:   ref,
		Attestation: attestation,
	})
	if applyErr != nil {
		writeRegistryError(w, applyErr)
		return
	}

	writeApplied(w, state)
}

// handleGetEntity handles GET /entity/{ref}.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	ref, err := decodeHex32(r.PathValue("ref"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid ref: %v", err))
		return
	}

	state, getErr := s.svc.Registry().Entity(ref)
	if getErr != nil {
		if errors.Is(getErr, registry.ErrNotInitialized) {
			writeError(w, http.StatusNotFound, "entity not found")
			return
		}
		writeRegistryError(w, getErr)
		return
	}

	writeJSON(w, http.StatusOK, entityView(&state))
}

// handleGetSnapshot handles GET /snapshot.
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := s.svc.Registry().ExportSnapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("export snapshot: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handlePutSnapshot handles PUT /snapshot.
func (s *Server) handlePutSnapshot(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	count, importErr := s.svc.Registry().ImportSnapshot(body)
	if importErr != nil {
		writeRegistryError(w, importErr)
		return
	}

	logger.Info("snapshot imported", "entities", count)

	writeJSON(w, http.StatusOK, map[string]int{"entities": count})
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	reg := s.svc.Registry()

	anchor, err := reg.TrustAnchor()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read anchor: %v", err))
		return
	}

	count, err := reg.EntityCount()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("count entities: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"anchorInitialized": anchor.Initialized,
		"entities":          count,
		"scheme":            reg.Scheme().String(),
	})
}

// entityView renders an entity state for JSON responses.
func entityView(state *record.EntityState) map[string]any {
	return map[string]any{
		"ref":              hex.EncodeToString(state.EntityRef[:]),
		"lastValue":        state.LastValue,
		"lastTimestamp":    state.LastTimestamp,
		"accumulatedScore": state.AccumulatedScore,
	}
}

// writeApplied writes the result of a successful instruction.
func writeApplied(w http.ResponseWriter, state *record.EntityState) {
	if state == nil {
		writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
		return
	}

	writeJSON(w, http.StatusOK, entityView(state))
}

// writeRegistryError maps a registry error kind to an HTTP status.
func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrAlreadyInitialized):
		writeError(w, http.StatusConflict, "already initialized")
	case errors.Is(err, registry.ErrNotInitialized):
		writeError(w, http.StatusConflict, "not initialized")
	case errors.Is(err, registry.ErrMalformedRecord):
		writeError(w, http.StatusBadRequest, "malformed record")
	case errors.Is(err, registry.ErrSignatureInvalid):
		writeError(w, http.StatusUnauthorized, "signature verification failed")
	case errors.Is(err, registry.ErrStale):
		writeError(w, http.StatusConflict, "stale attestation")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeHex32 parses a 32-byte hex string.
func decodeHex32(s string) ([32]byte, error) {
	var out [32]byte

	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}

	if len(raw) != 32 {
		return out, fmt.Errorf("got %d bytes, want 32", len(raw))
	}

	copy(out[:], raw)

	return out, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
