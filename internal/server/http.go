package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/scene"
	"github.com/zeusync/crdtsync/internal/core/storage"
)

const binaryContentType = "application/octet-stream"

type digestResponse struct {
	Scene    string `json:"scene"`
	Digest   string `json:"digest"`
	Messages int    `json:"messages"`
	Entities int    `json:"entities"`
	Peers    int    `json:"peers"`
}

type snapshotsResponse struct {
	Snapshots []snapshotEntry `json:"snapshots"`
	Count     int             `json:"count"`
	Bytes     int64           `json:"bytes"`
}

type snapshotEntry struct {
	Scene     string    `json:"scene"`
	Size      int       `json:"size"`
	Digest    string    `json:"digest"`
	UpdatedAt time.Time `json:"updated_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Group(func(r chi.Router) {
		if s.config.Token != "" {
			r.Use(tokenAuth(s.config.Token))
		}
		r.Get("/snapshots", s.handleSnapshots)
		r.Route("/scenes/{id}", func(r chi.Router) {
			r.Get("/state", s.handleState)
			r.Get("/digest", s.handleDigest)
			r.Delete("/", s.handleDrop)
			r.Get("/ws", s.handleWebSocket)
		})
	})
	return r
}

func sceneID(r *http.Request) scene.ID {
	return scene.ID(chi.URLParam(r, "id"))
}

// handleState writes the full state, or only the entries newer than the since
// query parameter.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.hub.Get(sceneID(r))
	if !ok {
		writeError(w, http.StatusNotFound, scene.ErrSceneNotFound)
		return
	}

	var (
		data []byte
		err  error
	)
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, perr := strconv.ParseUint(raw, 10, 32)
		if perr != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid since: %w", perr))
			return
		}
		data, err = sc.ChangesSince(uint32(since))
	} else {
		data, err = sc.State()
	}
	if err != nil {
		s.writeSceneError(w, err)
		return
	}

	w.Header().Set("Content-Type", binaryContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	id := sceneID(r)
	sc, ok := s.hub.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, scene.ErrSceneNotFound)
		return
	}

	digest, err := sc.Digest()
	if err != nil {
		s.writeSceneError(w, err)
		return
	}
	stats := sc.Stats()
	writeJSON(w, http.StatusOK, digestResponse{
		Scene:    string(id),
		Digest:   fmt.Sprintf("%016x", digest),
		Messages: stats.Messages,
		Entities: stats.Entities,
		Peers:    s.rooms.count(id),
	})
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	id := sceneID(r)
	s.rooms.closeRoom(id)
	if err := s.hub.Drop(r.Context(), id); err != nil {
		s.writeSceneError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeError(w, http.StatusNotFound, storage.ErrNotConfigured)
		return
	}

	records, err := s.snapshots.List(r.Context())
	if err != nil {
		s.logger.Error("Listing snapshots failed", log.Err(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	stats, err := s.snapshots.Statistics(r.Context())
	if err != nil {
		s.logger.Error("Snapshot statistics failed", log.Err(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := snapshotsResponse{
		Snapshots: make([]snapshotEntry, 0, len(records)),
		Count:     stats.Snapshots,
		Bytes:     stats.Bytes,
	}
	for _, rec := range records {
		resp.Snapshots = append(resp.Snapshots, snapshotEntry{
			Scene:     rec.SceneID,
			Size:      rec.Size,
			Digest:    fmt.Sprintf("%016x", rec.Digest),
			UpdatedAt: rec.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeSceneError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scene.ErrSceneNotFound), errors.Is(err, scene.ErrSceneClosed):
		writeError(w, http.StatusNotFound, err)
	default:
		s.logger.Error("Scene request failed", log.Err(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
