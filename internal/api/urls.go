package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

const maxSeedsPerRequest = 1000

type enqueueRequest struct {
	URLs []seedRequest `json:"urls"`
}

type seedRequest struct {
	Address     string `json:"address"`
	FetchMethod string `json:"fetch_method"`
	PageKind    string `json:"page_kind"`
}

type enqueueResponse struct {
	Submitted int `json:"submitted"`
	Inserted  int `json:"inserted"`
}

func (s *Server) enqueueURLs(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	seeds, err := toSeeds(req.URLs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	inserted, err := s.deps.Work.Enqueue(r.Context(), seeds)
	if err != nil {
		s.writeStoreError(w, "enqueue", err)
		return
	}
	s.logger.Info("seeds enqueued", zap.Int("submitted", len(seeds)), zap.Int("inserted", inserted))
	writeJSON(w, http.StatusAccepted, enqueueResponse{Submitted: len(seeds), Inserted: inserted})
}

func toSeeds(in []seedRequest) ([]pipeline.Seed, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("urls required")
	}
	if len(in) > maxSeedsPerRequest {
		return nil, fmt.Errorf("at most %d urls per request", maxSeedsPerRequest)
	}
	seeds := make([]pipeline.Seed, 0, len(in))
	for i, item := range in {
		seed, err := pipeline.NormalizeSeed(pipeline.Seed{
			Address:     item.Address,
			FetchMethod: pipeline.FetchMethod(strings.ToUpper(item.FetchMethod)),
			PageKind:    pipeline.PageKind(strings.ToUpper(item.PageKind)),
		})
		if err != nil {
			return nil, fmt.Errorf("urls[%d]: %w", i, err)
		}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}

func (s *Server) listFailedURLs(w http.ResponseWriter, r *http.Request) {
	limit, ok := listLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	urls, err := s.deps.Work.ListFailed(r.Context(), limit)
	if err != nil {
		s.writeStoreError(w, "list failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"urls": urls})
}

func (s *Server) getURL(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	u, err := s.deps.Work.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "get url", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) requeueURL(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.deps.Work.Requeue(r.Context(), id); err != nil {
		s.writeStoreError(w, "requeue", err)
		return
	}
	u, err := s.deps.Work.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "get url", err)
		return
	}
	s.logger.Info("url requeued", zap.Int64("url_id", id), zap.String("address", u.Address))
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) purgeURL(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.deps.Work.Purge(r.Context(), id); err != nil {
		s.writeStoreError(w, "purge", err)
		return
	}
	s.logger.Info("url purged", zap.Int64("url_id", id))
	w.WriteHeader(http.StatusNoContent)
}
