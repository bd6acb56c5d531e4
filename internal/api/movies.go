package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

type movieDetail struct {
	pipeline.Movie
	Ratings  []pipeline.Rating  `json:"ratings"`
	Comments []pipeline.Comment `json:"comments"`
}

func (s *Server) listMovies(w http.ResponseWriter, r *http.Request) {
	limit, ok := listLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	movies, err := s.deps.Movies.List(r.Context(), limit, offset)
	if err != nil {
		s.writeStoreError(w, "list movies", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movies": movies, "limit": limit, "offset": offset})
}

func (s *Server) getMovie(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	movie, err := s.deps.Movies.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "get movie", err)
		return
	}
	out := movieDetail{Movie: movie}
	if s.deps.Users != nil {
		if out.Ratings, err = s.deps.Users.ListRatings(r.Context(), id); err != nil {
			s.writeStoreError(w, "list ratings", err)
			return
		}
		if out.Comments, err = s.deps.Users.ListComments(r.Context(), id); err != nil {
			s.writeStoreError(w, "list comments", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if s.deps.Users == nil {
		writeError(w, http.StatusNotImplemented, "user store not configured")
		return
	}
	if err := s.deps.Users.DeleteUser(r.Context(), id); err != nil {
		s.writeStoreError(w, "delete user", err)
		return
	}
	s.logger.Info("user deleted", zap.Int64("user_id", id))
	w.WriteHeader(http.StatusNoContent)
}
