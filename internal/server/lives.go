package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/voyagen/m3uvault/internal/m3u"
	"github.com/voyagen/m3uvault/internal/models"
	"github.com/voyagen/m3uvault/internal/store"
)

func parseBool(v string) (bool, error) {
	switch v {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean: %s (use true or false)", v)
}

func (s *Server) handleListLives(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.LiveFilter{
		Search: q.Get("search"),
	}

	if v := q.Get("subscription_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid subscription_id: %s", v))
			return
		}
		filter.SubscriptionID = &id
	}
	if q.Has("group") {
		g := q.Get("group")
		filter.Group = &g
	}
	if v := q.Get("favourite"); v != "" {
		fav, err := parseBool(v)
		if err != nil {
			s.writeErr(w, http.StatusBadRequest, fmt.Errorf("favourite: %w", err))
			return
		}
		filter.Favourite = &fav
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", v))
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid offset: %s", v))
			return
		}
		filter.Offset = n
	}

	// Apply defaults so the response reflects actual values used.
	filter = filter.Normalize()

	lives, total, err := s.store.ListLives(r.Context(), filter)
	if err != nil {
		s.fail(w, err)
		return
	}
	if lives == nil {
		lives = []models.Live{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"lives":  lives,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (s *Server) handleGetLive(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}

	live, err := s.store.GetLive(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeErr(w, http.StatusNotFound, fmt.Errorf("live %d not found", id))
			return
		}
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, live)
}

type setFavouriteRequest struct {
	Favourite bool `json:"favourite"`
}

func (s *Server) handleSetFavourite(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}

	var req setFavouriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	if err := s.store.SetFavourite(r.Context(), id, req.Favourite); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeErr(w, http.StatusNotFound, fmt.Errorf("live %d not found", id))
			return
		}
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"live_id":   id,
		"favourite": req.Favourite,
	})
}

// --- group handlers ---

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query().Get("subscription_id")
	if v == "" {
		s.writeErr(w, http.StatusBadRequest, errors.New("subscription_id is required"))
		return
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid subscription_id: %s", v))
		return
	}

	groups, err := s.store.ListGroups(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	if groups == nil {
		groups = []models.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

// --- parse handler ---

// handleParse parses the request body without storing anything.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	subscriptionURL := r.URL.Query().Get("subscription_url")
	if subscriptionURL == "" {
		s.writeErr(w, http.StatusBadRequest, m3u.ErrMissingSubscriptionURL)
		return
	}

	body := r.Body
	if s.cfg.MaxPlaylistBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.cfg.MaxPlaylistBytes)
	}
	lives, stats, err := m3u.Parse(body, subscriptionURL, m3u.WithOptions(s.cfg.Parser.Options()))
	if err != nil {
		s.fail(w, err)
		return
	}
	if lives == nil {
		lives = []models.Live{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lives": lives,
		"stats": stats,
	})
}
