package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/voyagen/m3uvault/internal/m3u"
	"github.com/voyagen/m3uvault/internal/models"
	"github.com/voyagen/m3uvault/internal/service"
	"github.com/voyagen/m3uvault/internal/store"
)

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.ListSubscriptions(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if subs == nil {
		subs = []models.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

type addSubscriptionRequest struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	UserAgent string `json:"user_agent"`
}

func (s *Server) handleAddSubscription(w http.ResponseWriter, r *http.Request) {
	var req addSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.URL == "" {
		s.writeErr(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}

	res, err := s.refresher.Subscribe(r.Context(), req.URL, req.Title, req.UserAgent)
	if err != nil {
		s.fail(w, err)
		return
	}
	sub, err := s.store.GetSubscription(r.Context(), res.SubscriptionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"subscription": sub,
		"refresh":      res,
	})
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}

	sub, err := s.store.GetSubscription(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeErr(w, http.StatusNotFound, fmt.Errorf("subscription %d not found", id))
			return
		}
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type updateSubscriptionRequest struct {
	Title     *string `json:"title"`
	URL       *string `json:"url"`
	UserAgent *string `json:"user_agent"`
	Enabled   *bool   `json:"enabled"`
}

func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}

	var req updateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.URL != nil {
		trimmed := strings.TrimSpace(*req.URL)
		if err := s.refresher.ValidateURL(trimmed); err != nil {
			s.writeErr(w, http.StatusBadRequest, err)
			return
		}
		req.URL = &trimmed
	}

	fields := store.SubscriptionUpdate{
		Title:     req.Title,
		URL:       req.URL,
		UserAgent: req.UserAgent,
		Enabled:   req.Enabled,
	}
	if err := s.store.UpdateSubscription(r.Context(), id, fields); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeErr(w, http.StatusNotFound, fmt.Errorf("subscription %d not found", id))
			return
		}
		s.fail(w, err)
		return
	}

	// Return the updated subscription.
	sub, err := s.store.GetSubscription(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}

	if err := s.store.DeleteSubscription(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeErr(w, http.StatusNotFound, fmt.Errorf("subscription %d not found", id))
			return
		}
		s.fail(w, err)
		return
	}
	writeNoContent(w)
}

func (s *Server) handleRefreshSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}

	if r.URL.Query().Get("async") == "true" {
		if s.worker == nil {
			s.writeErr(w, http.StatusServiceUnavailable, errors.New("async refresh is not configured (REDIS_URL not set)"))
			return
		}
		runID, err := s.worker.Enqueue(r.Context(), id)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"subscription_id": id,
			"run_id":          runID,
			"queued":          true,
		})
		return
	}

	res, err := s.refresher.Refresh(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrDisabled) {
			s.writeErr(w, http.StatusConflict, fmt.Errorf("subscription %d is disabled", id))
			return
		}
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleExportPlaylist renders the stored lives of a subscription as M3U.
func (s *Server) handleExportPlaylist(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.store.GetSubscription(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}

	var lives []models.Live
	filter := store.LiveFilter{SubscriptionID: &id, Limit: store.MaxLimit}
	for {
		page, total, err := s.store.ListLives(r.Context(), filter)
		if err != nil {
			s.fail(w, err)
			return
		}
		lives = append(lives, page...)
		filter.Offset += len(page)
		if len(page) == 0 || filter.Offset >= total {
			break
		}
	}

	var buf bytes.Buffer
	if err := m3u.Write(&buf, lives); err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/x-mpegurl")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="subscription-%d.m3u"`, id))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
