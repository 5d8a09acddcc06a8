package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"auctionwatch/hub"
	"auctionwatch/models"
)

// Store is the persistence surface the HTTP layer reads and writes.
type Store interface {
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	ListUpcomingAuctions(ctx context.Context, now time.Time) ([]models.Listing, error)
	GetWatchlistListings(ctx context.Context, ownerID int64) ([]models.Listing, error)
	AddWatchlistEntry(ctx context.Context, ownerID int64, listingID string) error
	RemoveWatchlistEntry(ctx context.Context, ownerID int64, listingID string) error
	ListNotifications(ctx context.Context, ownerID int64, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkNotificationDismissed(ctx context.Context, id uuid.UUID, at time.Time) error
}

type Server struct {
	store    Store
	hub      *hub.Hub
	upgrader websocket.Upgrader
	http     *http.Server
}

func New(addr string, store Store, h *hub.Hub) *Server {
	s := &Server{
		store: store,
		hub:   h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from app origins we do not control here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWebsocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/listings", s.handleListListings)
		r.Get("/listings/{id}", s.handleGetListing)
		r.Get("/notifications", s.handleListNotifications)
		r.Post("/notifications/{id}/read", s.handleMarkRead)
		r.Post("/notifications/{id}/dismiss", s.handleMarkDismissed)
		r.Post("/watchlist/{listingID}", s.handleAddWatch)
		r.Delete("/watchlist/{listingID}", s.handleRemoveWatch)
	})

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	log.Printf("HTTP server listening on %s", s.http.Addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.hub.ConnCount(),
	})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerParam(w, r)
	if !ok {
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Server: websocket upgrade: %v", err)
		return
	}

	conn := hub.NewConn(s.hub, ws, ownerID)

	listings, err := s.store.GetWatchlistListings(r.Context(), ownerID)
	if err != nil {
		log.Printf("Server: load watchlist for owner %d: %v", ownerID, err)
		return
	}
	conn.SendInitialState(listings)
}

func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	listings, err := s.store.ListUpcomingAuctions(r.Context(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list auctions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": listings})
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := s.store.GetListing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load listing")
		return
	}
	if listing == nil {
		writeError(w, http.StatusNotFound, "listing not found")
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerParam(w, r)
	if !ok {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	notifications, err := s.store.ListNotifications(r.Context(), ownerID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	s.markNotification(w, r, s.store.MarkNotificationRead)
}

func (s *Server) handleMarkDismissed(w http.ResponseWriter, r *http.Request) {
	s.markNotification(w, r, s.store.MarkNotificationDismissed)
}

func (s *Server) markNotification(w http.ResponseWriter, r *http.Request, mark func(context.Context, uuid.UUID, time.Time) error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	if err := mark(r.Context(), id, time.Now()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update notification")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAddWatch(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerParam(w, r)
	if !ok {
		return
	}
	listingID := chi.URLParam(r, "listingID")

	listing, err := s.store.GetListing(r.Context(), listingID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load listing")
		return
	}
	if listing == nil {
		writeError(w, http.StatusNotFound, "listing not found")
		return
	}

	if err := s.store.AddWatchlistEntry(r.Context(), ownerID, listingID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add watchlist entry")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (s *Server) handleRemoveWatch(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerParam(w, r)
	if !ok {
		return
	}
	if err := s.store.RemoveWatchlistEntry(r.Context(), ownerID, chi.URLParam(r, "listingID")); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove watchlist entry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func ownerParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	ownerID, err := strconv.ParseInt(r.URL.Query().Get("owner"), 10, 64)
	if err != nil || ownerID <= 0 {
		writeError(w, http.StatusBadRequest, "missing or invalid owner parameter")
		return 0, false
	}
	return ownerID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Server: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
