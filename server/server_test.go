package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"auctionwatch/hub"
	"auctionwatch/models"
)

func wsDial(url string) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.Dial(url, nil)
}

type memStore struct {
	listings      map[string]*models.Listing
	watchlist     map[int64][]string
	notifications map[int64][]models.Notification
	read          []uuid.UUID
	dismissed     []uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		listings:      make(map[string]*models.Listing),
		watchlist:     make(map[int64][]string),
		notifications: make(map[int64][]models.Notification),
	}
}

func (m *memStore) GetListing(_ context.Context, id string) (*models.Listing, error) {
	return m.listings[id], nil
}

func (m *memStore) ListUpcomingAuctions(_ context.Context, _ time.Time) ([]models.Listing, error) {
	var out []models.Listing
	for _, l := range m.listings {
		out = append(out, *l)
	}
	return out, nil
}

func (m *memStore) GetWatchlistListings(_ context.Context, ownerID int64) ([]models.Listing, error) {
	var out []models.Listing
	for _, id := range m.watchlist[ownerID] {
		if l, ok := m.listings[id]; ok {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *memStore) AddWatchlistEntry(_ context.Context, ownerID int64, listingID string) error {
	m.watchlist[ownerID] = append(m.watchlist[ownerID], listingID)
	return nil
}

func (m *memStore) RemoveWatchlistEntry(_ context.Context, ownerID int64, listingID string) error {
	var kept []string
	for _, id := range m.watchlist[ownerID] {
		if id != listingID {
			kept = append(kept, id)
		}
	}
	m.watchlist[ownerID] = kept
	return nil
}

func (m *memStore) ListNotifications(_ context.Context, ownerID int64, limit int) ([]models.Notification, error) {
	out := m.notifications[ownerID]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) MarkNotificationRead(_ context.Context, id uuid.UUID, _ time.Time) error {
	m.read = append(m.read, id)
	return nil
}

func (m *memStore) MarkNotificationDismissed(_ context.Context, id uuid.UUID, _ time.Time) error {
	m.dismissed = append(m.dismissed, id)
	return nil
}

func testServer(t *testing.T, store *memStore) *httptest.Server {
	t.Helper()
	s := New(":0", store, hub.New(time.Minute))
	srv := httptest.NewServer(s.http.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	srv := testServer(t, newMemStore())

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]any
	decode(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestGetListing(t *testing.T) {
	store := newMemStore()
	store.listings["HUD-srv01"] = &models.Listing{ID: "HUD-srv01", City: "Miami", Status: models.StatusAuction}
	srv := testServer(t, store)

	resp, err := http.Get(srv.URL + "/api/listings/HUD-srv01")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var l models.Listing
	decode(t, resp, &l)
	if l.ID != "HUD-srv01" || l.City != "Miami" {
		t.Fatalf("unexpected listing %+v", l)
	}

	resp, err = http.Get(srv.URL + "/api/listings/HUD-missing")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestListNotifications_OwnerRequired(t *testing.T) {
	store := newMemStore()
	store.notifications[7] = []models.Notification{{ID: uuid.New(), OwnerID: 7, Title: "Status changed"}}
	srv := testServer(t, store)

	resp, err := http.Get(srv.URL + "/api/notifications")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without owner, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/notifications?owner=7")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Notifications []models.Notification `json:"notifications"`
	}
	decode(t, resp, &body)
	if len(body.Notifications) != 1 || body.Notifications[0].Title != "Status changed" {
		t.Fatalf("unexpected notifications %+v", body.Notifications)
	}
}

func TestMarkReadAndDismiss(t *testing.T) {
	store := newMemStore()
	srv := testServer(t, store)
	id := uuid.New()

	resp, err := http.Post(srv.URL+"/api/notifications/"+id.String()+"/read", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(store.read) != 1 || store.read[0] != id {
		t.Fatalf("expected read mark for %s", id)
	}

	resp, err = http.Post(srv.URL+"/api/notifications/"+id.String()+"/dismiss", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(store.dismissed) != 1 {
		t.Fatal("expected dismiss mark")
	}

	resp, err = http.Post(srv.URL+"/api/notifications/not-a-uuid/read", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", resp.StatusCode)
	}
}

func TestWatchlistAddRemove(t *testing.T) {
	store := newMemStore()
	store.listings["HUD-srv01"] = &models.Listing{ID: "HUD-srv01"}
	srv := testServer(t, store)

	resp, err := http.Post(srv.URL+"/api/watchlist/HUD-srv01?owner=7", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if len(store.watchlist[7]) != 1 {
		t.Fatal("expected watchlist entry")
	}

	// Unknown listings cannot be watched.
	resp, err = http.Post(srv.URL+"/api/watchlist/HUD-missing?owner=7", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/watchlist/HUD-srv01?owner=7", nil)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(store.watchlist[7]) != 0 {
		t.Fatal("expected watchlist entry removed")
	}
}

func TestWebsocketInitialState(t *testing.T) {
	store := newMemStore()
	date := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	store.listings["HUD-srv01"] = &models.Listing{
		ID:          "HUD-srv01",
		Street:      "123 Main St",
		City:        "Miami",
		State:       "FL",
		Status:      models.StatusAuction,
		AuctionDate: &date,
	}
	store.watchlist[7] = []string{"HUD-srv01"}
	srv := testServer(t, store)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?owner=7"
	client, _, err := wsDial(url)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if msg["type"] != "initial_state" {
		t.Fatalf("expected initial_state, got %v", msg["type"])
	}
	auctions := msg["auctions"].([]any)
	if len(auctions) != 1 {
		t.Fatalf("expected 1 auction, got %d", len(auctions))
	}
}
