package monitor

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"auctionwatch/models"
)

const earthRadiusMiles = 3958.8

// HaversineMiles computes the great-circle distance in miles between two
// coordinate pairs.
func HaversineMiles(lat1, lng1, lat2, lng2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	dlat := (lat2 - lat1) * math.Pi / 180
	dlng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dlng/2)*math.Sin(dlng/2)
	return earthRadiusMiles * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// AlertMatches reports whether every filter declared on the alert is
// satisfied by the listing. An alert with no filters beyond its kind matches
// any listing.
func AlertMatches(a *models.Alert, l *models.Listing) bool {
	if l == nil {
		return false
	}

	if len(a.States) > 0 && !containsFold(a.States, l.State) {
		return false
	}
	if a.City != "" && !strings.EqualFold(a.City, l.City) {
		return false
	}
	if a.MinBid != nil || a.MaxBid != nil {
		if l.OpeningBid == nil {
			return false
		}
		if a.MinBid != nil && *l.OpeningBid < *a.MinBid {
			return false
		}
		if a.MaxBid != nil && *l.OpeningBid > *a.MaxBid {
			return false
		}
	}
	if len(a.PropertyTypes) > 0 && !containsFold(a.PropertyTypes, l.PropertyType) {
		return false
	}
	if a.HasGeoFilter() {
		if !l.HasCoordinates() {
			return false
		}
		dist := HaversineMiles(*a.CenterLat, *a.CenterLng, *l.Latitude, *l.Longitude)
		if dist > *a.RadiusMiles {
			return false
		}
	}
	return true
}

// alertKindAccepts reports whether the alert's declared kind covers the
// change event.
func alertKindAccepts(kind models.AlertKind, e *models.ChangeEvent) bool {
	switch kind {
	case models.AlertNewAuction:
		return e.Kind == models.ChangeNewAuction
	case models.AlertStatusChange:
		return e.Kind == models.ChangeStatus
	case models.AlertPriceChange:
		return e.Kind == models.ChangePrice
	case models.AlertPostponement:
		return e.IsPostponement()
	default:
		// Reminder alerts are evaluated by the reminder scan, not here.
		return false
	}
}

// Matcher evaluates change events against alerts and watchlist entries.
// Matching across alerts is independent; one malformed alert cannot block
// the others.
type Matcher struct{}

func NewMatcher() *Matcher {
	return &Matcher{}
}

// MatchEvent produces one NotificationRequest per (owner, listing, change)
// pair. Watchlist owners match unconditionally; alert owners match when the
// alert kind covers the event and every filter passes.
func (m *Matcher) MatchEvent(e *models.ChangeEvent, alerts []models.Alert, watchers []int64) []models.NotificationRequest {
	var out []models.NotificationRequest
	seen := make(map[int64]bool)

	for _, owner := range watchers {
		if seen[owner] {
			continue
		}
		seen[owner] = true
		out = append(out, m.buildRequest(e, owner))
	}

	for i := range alerts {
		a := &alerts[i]
		if !a.Active || seen[a.OwnerID] {
			continue
		}
		if !alertKindAccepts(a.Kind, e) {
			continue
		}
		if !AlertMatches(a, e.Listing) {
			continue
		}
		seen[a.OwnerID] = true
		out = append(out, m.buildRequest(e, a.OwnerID))
	}

	return out
}

func (m *Matcher) buildRequest(e *models.ChangeEvent, owner int64) models.NotificationRequest {
	kind := notificationKind(e)
	title, body, priority := describeEvent(e)
	data, _ := json.Marshal(e.UpdatePayload())

	return models.NotificationRequest{
		OwnerID:    owner,
		Listing:    e.Listing,
		Kind:       kind,
		Priority:   priority,
		Title:      title,
		Body:       body,
		Data:       data,
		DetectedAt: e.DetectedAt,
	}
}

func notificationKind(e *models.ChangeEvent) models.NotificationKind {
	switch e.Kind {
	case models.ChangeNewAuction:
		return models.NotificationNewAuction
	case models.ChangeStatus:
		return models.NotificationStatusChange
	case models.ChangeDate:
		return models.NotificationDateChange
	default:
		return models.NotificationPriceChange
	}
}

func describeEvent(e *models.ChangeEvent) (title, body, priority string) {
	addr := ""
	if e.Listing != nil {
		addr = e.Listing.Address()
	}

	switch e.Kind {
	case models.ChangeNewAuction:
		return "New auction listed", addr, models.PriorityMedium
	case models.ChangeStatus:
		return fmt.Sprintf("Status changed to %s", e.NewStatus),
			fmt.Sprintf("%s is now %s", addr, e.NewStatus), models.PriorityMedium
	case models.ChangeDate:
		if e.IsPostponement() {
			return "Auction postponed",
				fmt.Sprintf("%s auction moved to %s", addr, e.NewDate.Format("Jan 2, 2006")), models.PriorityHigh
		}
		title = "Auction date changed"
		if e.NewDate != nil {
			body = fmt.Sprintf("%s auction rescheduled to %s", addr, e.NewDate.Format("Jan 2, 2006"))
		} else {
			body = fmt.Sprintf("%s auction date removed", addr)
		}
		return title, body, models.PriorityMedium
	default:
		var old, cur float64
		if e.OldBid != nil {
			old = *e.OldBid
		}
		if e.NewBid != nil {
			cur = *e.NewBid
		}
		return "Opening bid changed",
			fmt.Sprintf("%s opening bid moved from $%.0f to $%.0f", addr, old, cur), models.PriorityMedium
	}
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
