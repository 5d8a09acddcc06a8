package source

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"auctionwatch/models"
)

const SourceHUD = "HUD"

// Selectors for the listing search results page. Kept in one place so a
// site markup change is a one-file fix.
const (
	selListing    = "div.property-listing"
	selAddress    = "div.address"
	selCaseNumber = "span.case-number"
	selPrice      = "span.price"
	selBeds       = "span.beds"
	selBaths      = "span.baths"
	selSqFt       = "span.sqft"
	selType       = "span.type"
	selListed     = "span.listed"
	selBidClose   = "span.bid-close"
	selStatus     = "span.status"
	selNextPage   = "a.pagination-next:not(.disabled)"
)

// Fallback selectors tried when the primary ones stop matching.
var (
	altListingSelectors = []string{"div.listing-item", "div.property-card", "article.property"}
	altAddressSelectors = []string{"div.property-address", "span.address", "p.address"}
)

// ErrMarkupChanged signals that the results page no longer matches any
// known selector set.
var ErrMarkupChanged = fmt.Errorf("hud: no property listings found, markup may have changed")

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// HUDClient fetches and parses government foreclosure listings from the
// HUD Home Store search pages.
type HUDClient struct {
	baseURL string
	client  *http.Client
	delay   time.Duration
	uaIndex int
}

func NewHUDClient(baseURL string, delayMS int) *HUDClient {
	return &HUDClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		delay:   time.Duration(delayMS) * time.Millisecond,
	}
}

// FetchState walks the paginated results for one state and returns every
// parsed listing.
func (c *HUDClient) FetchState(state string) ([]models.Listing, error) {
	pageURL := fmt.Sprintf("%s/listings?state=%s", c.baseURL, url.QueryEscape(state))
	var all []models.Listing

	for pageURL != "" {
		doc, err := c.fetchPage(pageURL)
		if err != nil {
			return all, err
		}

		listings, err := ParseListings(doc)
		if err != nil {
			return all, err
		}
		all = append(all, listings...)

		pageURL = ""
		if next, ok := doc.Find(selNextPage).Attr("href"); ok && next != "" {
			if strings.HasPrefix(next, "/") {
				next = c.baseURL + next
			}
			pageURL = next
			time.Sleep(c.delay)
		}
	}

	log.Printf("HUD: fetched %d listings for %s", len(all), state)
	return all, nil
}

func (c *HUDClient) fetchPage(pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequest(http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgents[c.uaIndex%len(userAgents)])
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	c.uaIndex++

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return doc, nil
}

// ParseListings extracts every property from one results page. Individual
// malformed entries are skipped, not fatal.
func ParseListings(doc *goquery.Document) ([]models.Listing, error) {
	nodes := doc.Find(selListing)
	if nodes.Length() == 0 {
		for _, alt := range altListingSelectors {
			if nodes = doc.Find(alt); nodes.Length() > 0 {
				log.Printf("HUD: using alternative listing selector %q", alt)
				break
			}
		}
	}
	if nodes.Length() == 0 {
		return nil, ErrMarkupChanged
	}

	var listings []models.Listing
	nodes.Each(func(_ int, sel *goquery.Selection) {
		l, err := parseListing(sel)
		if err != nil {
			log.Printf("HUD: skipping listing: %v", err)
			return
		}
		listings = append(listings, *l)
	})
	return listings, nil
}

func parseListing(sel *goquery.Selection) (*models.Listing, error) {
	street, city, state, zip := parseAddress(addressText(sel))
	if street == "" {
		return nil, fmt.Errorf("listing has no address")
	}

	now := time.Now()
	l := &models.Listing{
		ID:            PropertyID(street, city, state, zip),
		Source:        SourceHUD,
		Street:        street,
		City:          city,
		State:         state,
		ZipCode:       zip,
		Status:        mapStatus(text(sel, selStatus)),
		CaseNumber:    text(sel, selCaseNumber),
		OpeningBid:    parsePrice(text(sel, selPrice)),
		PropertyType:  mapPropertyType(text(sel, selType)),
		Beds:          parseInt(text(sel, selBeds)),
		Baths:         parseFloat(text(sel, selBaths)),
		SqFt:          parseInt(strings.ReplaceAll(text(sel, selSqFt), ",", "")),
		FilingDate:    parseDate(text(sel, selListed)),
		AuctionDate:   parseDate(text(sel, selBidClose)),
		DataTimestamp: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return l, nil
}

func addressText(sel *goquery.Selection) string {
	if t := text(sel, selAddress); t != "" {
		return t
	}
	for _, alt := range altAddressSelectors {
		if t := text(sel, alt); t != "" {
			return t
		}
	}
	return ""
}

var stateZipRe = regexp.MustCompile(`([A-Z]{2})\s+(\d{5})`)
var stateRe = regexp.MustCompile(`\b([A-Z]{2})\b`)
var zipRe = regexp.MustCompile(`\b(\d{5})\b`)

// parseAddress splits "123 Main St, Miami, FL 33139" (or the same with a
// newline before the city) into components.
func parseAddress(raw string) (street, city, state, zip string) {
	raw = strings.ReplaceAll(raw, "\n", ", ")
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	if len(parts) >= 1 {
		street = parts[0]
	}
	if len(parts) >= 2 {
		city = parts[1]
	}
	if len(parts) >= 3 {
		if m := stateZipRe.FindStringSubmatch(parts[2]); m != nil {
			state, zip = m[1], m[2]
		} else {
			if m := stateRe.FindStringSubmatch(parts[2]); m != nil {
				state = m[1]
			}
			if m := zipRe.FindStringSubmatch(parts[2]); m != nil {
				zip = m[1]
			}
		}
	}
	return street, city, state, zip
}

// PropertyID derives the stable listing id from the address, so re-ingesting
// the same property always hits the same row.
func PropertyID(street, city, state, zip string) string {
	sum := md5.Sum([]byte(street + city + state + zip))
	return "HUD-" + hex.EncodeToString(sum[:])[:12]
}

func text(sel *goquery.Selection, q string) string {
	return strings.TrimSpace(sel.Find(q).First().Text())
}

func parsePrice(s string) *float64 {
	if s == "" {
		return nil
	}
	clean := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(s, "$", ""), ",", ""))
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return nil
	}
	return &v
}

var intRe = regexp.MustCompile(`\d+`)
var floatRe = regexp.MustCompile(`\d+\.?\d*`)

func parseInt(s string) int {
	m := intRe.FindString(s)
	if m == "" {
		return 0
	}
	v, _ := strconv.Atoi(m)
	return v
}

func parseFloat(s string) float64 {
	m := floatRe.FindString(s)
	if m == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(m, 64)
	return v
}

var dateFormats = []string{
	"01/02/2006",
	"1/2/2006",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, f := range dateFormats {
		if t, err := time.Parse(f, s); err == nil {
			return &t
		}
	}
	return nil
}

func mapPropertyType(s string) string {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "single"), strings.Contains(lower, "sfr"):
		return models.PropertyTypeSingleFamily
	case strings.Contains(lower, "condo"):
		return models.PropertyTypeCondo
	case strings.Contains(lower, "multi"), strings.Contains(lower, "duplex"):
		return models.PropertyTypeMultiFamily
	case strings.Contains(lower, "commercial"):
		return models.PropertyTypeCommercial
	}
	return models.PropertyTypeSingleFamily
}

func mapStatus(s string) models.ForeclosureStatus {
	switch strings.ToLower(s) {
	case "postponed":
		return models.StatusPostponed
	case "sold":
		return models.StatusSold
	case "cancelled", "canceled":
		return models.StatusCancelled
	case "pre-foreclosure", "preforeclosure":
		return models.StatusPreforeclosure
	default:
		// HUD search results list properties open for bids.
		return models.StatusAuction
	}
}
