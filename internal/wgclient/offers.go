package wgclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"flatseek/internal/model"
)

// SearchQuery parameterizes one page of the offer search.
type SearchQuery struct {
	CityID     string
	Categories []int
	MaxRent    int
	MinSize    int
	Page       int
	Limit      int
}

// FindCity resolves a city name to its platform city id.
func (c *Client) FindCity(ctx context.Context, sess *model.Session, query string) (id, name string, err error) {
	endpoint := fmt.Sprintf(c.proto.Endpoints.CitySearch, url.PathEscape(query))
	resp, err := c.api(ctx, sess, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return "", "", err
	}
	var raw struct {
		Embedded struct {
			Cities []map[string]any `json:"cities"`
		} `json:"_embedded"`
	}
	if err := decode2xx(resp, &raw); err != nil {
		return "", "", err
	}
	if len(raw.Embedded.Cities) == 0 {
		return "", "", fmt.Errorf("city not found: %s", query)
	}
	first := raw.Embedded.Cities[0]
	return str(first, "city_id"), str(first, "city_name"), nil
}

// SearchOffers fetches one result page. Server-side filtering is passed
// along as query parameters but is not trusted; callers re-check every
// facet locally. Malformed records are counted and skipped, never fatal
// for the page.
func (c *Client) SearchOffers(ctx context.Context, sess *model.Session, q SearchQuery) (listings []model.Listing, malformed int, err error) {
	cats := joinCategories(q.Categories)
	params := url.Values{}
	params.Set("ad_type", "0")
	params.Set("categories", cats)
	params.Set("city_id", q.CityID)
	params.Set("noDeact", "1")
	params.Set("img", "1")
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("rMax", strconv.Itoa(q.MaxRent))
	params.Set("sMin", strconv.Itoa(q.MinSize))
	params.Set("rent_types", cats)
	params.Set("page", strconv.Itoa(q.Page))

	resp, err := c.api(ctx, sess, http.MethodGet, c.proto.Endpoints.Offers, params, nil)
	if err != nil {
		return nil, 0, err
	}
	var raw struct {
		Embedded struct {
			Offers []map[string]any `json:"offers"`
		} `json:"_embedded"`
	}
	if err := decode2xx(resp, &raw); err != nil {
		return nil, 0, err
	}
	for _, rec := range raw.Embedded.Offers {
		l, err := normalizeOffer(rec)
		if err != nil {
			malformed++
			continue
		}
		listings = append(listings, l)
	}
	return listings, malformed, nil
}

// OfferDetail is the per-ad record used to enrich personalization.
type OfferDetail struct {
	Description   string
	AvailableFrom string
	AvailableTo   string
	LookingFor    string
	FirstName     string
	ContactEmail  string
	ContactPhone  string
}

// GetOfferDetail fetches the full ad. Only called when a personalizer is
// enabled; the search feed already carries everything filtering needs.
func (c *Client) GetOfferDetail(ctx context.Context, sess *model.Session, offerID string) (OfferDetail, error) {
	var out OfferDetail
	endpoint := fmt.Sprintf(c.proto.Endpoints.OfferDetail, url.PathEscape(offerID))
	resp, err := c.api(ctx, sess, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return out, err
	}
	var raw map[string]any
	if err := decode2xx(resp, &raw); err != nil {
		return out, err
	}
	out.Description = firstStr(raw, "description", "freetext_property_description")
	out.AvailableFrom = firstStr(raw, "available_from_date", "available_from")
	out.AvailableTo = firstStr(raw, "available_to_date", "available_to")
	out.LookingFor = str(raw, "gesucht_wird")
	out.ContactEmail = str(raw, "contact_email")
	out.ContactPhone = str(raw, "contact_phone")
	if user, ok := raw["user"].(map[string]any); ok {
		out.FirstName = str(user, "first_name")
	}
	return out, nil
}

// ContactOffer sends a message to an ad, using the conversation endpoint
// matching the session's auth mode.
func (c *Client) ContactOffer(ctx context.Context, sess *model.Session, offerID, message string) error {
	adID, err := strconv.Atoi(offerID)
	if err != nil {
		return fmt.Errorf("non-numeric offer id %q: %w", offerID, err)
	}
	if sess.AuthMode == "web" {
		return c.contactOfferWeb(ctx, sess, offerID, adID, message)
	}
	payload := map[string]any{
		"user_id": sess.UserID,
		"ad_type": 0,
		"ad_id":   adID,
		"messages": []map[string]any{
			{"content": message, "message_type": "text"},
		},
	}
	resp, err := c.api(ctx, sess, http.MethodPost, c.proto.Endpoints.Contact, nil, payload)
	if err != nil {
		return err
	}
	return decode2xx(resp, nil)
}

func (c *Client) contactOfferWeb(ctx context.Context, sess *model.Session, offerID string, adID int, message string) error {
	base := map[string]any{
		"ad_type": 0,
		"ad_id":   adID,
	}
	if sess.UserID != "" {
		base["user_id"] = sess.UserID
	}
	if sess.CSRFToken != "" {
		base["csrf_token"] = sess.CSRFToken
	}
	// The Ajax endpoint has accepted two message shapes; a 400 on the
	// first means try the other, anything else is final.
	variants := []map[string]any{
		merge(base, map[string]any{"messages": []map[string]any{{"content": message, "message_type": "text"}}}),
		merge(base, map[string]any{"nachricht_freitext": message}),
	}
	extra := http.Header{}
	extra.Set("Origin", c.proto.BaseURL)
	extra.Set("Referer", fmt.Sprintf("%s/%s.html", c.proto.BaseURL, offerID))

	var lastErr error
	for _, payload := range variants {
		resp, err := c.web(ctx, sess, http.MethodPost, c.proto.Endpoints.WebContact, payload, extra)
		if err != nil {
			return err
		}
		err = decode2xx(resp, nil)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsStatus(err, http.StatusBadRequest) {
			return err
		}
	}
	return lastErr
}

// normalizeOffer converts a raw feed record into a Listing. A record
// without an id is malformed and skipped by the caller.
func normalizeOffer(rec map[string]any) (model.Listing, error) {
	var l model.Listing
	l.ID = firstStr(rec, "id", "offer_id")
	if l.ID == "" {
		return l, errors.New("offer record without id")
	}
	l.Title = firstStr(rec, "title", "offer_title")
	l.District = joinDistricts(rec)
	l.Rent = int(firstNum(rec, "total_costs", "rent_costs", "rent"))
	l.Size = int(firstNum(rec, "property_size", "size"))
	l.Category = int(num(rec, "category"))
	l.AvailableTo = firstStr(rec, "available_to_date", "available_to", "available_to_date_string")
	l.Duration = str(rec, "duration")
	l.ContactName = firstStr(rec, "user_name", "contact_name")
	l.Description = firstStr(rec, "description", "freetext_property_description")
	return l, nil
}

// joinDistricts concatenates every district-ish field the feed is known
// to use; the filter normalizes and matches against the joined text.
func joinDistricts(rec map[string]any) string {
	parts := []string{}
	for _, key := range []string{"district", "area", "city_quarter", "district_custom", "town_name"} {
		if v := str(rec, key); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func joinCategories(cats []int) string {
	if len(cats) == 0 {
		return "0"
	}
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}

func merge(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
