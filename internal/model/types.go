package model

import (
	"strings"
	"time"
)

// Credentials identify the account. Supplied once at startup and owned
// by the auth manager; nothing else reads them.
type Credentials struct {
	Email    string
	Password string
}

// Session is the live authentication state for the account. One instance
// per process; persisted after every successful (re)login so a restart
// can resume without logging in again.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UserID       string    `json:"user_id"`
	PHPSession   string    `json:"php_session,omitempty"`
	DevRefNo     string    `json:"dev_ref_no,omitempty"`
	CSRFToken    string    `json:"csrf_token,omitempty"`
	AuthMode     string    `json:"auth_mode"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Valid reports whether the session can still be used at time now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.AccessToken != "" && now.Before(s.ExpiresAt)
}

// NearExpiry reports whether at least 90% of the token lifetime has
// elapsed, the point at which a proactive refresh is triggered.
func (s *Session) NearExpiry(now time.Time) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return true
	}
	life := s.ExpiresAt.Sub(s.IssuedAt)
	if life <= 0 {
		return true
	}
	return now.Sub(s.IssuedAt) >= time.Duration(float64(life)*0.9)
}

// Listing is one normalized search result. Immutable within a cycle.
type Listing struct {
	ID          string
	Title       string
	District    string // all district-ish fields joined, raw
	Rent        int    // EUR per month
	Size        int    // square meters
	Category    int    // 0=WG room, 1=1-room flat, 2=flat, 3=house
	AvailableTo string // end date as reported, empty if open-ended
	Duration    string // rental duration field, empty if unlimited
	ContactName string
	Description string
}

// FirstName returns the advertiser's first name for the salutation,
// falling back to the informal "du".
func (l Listing) FirstName() string {
	name := strings.TrimSpace(l.ContactName)
	if name == "" {
		return "du"
	}
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i]
	}
	return name
}

// FilterCriteria is the read-only search configuration for one run.
type FilterCriteria struct {
	Districts        []string
	MaxRent          int
	MinSize          int
	Categories       []int
	AllowTimeLimited bool
	// TargetCount stops pagination once this many locally matching
	// listings are collected; 0 means exhaust the page budget.
	TargetCount int
}

// MessageDraft is the composed outbound message for one listing.
// Produced and consumed within a single dispatch.
type MessageDraft struct {
	ListingID    string
	Text         string
	Personalized bool
}

// RunRecord summarizes one scheduler cycle for the status log.
type RunRecord struct {
	ID            string
	Timestamp     time.Time
	OffersSeen    int
	OffersMatched int
	OffersNew     int
	MessagesSent  int
	Errors        []string
	DryRun        bool
}
