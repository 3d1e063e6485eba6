// Package harvest defines core types shared across subsystems.
package harvest

import (
	"time"
)

// Query identifies one harvest run. Two queries describe the same run iff
// all three fields match exactly; an empty string is a distinct value, not
// a wildcard.
type Query struct {
	Keyword     string `json:"keyword"`
	Department  string `json:"department"`
	Institution string `json:"institution"`
}

// Equal reports exact per-field equality.
func (q Query) Equal(other Query) bool {
	return q == other
}

// Key returns a stable identity string usable as a storage key component.
func (q Query) Key() string {
	// Unit separator keeps fields unambiguous even when they contain spaces.
	return q.Keyword + "\x1f" + q.Department + "\x1f" + q.Institution
}

// RecordSummary is the lightweight listing row returned by the search API.
// Ordering is the API's relevance order and is never re-sorted.
type RecordSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Institution string `json:"institution"`
	Department  string `json:"department"`
	Rank        string `json:"rank"`
	DetailURI   string `json:"detail_uri"`
}

// Page is one slice of search results.
type Page struct {
	Items []RecordSummary
	// TotalAvailable is the API-reported result count; valid only when
	// TotalKnown is true.
	TotalAvailable int
	TotalKnown     bool
}

// DetailRecord carries the fields recovered from a record's detail page.
// Every field is optional; EmailImageRef points at an image that may encode
// the contact address when no structured one is published.
type DetailRecord struct {
	Title         string `json:"title,omitempty"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Office        string `json:"office,omitempty"`
	Homepage      string `json:"homepage,omitempty"`
	Bio           string `json:"bio,omitempty"`
	EmailImageRef string `json:"email_image_ref,omitempty"`
}

// EnrichedRecord is the single output unit of the pipeline. Exactly one
// record is emitted per id per run: Complete when enrichment succeeded,
// Partial (IsPartial=true, summary fields plus ErrorReason) when the
// per-item retry budget was exhausted.
type EnrichedRecord struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Institution string `json:"institution"`
	Department  string `json:"department"`
	Rank        string `json:"rank"`
	DetailURI   string `json:"detail_uri"`

	Title    string `json:"title,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Office   string `json:"office,omitempty"`
	Homepage string `json:"homepage,omitempty"`
	Bio      string `json:"bio,omitempty"`
	// Contact is the derived contact field: the structured email when
	// present, otherwise the OCR-recovered value, otherwise empty.
	Contact string `json:"contact,omitempty"`

	IsPartial   bool      `json:"is_partial"`
	ErrorReason string    `json:"error_reason,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
	Query       Query     `json:"query"`
}

// NewComplete merges a summary with its detail fields.
func NewComplete(s RecordSummary, d DetailRecord, contact string, at time.Time, q Query) EnrichedRecord {
	return EnrichedRecord{
		ID:          s.ID,
		DisplayName: s.DisplayName,
		Institution: s.Institution,
		Department:  s.Department,
		Rank:        s.Rank,
		DetailURI:   s.DetailURI,
		Title:       d.Title,
		Email:       d.Email,
		Phone:       d.Phone,
		Office:      d.Office,
		Homepage:    d.Homepage,
		Bio:         d.Bio,
		Contact:     contact,
		CollectedAt: at,
		Query:       q,
	}
}

// NewPartial records a permanently failed enrichment attempt.
func NewPartial(s RecordSummary, reason string, at time.Time, q Query) EnrichedRecord {
	return EnrichedRecord{
		ID:          s.ID,
		DisplayName: s.DisplayName,
		Institution: s.Institution,
		Department:  s.Department,
		Rank:        s.Rank,
		DetailURI:   s.DetailURI,
		IsPartial:   true,
		ErrorReason: reason,
		CollectedAt: at,
		Query:       q,
	}
}
