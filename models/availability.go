package models

import (
	"maps"
	"slices"
	"time"
)

// Service names used as source keys throughout the pipeline.
const (
	ServiceKindleUnlimited = "kindle_unlimited"
	ServiceHoopla          = "hoopla"
	ServiceLibrary         = "library"
)

// Library and format status values.
const (
	StatusAvailable   = "available"
	StatusHold        = "hold"
	StatusUnavailable = "unavailable"
	StatusUnknown     = "unknown"
)

// ResultMetadata carries the raw material a validator re-examines.
type ResultMetadata struct {
	SearchContent   string  `json:"searchContent,omitempty"`
	SearchURL       string  `json:"searchUrl,omitempty"`
	TitleSimilarity float64 `json:"titleSimilarity,omitempty"`
	ResponseTimeMS  int64   `json:"responseTimeMs,omitempty"`
}

// LibraryStatus is the availability of one book in one library system.
type LibraryStatus struct {
	EbookStatus string  `json:"ebook_status"`
	AudioStatus string  `json:"audio_status"`
	Confidence  float64 `json:"confidence"`
	SearchURL   string  `json:"search_url,omitempty"`
}

// AvailabilityResult is one scraper's claim about one book. Scrapers create
// a fresh value per check and never mutate it after returning.
type AvailabilityResult struct {
	Service    string         `json:"service"`
	Available  *bool          `json:"available,omitempty"`
	Confidence float64        `json:"confidence"`
	Details    string         `json:"details"`
	Metadata   ResultMetadata `json:"metadata"`
	CheckedAt  time.Time      `json:"checked_at"`

	KUAvailability bool   `json:"ku_availability,omitempty"`
	KUExpiresOn    string `json:"ku_expires_on,omitempty"`

	HooplaEbookAvailable bool     `json:"hoopla_ebook_available,omitempty"`
	HooplaAudioAvailable bool     `json:"hoopla_audio_available,omitempty"`
	FormatDetails        []string `json:"format_details,omitempty"`

	LibraryAvailability map[string]LibraryStatus `json:"library_availability,omitempty"`
}

// IsAvailable reports the availability claim, treating a missing claim as false.
func (r *AvailabilityResult) IsAvailable() bool {
	return r != nil && r.Available != nil && *r.Available
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}

// Clone returns a deep copy of r.
func (r *AvailabilityResult) Clone() *AvailabilityResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.Available != nil {
		c.Available = Bool(*r.Available)
	}
	c.FormatDetails = slices.Clone(r.FormatDetails)
	c.LibraryAvailability = maps.Clone(r.LibraryAvailability)
	return &c
}
