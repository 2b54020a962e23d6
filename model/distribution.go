/*
Copyright 2024 Distro Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a distribution on one platform.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusLive       Status = "live"
	StatusFailed     Status = "failed"
	StatusRejected   Status = "rejected"
	StatusRemoved    Status = "removed"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusLive,
	StatusFailed,
	StatusRejected,
	StatusRemoved,
}

// AllStatuses returns the known statuses in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus normalizes a status string and reports whether it is known.
func ParseStatus(value string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range allStatuses {
		if known == s {
			return s, true
		}
	}
	return "", false
}

// PlatformCode identifies an external music platform.
type PlatformCode string

const (
	PlatformSpotify      PlatformCode = "spotify"
	PlatformAppleMusic   PlatformCode = "apple_music"
	PlatformYouTubeMusic PlatformCode = "youtube_music"
	PlatformAmazonMusic  PlatformCode = "amazon_music"
	PlatformDeezer       PlatformCode = "deezer"
	PlatformTidal        PlatformCode = "tidal"
	PlatformPandora      PlatformCode = "pandora"
	PlatformSoundCloud   PlatformCode = "soundcloud"
	PlatformBandcamp     PlatformCode = "bandcamp"
)

var allPlatforms = []PlatformCode{
	PlatformSpotify,
	PlatformAppleMusic,
	PlatformYouTubeMusic,
	PlatformAmazonMusic,
	PlatformDeezer,
	PlatformTidal,
	PlatformPandora,
	PlatformSoundCloud,
	PlatformBandcamp,
}

// AllPlatforms returns every supported platform code.
func AllPlatforms() []PlatformCode {
	out := make([]PlatformCode, len(allPlatforms))
	copy(out, allPlatforms)
	return out
}

// ParsePlatformCode normalizes a platform code, returning ErrUnknownPlatform
// for anything outside the supported set.
func ParsePlatformCode(value string) (PlatformCode, error) {
	code := PlatformCode(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range allPlatforms {
		if known == code {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, value)
}

// ContentAdvisory values accepted in ReleaseMetadata.
const (
	AdvisoryClean    = "clean"
	AdvisoryExplicit = "explicit"
)

// ReleaseMetadata is the submission info captured when distribution is requested.
// It is written once at creation and never updated.
type ReleaseMetadata struct {
	Title           string    `json:"title"`
	ArtistName      string    `json:"artist_name"`
	ISRC            string    `json:"isrc,omitempty"`
	UPC             string    `json:"upc,omitempty"`
	ReleaseDate     time.Time `json:"release_date"`
	Territories     []string  `json:"territories"`
	ContentAdvisory string    `json:"content_advisory"`
	Genre           string    `json:"genre"`
	Language        string    `json:"language"`
	PriceTier       string    `json:"price_tier"`
}

// StatusChange is one entry of the bounded transition log kept in PlatformMetadata.
type StatusChange struct {
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	Event  EventType `json:"event"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// PlatformMetadata accumulates what platforms report back. Lists are appended
// to and trimmed from the front, never overwritten.
type PlatformMetadata struct {
	SubmissionID string            `json:"submission_id,omitempty"`
	ErrorCodes   []string          `json:"error_codes,omitempty"`
	LastMetrics  *MetricsSnapshot  `json:"last_metrics,omitempty"`
	History      []MetricsSnapshot `json:"history"`
	Transitions  []StatusChange    `json:"transitions"`
}

// Distribution tracks one song's release on one external platform.
type Distribution struct {
	ID               int64            `json:"-"`
	DistributionID   string           `json:"distribution_id"`
	SongID           string           `json:"song_id"`
	PlatformCode     PlatformCode     `json:"platform_code"`
	Status           Status           `json:"status"`
	Metadata         ReleaseMetadata  `json:"metadata"`
	PlatformMetadata PlatformMetadata `json:"platform_metadata"`
	LiveDate         *time.Time       `json:"live_date,omitempty"`
	PlatformURL      string           `json:"platform_url,omitempty"`
	PlatformID       string           `json:"platform_id,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	RejectionReason  string           `json:"rejection_reason,omitempty"`
	RemovalReason    string           `json:"removal_reason,omitempty"`
	RemovedDate      *time.Time       `json:"removed_date,omitempty"`
	RetryCount       int              `json:"retry_count"`
	NeedsReview      bool             `json:"needs_review"`
	ReviewReason     string           `json:"review_reason,omitempty"`
	TotalStreams     int64            `json:"total_streams"`
	TotalRevenue     decimal.Decimal  `json:"total_revenue"`
	LastUpdated      time.Time        `json:"last_updated"`
	LastSynced       *time.Time       `json:"last_synced,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	Version          int64            `json:"version"`
}

// NewDistribution builds a pending distribution for a (song, platform) pair.
func NewDistribution(songID string, platform PlatformCode, metadata ReleaseMetadata, now time.Time) Distribution {
	return Distribution{
		DistributionID: GenerateUUIDWithSuffix("dst"),
		SongID:         songID,
		PlatformCode:   platform,
		Status:         StatusPending,
		Metadata:       metadata,
		PlatformMetadata: PlatformMetadata{
			History:     []MetricsSnapshot{},
			Transitions: []StatusChange{},
		},
		TotalRevenue: decimal.Zero,
		LastUpdated:  now,
		CreatedAt:    now,
	}
}

// IsTerminal reports whether no automatic transition leaves the current status.
func (d Distribution) IsTerminal() bool {
	return d.Status == StatusRemoved || d.Status == StatusRejected
}

// hasBeenFailed reports whether the transition log shows the record passing through failed.
// A log that has been trimmed to MaxTransitionLog may no longer show it.
func (d Distribution) hasBeenFailed() bool {
	for _, change := range d.PlatformMetadata.Transitions {
		if change.From == StatusFailed || change.To == StatusFailed {
			return true
		}
	}
	return d.Status == StatusFailed
}

// Validate checks the record-level invariants. It runs on every computed next
// state before anything is written.
func (d Distribution) Validate() error {
	if _, ok := ParseStatus(string(d.Status)); !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvariantViolation, d.Status)
	}

	live := d.Status == StatusLive
	hasLiveFields := d.LiveDate != nil && d.PlatformURL != "" && d.PlatformID != ""
	anyLiveField := d.LiveDate != nil || d.PlatformURL != "" || d.PlatformID != ""
	if live && !hasLiveFields {
		return fmt.Errorf("%w: live distribution %s is missing live date, url or platform id", ErrInvariantViolation, d.DistributionID)
	}
	if !live && anyLiveField {
		return fmt.Errorf("%w: %s distribution %s carries live fields", ErrInvariantViolation, d.Status, d.DistributionID)
	}

	if d.RejectionReason != "" && d.RemovalReason != "" {
		return fmt.Errorf("%w: distribution %s has both rejection and removal reasons", ErrInvariantViolation, d.DistributionID)
	}
	if d.RejectionReason != "" && d.Status != StatusRejected {
		return fmt.Errorf("%w: rejection reason set on %s distribution", ErrInvariantViolation, d.Status)
	}
	if d.RemovalReason != "" && d.Status != StatusRemoved {
		return fmt.Errorf("%w: removal reason set on %s distribution", ErrInvariantViolation, d.Status)
	}
	if d.ErrorMessage != "" && d.Status != StatusFailed {
		return fmt.Errorf("%w: error message set on %s distribution", ErrInvariantViolation, d.Status)
	}

	if d.RetryCount < 0 {
		return fmt.Errorf("%w: negative retry count", ErrInvariantViolation)
	}
	if d.RetryCount > 0 && len(d.PlatformMetadata.Transitions) < MaxTransitionLog && !d.hasBeenFailed() {
		return fmt.Errorf("%w: retry count %d without a failed transition", ErrInvariantViolation, d.RetryCount)
	}

	if d.Status != StatusLive && d.Status != StatusRemoved {
		if d.TotalStreams != 0 || !d.TotalRevenue.IsZero() {
			return fmt.Errorf("%w: %s distribution carries stream or revenue totals", ErrInvariantViolation, d.Status)
		}
	}
	if d.TotalStreams < 0 || d.TotalRevenue.IsNegative() {
		return fmt.Errorf("%w: negative totals", ErrInvariantViolation)
	}
	return nil
}
