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
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/ugamusic/distro/model"
)

const dateLayout = "2006-01-02"

var (
	isrcPattern      = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{3}[0-9]{7}$`)
	upcPattern       = regexp.MustCompile(`^[0-9]{12,13}$`)
	territoryPattern = regexp.MustCompile(`^[A-Z]{2}$`)
)

type ReleaseMetadata struct {
	Title           string   `json:"title"`
	ArtistName      string   `json:"artist_name"`
	ISRC            string   `json:"isrc"`
	UPC             string   `json:"upc"`
	ReleaseDate     string   `json:"release_date"`
	Territories     []string `json:"territories"`
	ContentAdvisory string   `json:"content_advisory"`
	Genre           string   `json:"genre"`
	Language        string   `json:"language"`
	PriceTier       string   `json:"price_tier"`
}

type CreateDistribution struct {
	SongID       string          `json:"song_id"`
	PlatformCode string          `json:"platform_code"`
	Metadata     ReleaseMetadata `json:"metadata"`
}

type RecordEvent struct {
	Type         string `json:"type"`
	SubmissionID string `json:"submission_id"`
	PlatformURL  string `json:"platform_url"`
	PlatformID   string `json:"platform_id"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Reason       string `json:"reason"`
	OccurredAt   string `json:"occurred_at"`
}

type RevenueSnapshot struct {
	Streams      int64    `json:"streams"`
	Revenue      string   `json:"revenue"`
	Listeners    int64    `json:"listeners"`
	Countries    []string `json:"countries"`
	PlaylistAdds int64    `json:"playlist_adds"`
	AsOf         string   `json:"as_of"`
}

// StatusChangeRequest is the body of removal, force-remove and resubmit calls.
type StatusChangeRequest struct {
	Reason string `json:"reason"`
}

type UpdateFeatureFlag struct {
	Value   json.RawMessage `json:"value"`
	Version int64           `json:"version"`
}

func platformCodes() []interface{} {
	codes := model.AllPlatforms()
	out := make([]interface{}, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return out
}

func dateRule(layout, message string) validation.RuleFunc {
	return func(value interface{}) error {
		s, ok := value.(string)
		if !ok {
			return errors.New("invalid type for date")
		}
		if _, err := time.Parse(layout, s); err != nil {
			return errors.New(message)
		}
		return nil
	}
}

// Validate has a value receiver so that ozzo validates the nested struct
// when it runs over CreateDistribution.
func (m ReleaseMetadata) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Title, validation.Required, validation.Length(1, 255)),
		validation.Field(&m.ArtistName, validation.Required, validation.Length(1, 255)),
		validation.Field(&m.ISRC, validation.Match(isrcPattern).Error("must be a 12 character ISRC such as UGA012400001")),
		validation.Field(&m.UPC, validation.Match(upcPattern).Error("must be a 12 or 13 digit UPC")),
		validation.Field(&m.ReleaseDate, validation.Required, validation.By(dateRule(dateLayout, "please format the release date as 'YYYY-MM-DD'"))),
		validation.Field(&m.Territories, validation.Each(validation.Match(territoryPattern).Error("must be ISO 3166 alpha-2 codes"))),
		validation.Field(&m.ContentAdvisory, validation.Required, validation.In(model.AdvisoryClean, model.AdvisoryExplicit)),
	)
}

func (d *CreateDistribution) ValidateCreateDistribution() error {
	d.PlatformCode = strings.ToLower(strings.TrimSpace(d.PlatformCode))
	return validation.ValidateStruct(d,
		validation.Field(&d.SongID, validation.Required),
		validation.Field(&d.PlatformCode, validation.Required, validation.In(platformCodes()...)),
		validation.Field(&d.Metadata),
	)
}

func (d *CreateDistribution) ToReleaseMetadata() model.ReleaseMetadata {
	releaseDate, _ := time.Parse(dateLayout, d.Metadata.ReleaseDate)
	territories := make([]string, 0, len(d.Metadata.Territories))
	territories = append(territories, d.Metadata.Territories...)
	return model.ReleaseMetadata{
		Title:           strings.TrimSpace(d.Metadata.Title),
		ArtistName:      strings.TrimSpace(d.Metadata.ArtistName),
		ISRC:            d.Metadata.ISRC,
		UPC:             d.Metadata.UPC,
		ReleaseDate:     releaseDate,
		Territories:     territories,
		ContentAdvisory: d.Metadata.ContentAdvisory,
		Genre:           d.Metadata.Genre,
		Language:        d.Metadata.Language,
		PriceTier:       d.Metadata.PriceTier,
	}
}

func (e *RecordEvent) ValidateRecordEvent() error {
	e.Type = strings.ToLower(strings.TrimSpace(e.Type))
	published := e.Type == string(model.EventPublished)
	return validation.ValidateStruct(e,
		validation.Field(&e.Type, validation.Required, validation.In(
			string(model.EventAccepted),
			string(model.EventPublished),
			string(model.EventFailed),
			string(model.EventRejected),
		)),
		validation.Field(&e.PlatformURL, validation.When(published, validation.Required)),
		validation.Field(&e.PlatformID, validation.When(published, validation.Required)),
		validation.Field(&e.OccurredAt, validation.When(e.OccurredAt != "", validation.By(
			dateRule(time.RFC3339, "please format occurred_at as RFC 3339 (e.g. 2024-04-22T15:28:03Z)"),
		))),
	)
}

func (e *RecordEvent) ToAdapterEvent() model.AdapterEvent {
	var occurredAt time.Time
	if e.OccurredAt != "" {
		occurredAt, _ = time.Parse(time.RFC3339, e.OccurredAt)
	}
	return model.AdapterEvent{
		Type:         model.EventType(e.Type),
		SubmissionID: e.SubmissionID,
		PlatformURL:  e.PlatformURL,
		PlatformID:   e.PlatformID,
		ErrorCode:    e.ErrorCode,
		ErrorMessage: e.ErrorMessage,
		Reason:       e.Reason,
		OccurredAt:   occurredAt.UTC(),
	}
}

func (s *RevenueSnapshot) ValidateRevenueSnapshot() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Streams, validation.Min(int64(0))),
		validation.Field(&s.Listeners, validation.Min(int64(0))),
		validation.Field(&s.PlaylistAdds, validation.Min(int64(0))),
		validation.Field(&s.Revenue, validation.Required, validation.By(func(value interface{}) error {
			amount, err := decimal.NewFromString(value.(string))
			if err != nil {
				return errors.New("must be a decimal amount")
			}
			if amount.IsNegative() {
				return errors.New("must not be negative")
			}
			return nil
		})),
		validation.Field(&s.AsOf, validation.Required, validation.By(
			dateRule(time.RFC3339, "please format as_of as RFC 3339 (e.g. 2024-04-22T15:28:03Z)"),
		)),
	)
}

func (s *RevenueSnapshot) ToMetricsSnapshot() model.MetricsSnapshot {
	revenue, _ := decimal.NewFromString(s.Revenue)
	asOf, _ := time.Parse(time.RFC3339, s.AsOf)
	return model.MetricsSnapshot{
		Streams:      s.Streams,
		Revenue:      revenue,
		Listeners:    s.Listeners,
		Countries:    s.Countries,
		PlaylistAdds: s.PlaylistAdds,
		AsOf:         asOf.UTC(),
	}
}

func (f *UpdateFeatureFlag) ValidateUpdateFeatureFlag() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.Value, validation.Required, validation.By(func(value interface{}) error {
			if !json.Valid(value.(json.RawMessage)) {
				return errors.New("must be valid JSON")
			}
			return nil
		})),
		validation.Field(&f.Version, validation.Min(int64(0))),
	)
}
