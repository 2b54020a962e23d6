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
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
)

// FakeReleaseMetadata returns plausible release metadata for fixtures and seeding.
func FakeReleaseMetadata() ReleaseMetadata {
	advisory := AdvisoryClean
	if gofakeit.Bool() {
		advisory = AdvisoryExplicit
	}
	return ReleaseMetadata{
		Title:           gofakeit.HipsterSentence(3),
		ArtistName:      gofakeit.Name(),
		ISRC:            "UG" + strings.ToUpper(gofakeit.LetterN(3)) + gofakeit.DigitN(7),
		UPC:             gofakeit.DigitN(12),
		ReleaseDate:     gofakeit.DateRange(time.Now().AddDate(-2, 0, 0), time.Now()).UTC().Truncate(time.Second),
		Territories:     []string{"UG", "KE", "TZ"},
		ContentAdvisory: advisory,
		Genre:           gofakeit.RandomString([]string{"afrobeat", "kadongo kamu", "dancehall", "gospel", "hip hop"}),
		Language:        gofakeit.RandomString([]string{"en", "lg", "sw"}),
		PriceTier:       gofakeit.RandomString([]string{"standard", "budget", "premium"}),
	}
}

// FakeDistribution returns a pending distribution for a random song on platform.
func FakeDistribution(platform PlatformCode, now time.Time) Distribution {
	return NewDistribution(gofakeit.UUID(), platform, FakeReleaseMetadata(), now)
}

// FakeLiveDistribution returns a distribution that went live at liveAt through
// the regular pending, processing, live path.
func FakeLiveDistribution(platform PlatformCode, liveAt time.Time) Distribution {
	d := FakeDistribution(platform, liveAt.Add(-time.Hour))
	d, _, _ = Transition(d, AdapterEvent{Type: EventAccepted, SubmissionID: gofakeit.UUID()}, liveAt.Add(-30*time.Minute))
	d, _, _ = Transition(d, AdapterEvent{
		Type:        EventPublished,
		PlatformURL: "https://" + string(platform) + ".example/track/" + gofakeit.LetterN(10),
		PlatformID:  gofakeit.LetterN(22),
	}, liveAt)
	return d
}

// FakeSnapshot returns a metrics snapshot at asOf.
func FakeSnapshot(asOf time.Time) MetricsSnapshot {
	return MetricsSnapshot{
		Streams:      int64(gofakeit.IntRange(100, 100000)),
		Revenue:      decimal.NewFromFloat(gofakeit.Float64Range(1, 500)).Round(2),
		Listeners:    int64(gofakeit.IntRange(10, 5000)),
		Countries:    []string{"UG", "KE"},
		PlaylistAdds: int64(gofakeit.IntRange(0, 200)),
		AsOf:         asOf,
	}
}
