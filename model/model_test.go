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
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUIDWithSuffix(t *testing.T) {
	module := "dst"
	id := GenerateUUIDWithSuffix(module)
	assert.Contains(t, id, module+"_")
}

func TestKeepLast(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	out := keepLast(items, 3)
	assert.Equal(t, []int{3, 4, 5}, out)

	out[0] = 99
	assert.Equal(t, 3, items[2], "trimmed slice must not share the backing array")

	assert.Equal(t, []int{1, 2, 3, 4, 5}, keepLast(items, 10))
	assert.Empty(t, keepLast(items, 0))
}

func TestParsePlatformCode(t *testing.T) {
	code, err := ParsePlatformCode(" Spotify ")
	require.NoError(t, err)
	assert.Equal(t, PlatformSpotify, code)

	_, err = ParsePlatformCode("napster")
	assert.ErrorIs(t, err, ErrUnknownPlatform)
	assert.Len(t, AllPlatforms(), 9)
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus("LIVE")
	assert.True(t, ok)
	assert.Equal(t, StatusLive, s)

	_, ok = ParseStatus("archived")
	assert.False(t, ok)
}

func TestNewDistribution(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	d := NewDistribution("42", PlatformSpotify, FakeReleaseMetadata(), now)

	assert.Contains(t, d.DistributionID, "dst_")
	assert.Equal(t, StatusPending, d.Status)
	assert.Equal(t, 0, d.RetryCount)
	assert.True(t, d.TotalRevenue.IsZero())
	assert.Equal(t, now, d.CreatedAt)
	assert.Equal(t, now, d.LastUpdated)
	assert.NoError(t, d.Validate())
}

func TestDistribution_Validate(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(d *Distribution)
	}{
		{
			name: "live fields on pending",
			mutate: func(d *Distribution) {
				d.PlatformURL = "https://open.spotify.com/track/1"
			},
		},
		{
			name: "live without live date",
			mutate: func(d *Distribution) {
				d.Status = StatusLive
				d.PlatformURL = "https://open.spotify.com/track/1"
				d.PlatformID = "1"
			},
		},
		{
			name: "retry count without failure",
			mutate: func(d *Distribution) {
				d.RetryCount = 1
			},
		},
		{
			name: "totals on processing",
			mutate: func(d *Distribution) {
				d.Status = StatusProcessing
				d.TotalStreams = 10
			},
		},
		{
			name: "rejection and removal reasons",
			mutate: func(d *Distribution) {
				d.Status = StatusRemoved
				d.RejectionReason = "bad art"
				d.RemovalReason = "takedown"
			},
		},
		{
			name: "error message outside failed",
			mutate: func(d *Distribution) {
				d.ErrorMessage = "boom"
			},
		},
		{
			name: "negative revenue",
			mutate: func(d *Distribution) {
				d.Status = StatusRemoved
				d.RemovalReason = "gone"
				d.TotalRevenue = decimal.NewFromInt(-1)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDistribution("42", PlatformSpotify, FakeReleaseMetadata(), now)
			tt.mutate(&d)
			assert.ErrorIs(t, d.Validate(), ErrInvariantViolation)
		})
	}
}

func TestFeatureFlag_Bool(t *testing.T) {
	assert.True(t, FeatureFlag{Value: []byte(`true`)}.Bool(false))
	assert.False(t, FeatureFlag{Value: []byte(`false`)}.Bool(true))
	assert.True(t, FeatureFlag{Value: []byte(`"yes"`)}.Bool(true))
	assert.Equal(t, "platform.deezer.enabled", PlatformEnabledFlag(PlatformDeezer))
}
