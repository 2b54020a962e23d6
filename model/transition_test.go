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
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func processingDistribution(t *testing.T) Distribution {
	t.Helper()
	d := NewDistribution("42", PlatformSpotify, FakeReleaseMetadata(), t0)
	d, changed, err := Transition(d, AdapterEvent{Type: EventAccepted, SubmissionID: "sub-1"}, t0.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, changed)
	return d
}

func failedDistribution(t *testing.T) Distribution {
	t.Helper()
	d := processingDistribution(t)
	d, _, err := Transition(d, AdapterEvent{Type: EventFailed, ErrorCode: "E42", ErrorMessage: "audio rejected by encoder"}, t0.Add(2*time.Minute))
	require.NoError(t, err)
	return d
}

func TestTransition_HappyPath(t *testing.T) {
	d := processingDistribution(t)
	assert.Equal(t, StatusProcessing, d.Status)
	assert.Equal(t, "sub-1", d.PlatformMetadata.SubmissionID)

	published := t0.Add(time.Hour)
	live, changed, err := Transition(d, AdapterEvent{
		Type:        EventPublished,
		PlatformURL: "https://open.spotify.com/track/abc",
		PlatformID:  "abc",
	}, published)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusLive, live.Status)
	require.NotNil(t, live.LiveDate)
	assert.Equal(t, published, *live.LiveDate)
	assert.Equal(t, "abc", live.PlatformID)
	assert.Equal(t, published, live.LastUpdated)
	assert.NoError(t, live.Validate())
	assert.Len(t, live.PlatformMetadata.Transitions, 2)
}

func TestTransition_PublishedRequiresURLAndID(t *testing.T) {
	d := processingDistribution(t)
	out, changed, err := Transition(d, AdapterEvent{Type: EventPublished, PlatformURL: "https://x"}, t0)
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.False(t, changed)
	assert.Equal(t, d, out)
}

func TestTransition_FailedAndRetry(t *testing.T) {
	d := failedDistribution(t)
	assert.Equal(t, StatusFailed, d.Status)
	assert.Equal(t, "audio rejected by encoder", d.ErrorMessage)
	assert.Equal(t, []string{"E42"}, d.PlatformMetadata.ErrorCodes)
	assert.NoError(t, d.Validate())

	retried, changed, err := Transition(d, AdapterEvent{Type: EventRetry}, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusPending, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Empty(t, retried.ErrorMessage)
	assert.Equal(t, []string{"E42"}, retried.PlatformMetadata.ErrorCodes, "error codes are kept as history")
	assert.NoError(t, retried.Validate())
}

func TestTransition_SubmissionFailureFromPending(t *testing.T) {
	d := NewDistribution("42", PlatformTidal, FakeReleaseMetadata(), t0)
	out, _, err := Transition(d, AdapterEvent{Type: EventFailed, ErrorMessage: "context deadline exceeded"}, t0)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, out.Status)
}

func TestTransition_DefaultMessages(t *testing.T) {
	d := processingDistribution(t)

	failed, _, err := Transition(d, AdapterEvent{Type: EventFailed}, t0)
	require.NoError(t, err)
	assert.NotEmpty(t, failed.ErrorMessage)

	rejected, _, err := Transition(d, AdapterEvent{Type: EventRejected}, t0)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.NotEmpty(t, rejected.RejectionReason)
}

func TestTransition_Takedown(t *testing.T) {
	live := FakeLiveDistribution(PlatformSpotify, t0)
	live.TotalStreams = 500
	live.TotalRevenue = decimal.RequireFromString("12.50")

	removedAt := t0.Add(48 * time.Hour)
	removed, changed, err := Transition(live, AdapterEvent{Type: EventTakedown, Reason: "artist request"}, removedAt)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusRemoved, removed.Status)
	assert.Equal(t, "artist request", removed.RemovalReason)
	require.NotNil(t, removed.RemovedDate)
	assert.Equal(t, removedAt, *removed.RemovedDate)
	assert.Nil(t, removed.LiveDate)
	assert.Empty(t, removed.PlatformURL)
	assert.Equal(t, int64(500), removed.TotalStreams)
	assert.True(t, removed.TotalRevenue.Equal(decimal.RequireFromString("12.50")))
	assert.NoError(t, removed.Validate())
}

func TestTransition_ForceRemove(t *testing.T) {
	d := processingDistribution(t)
	removed, changed, err := Transition(d, AdapterEvent{Type: EventForceRemove}, t0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusRemoved, removed.Status)
	assert.NotEmpty(t, removed.RemovalReason)

	again, changed, err := Transition(removed, AdapterEvent{Type: EventForceRemove}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, removed, again)
}

func TestTransition_ForceRemoveClearsRejection(t *testing.T) {
	d := processingDistribution(t)
	rejected, _, err := Transition(d, AdapterEvent{Type: EventRejected, Reason: "cover art"}, t0)
	require.NoError(t, err)

	removed, _, err := Transition(rejected, AdapterEvent{Type: EventForceRemove, Reason: "cleanup"}, t0)
	require.NoError(t, err)
	assert.Empty(t, removed.RejectionReason)
	assert.Equal(t, "cleanup", removed.RemovalReason)
	assert.NoError(t, removed.Validate())
}

func TestTransition_Resubmit(t *testing.T) {
	d := failedDistribution(t)
	d.RetryCount = 3
	d.NeedsReview = true
	d.ReviewReason = "automatic retries exhausted"

	out, changed, err := Transition(d, AdapterEvent{Type: EventResubmit, Reason: "fixed audio"}, t0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusPending, out.Status)
	assert.Equal(t, 0, out.RetryCount)
	assert.False(t, out.NeedsReview)
	assert.Empty(t, out.ReviewReason)
	assert.Empty(t, out.ErrorMessage)
}

func TestTransition_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		from  func(t *testing.T) Distribution
		event EventType
		to    Status
	}{
		{"pending to live", func(t *testing.T) Distribution { return NewDistribution("42", PlatformSpotify, FakeReleaseMetadata(), t0) }, EventPublished, StatusLive},
		{"processing retry", processingDistribution, EventRetry, StatusPending},
		{"failed takedown", failedDistribution, EventTakedown, StatusRemoved},
		{"live accepted", func(t *testing.T) Distribution { return FakeLiveDistribution(PlatformDeezer, t0) }, EventAccepted, StatusProcessing},
		{"live resubmit", func(t *testing.T) Distribution { return FakeLiveDistribution(PlatformDeezer, t0) }, EventResubmit, StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.from(t)
			out, changed, err := Transition(d, AdapterEvent{Type: tt.event}, t0)
			require.Error(t, err)
			assert.False(t, changed)
			assert.Equal(t, d, out)
			assert.ErrorIs(t, err, ErrInvalidTransition)

			var invalid *InvalidTransitionError
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, d.Status, invalid.From)
			assert.Equal(t, tt.to, invalid.To)
		})
	}
}

func TestTransition_DoesNotMutateInput(t *testing.T) {
	d := failedDistribution(t)
	codes := append([]string(nil), d.PlatformMetadata.ErrorCodes...)
	logLen := len(d.PlatformMetadata.Transitions)

	_, _, err := Transition(d, AdapterEvent{Type: EventRetry}, t0)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, d.Status)
	assert.Equal(t, codes, d.PlatformMetadata.ErrorCodes)
	assert.Len(t, d.PlatformMetadata.Transitions, logLen)
}

func TestTransition_LogIsBounded(t *testing.T) {
	d := failedDistribution(t)
	var err error
	for i := 0; i < MaxTransitionLog; i++ {
		d, _, err = Transition(d, AdapterEvent{Type: EventResubmit}, t0)
		require.NoError(t, err)
		d, _, err = Transition(d, AdapterEvent{Type: EventFailed, ErrorCode: "E1"}, t0)
		require.NoError(t, err)
	}
	assert.Len(t, d.PlatformMetadata.Transitions, MaxTransitionLog)
	assert.Len(t, d.PlatformMetadata.ErrorCodes, maxErrorCodes)
}

func TestTransition_UsesEventTime(t *testing.T) {
	d := processingDistribution(t)
	occurred := t0.Add(-time.Hour)
	live, _, err := Transition(d, AdapterEvent{Type: EventPublished, PlatformURL: "u", PlatformID: "i", OccurredAt: occurred}, t0)
	require.NoError(t, err)
	assert.Equal(t, occurred, *live.LiveDate)
	assert.Equal(t, t0, live.LastUpdated)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusLive, EventTakedown))
	assert.True(t, CanTransition(StatusRemoved, EventForceRemove))
	assert.False(t, CanTransition(StatusRemoved, EventResubmit))
	assert.False(t, CanTransition(StatusRejected, EventRetry))
}

func TestFlagForReview(t *testing.T) {
	d := failedDistribution(t)
	flagged, changed := FlagForReview(d, "")
	assert.True(t, changed)
	assert.True(t, flagged.NeedsReview)
	assert.Equal(t, d.LastUpdated, flagged.LastUpdated)
	assert.False(t, d.NeedsReview)

	_, changed = FlagForReview(flagged, "")
	assert.False(t, changed)
}
