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
)

const (
	defaultFailureMessage   = "platform reported an unspecified error"
	defaultRejectionReason  = "rejected by platform"
	defaultRemovalReason    = "removed by operator"
	defaultTakedownReason   = "takedown requested"
	reviewReasonRetriesDone = "automatic retries exhausted"
)

type statusTransition struct {
	from  Status
	event EventType
}

// transitions is the full table of legal moves. force_remove is handled
// separately because it is legal from every status.
var transitions = map[statusTransition]Status{
	{from: StatusPending, event: EventAccepted}:     StatusProcessing,
	{from: StatusPending, event: EventFailed}:       StatusFailed,
	{from: StatusProcessing, event: EventPublished}: StatusLive,
	{from: StatusProcessing, event: EventFailed}:    StatusFailed,
	{from: StatusProcessing, event: EventRejected}:  StatusRejected,
	{from: StatusFailed, event: EventRetry}:         StatusPending,
	{from: StatusFailed, event: EventResubmit}:      StatusPending,
	{from: StatusRejected, event: EventResubmit}:    StatusPending,
	{from: StatusLive, event: EventTakedown}:        StatusRemoved,
}

// nominalTarget is the status an event asks for, used in error reporting.
func nominalTarget(event EventType) Status {
	switch event {
	case EventAccepted:
		return StatusProcessing
	case EventPublished:
		return StatusLive
	case EventFailed:
		return StatusFailed
	case EventRejected:
		return StatusRejected
	case EventRetry, EventResubmit:
		return StatusPending
	case EventTakedown, EventForceRemove:
		return StatusRemoved
	default:
		return Status(event)
	}
}

// CanTransition reports whether event is legal for a distribution in status from.
func CanTransition(from Status, event EventType) bool {
	if event == EventForceRemove {
		return true
	}
	_, ok := transitions[statusTransition{from: from, event: event}]
	return ok
}

// Transition computes the next state of a distribution for an event. It is a
// pure function: current is not modified and nothing is persisted. The
// returned bool is false when the event is an accepted no-op (force removal of
// an already removed record) and there is nothing to write.
func Transition(current Distribution, event AdapterEvent, now time.Time) (Distribution, bool, error) {
	if event.Type == EventForceRemove && current.Status == StatusRemoved {
		return current, false, nil
	}

	var target Status
	if event.Type == EventForceRemove {
		target = StatusRemoved
	} else {
		var ok bool
		target, ok = transitions[statusTransition{from: current.Status, event: event.Type}]
		if !ok {
			return current, false, &InvalidTransitionError{From: current.Status, To: nominalTarget(event.Type), Event: event.Type}
		}
	}

	at := now
	if !event.OccurredAt.IsZero() {
		at = event.OccurredAt
	}

	next := current.clone()
	reason := ""

	switch event.Type {
	case EventAccepted:
		if event.SubmissionID != "" {
			next.PlatformMetadata.SubmissionID = event.SubmissionID
		}

	case EventPublished:
		if strings.TrimSpace(event.PlatformURL) == "" || strings.TrimSpace(event.PlatformID) == "" {
			return current, false, fmt.Errorf("%w: published event requires platform url and platform id", ErrInvalidEvent)
		}
		liveDate := at
		next.LiveDate = &liveDate
		next.PlatformURL = event.PlatformURL
		next.PlatformID = event.PlatformID

	case EventFailed:
		reason = strings.TrimSpace(event.ErrorMessage)
		if reason == "" {
			reason = defaultFailureMessage
		}
		next.ErrorMessage = reason
		if event.ErrorCode != "" {
			codes := append(next.PlatformMetadata.ErrorCodes, event.ErrorCode)
			next.PlatformMetadata.ErrorCodes = keepLast(codes, maxErrorCodes)
		}

	case EventRejected:
		reason = strings.TrimSpace(event.Reason)
		if reason == "" {
			reason = defaultRejectionReason
		}
		next.RejectionReason = reason
		if event.ErrorCode != "" {
			codes := append(next.PlatformMetadata.ErrorCodes, event.ErrorCode)
			next.PlatformMetadata.ErrorCodes = keepLast(codes, maxErrorCodes)
		}

	case EventRetry:
		next.RetryCount++
		next.NeedsReview = false
		next.ReviewReason = ""

	case EventResubmit:
		reason = strings.TrimSpace(event.Reason)
		next.RetryCount = 0
		next.NeedsReview = false
		next.ReviewReason = ""
		next.PlatformMetadata.SubmissionID = ""

	case EventTakedown, EventForceRemove:
		reason = strings.TrimSpace(event.Reason)
		if reason == "" {
			if event.Type == EventTakedown {
				reason = defaultTakedownReason
			} else {
				reason = defaultRemovalReason
			}
		}
		removedAt := at
		next.RemovedDate = &removedAt
		next.RemovalReason = reason
		next.NeedsReview = false
		next.ReviewReason = ""
		// Only live records carry totals, so a removal from live keeps them as a
		// frozen snapshot and any other removal keeps zero.
	}

	// Fields that belong to a single status are cleared when leaving it.
	if target != StatusLive {
		next.LiveDate = nil
		next.PlatformURL = ""
		next.PlatformID = ""
	}
	if target != StatusFailed {
		next.ErrorMessage = ""
	}
	if target != StatusRejected {
		next.RejectionReason = ""
	}
	if target != StatusRemoved {
		next.RemovalReason = ""
		next.RemovedDate = nil
	}

	next.PlatformMetadata.Transitions = keepLast(append(next.PlatformMetadata.Transitions, StatusChange{
		From:   current.Status,
		To:     target,
		Event:  event.Type,
		Reason: reason,
		At:     at,
	}), MaxTransitionLog)

	next.Status = target
	next.LastUpdated = now
	return next, true, nil
}

// FlagForReview marks a failed distribution whose retries are exhausted. It
// does not change the status. The returned bool is false if the flag was
// already raised.
func FlagForReview(current Distribution, reason string) (Distribution, bool) {
	if current.NeedsReview {
		return current, false
	}
	if reason == "" {
		reason = reviewReasonRetriesDone
	}
	next := current.clone()
	next.NeedsReview = true
	next.ReviewReason = reason
	// lastUpdated drives the backoff clock, so flagging leaves it alone.
	return next, true
}

// clone copies the distribution deeply enough that appending to the copy's
// slices or repointing its time fields never touches the original.
func (d Distribution) clone() Distribution {
	out := d
	out.Metadata.Territories = append([]string(nil), d.Metadata.Territories...)
	out.PlatformMetadata.ErrorCodes = append([]string(nil), d.PlatformMetadata.ErrorCodes...)
	out.PlatformMetadata.History = append([]MetricsSnapshot{}, d.PlatformMetadata.History...)
	out.PlatformMetadata.Transitions = append([]StatusChange{}, d.PlatformMetadata.Transitions...)
	if d.PlatformMetadata.LastMetrics != nil {
		m := *d.PlatformMetadata.LastMetrics
		out.PlatformMetadata.LastMetrics = &m
	}
	if d.LiveDate != nil {
		t := *d.LiveDate
		out.LiveDate = &t
	}
	if d.RemovedDate != nil {
		t := *d.RemovedDate
		out.RemovedDate = &t
	}
	if d.LastSynced != nil {
		t := *d.LastSynced
		out.LastSynced = &t
	}
	return out
}
