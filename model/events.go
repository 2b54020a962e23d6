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
)

// EventType is the trigger fed into the transition engine.
type EventType string

const (
	EventAccepted    EventType = "accepted"
	EventPublished   EventType = "published"
	EventFailed      EventType = "failed"
	EventRejected    EventType = "rejected"
	EventRetry       EventType = "retry"
	EventTakedown    EventType = "takedown"
	EventForceRemove EventType = "force_remove"
	EventResubmit    EventType = "resubmit"
)

var allEvents = []EventType{
	EventAccepted,
	EventPublished,
	EventFailed,
	EventRejected,
	EventRetry,
	EventTakedown,
	EventForceRemove,
	EventResubmit,
}

// ParseEventType normalizes an event name and reports whether it is known.
func ParseEventType(value string) (EventType, bool) {
	e := EventType(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range allEvents {
		if known == e {
			return e, true
		}
	}
	return "", false
}

// AdapterEvent is a normalized callback from a platform adapter or an operator action.
type AdapterEvent struct {
	Type         EventType `json:"type"`
	SubmissionID string    `json:"submission_id,omitempty"`
	PlatformURL  string    `json:"platform_url,omitempty"`
	PlatformID   string    `json:"platform_id,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at,omitempty"`
}

// Webhook event names emitted on status changes.
const (
	WebhookDistributionCreated = "distribution.created"
	WebhookNeedsReview         = "distribution.needs_review"
)

// WebhookEventForStatus maps a status to its webhook event name.
func WebhookEventForStatus(status Status) string {
	switch status {
	case StatusPending:
		return "distribution.pending"
	case StatusProcessing:
		return "distribution.processing"
	case StatusLive:
		return "distribution.live"
	case StatusFailed:
		return "distribution.failed"
	case StatusRejected:
		return "distribution.rejected"
	case StatusRemoved:
		return "distribution.removed"
	default:
		return "distribution.unknown"
	}
}

// FromAdapter reports whether platforms (rather than operators or the
// scheduler) emit this event type.
func (e EventType) FromAdapter() bool {
	switch e {
	case EventAccepted, EventPublished, EventFailed, EventRejected:
		return true
	}
	return false
}
