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

package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/ugamusic/distro/model"
)

// ReportState is the normalized review state a platform reports for a submission.
type ReportState string

const (
	StateInReview ReportState = "in_review"
	StateLive     ReportState = "live"
	StateRejected ReportState = "rejected"
	StateFailed   ReportState = "failed"
)

// SubmissionResult is returned by a platform that accepted a release for review.
type SubmissionResult struct {
	SubmissionID string `json:"submission_id"`
}

// StatusReport is a platform's answer to a status check.
type StatusReport struct {
	State       ReportState            `json:"state"`
	PlatformURL string                 `json:"platform_url,omitempty"`
	PlatformID  string                 `json:"platform_id,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	ErrorCode   string                 `json:"error_code,omitempty"`
	Metrics     *model.MetricsSnapshot `json:"metrics,omitempty"`
}

// Event converts the report into an engine event. The bool is false while the
// submission is still in review and there is nothing to apply.
func (r StatusReport) Event() (model.AdapterEvent, bool) {
	switch r.State {
	case StateLive:
		return model.AdapterEvent{Type: model.EventPublished, PlatformURL: r.PlatformURL, PlatformID: r.PlatformID}, true
	case StateRejected:
		return model.AdapterEvent{Type: model.EventRejected, Reason: r.Reason, ErrorCode: r.ErrorCode}, true
	case StateFailed:
		return model.AdapterEvent{Type: model.EventFailed, ErrorMessage: r.Reason, ErrorCode: r.ErrorCode}, true
	default:
		return model.AdapterEvent{}, false
	}
}

// Adapter translates the engine's submit, status and takedown calls into one
// platform's API.
type Adapter interface {
	Code() model.PlatformCode
	Submit(ctx context.Context, songID string, metadata model.ReleaseMetadata) (*SubmissionResult, error)
	CheckStatus(ctx context.Context, submissionID string) (*StatusReport, error)
	RequestTakedown(ctx context.Context, submissionID string) error
}

// AdapterError is the error every adapter call fails with.
type AdapterError struct {
	Platform model.PlatformCode
	Op       string
	Code     string
	Err      error
}

func (e *AdapterError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s failed (%s): %v", e.Platform, e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Platform, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Event maps an adapter failure to a failed transition.
func (e *AdapterError) Event() model.AdapterEvent {
	msg := e.Error()
	if errors.Is(e.Err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("%s %s timed out", e.Platform, e.Op)
	}
	return model.AdapterEvent{Type: model.EventFailed, ErrorCode: e.Code, ErrorMessage: msg}
}

// AsAdapterError wraps any error from an adapter call in an *AdapterError.
func AsAdapterError(platform model.PlatformCode, op string, err error) *AdapterError {
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		return adapterErr
	}
	return &AdapterError{Platform: platform, Op: op, Err: err}
}
