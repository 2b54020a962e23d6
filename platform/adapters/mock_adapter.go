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

package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ugamusic/distro/model"
	"github.com/ugamusic/distro/platform"
)

var errMockFailure = errors.New("mock platform failure triggered")

// MockAdapter is an in-memory platform used for local runs and tests. Every
// submission is accepted and later reported with the configured Report.
type MockAdapter struct {
	code model.PlatformCode

	mu          sync.Mutex
	ShouldFail  bool
	Delay       time.Duration
	Report      platform.StatusReport
	submissions map[string]string
	takedowns   []string
}

func NewMockAdapter(code model.PlatformCode) *MockAdapter {
	return &MockAdapter{
		code:        code,
		Report:      platform.StatusReport{State: platform.StateInReview},
		submissions: make(map[string]string),
	}
}

// NewMockRegistry registers a MockAdapter for every supported platform.
func NewMockRegistry() *platform.Registry {
	registry := platform.NewRegistry()
	for _, code := range model.AllPlatforms() {
		registry.Register(NewMockAdapter(code))
	}
	return registry
}

func (m *MockAdapter) Code() model.PlatformCode {
	return m.code
}

// SetReport changes what CheckStatus returns for every submission.
func (m *MockAdapter) SetReport(report platform.StatusReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Report = report
}

// SetFailing makes every call fail with an *platform.AdapterError.
func (m *MockAdapter) SetFailing(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldFail = fail
}

func (m *MockAdapter) wait(ctx context.Context) error {
	m.mu.Lock()
	delay := m.Delay
	m.mu.Unlock()
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MockAdapter) fail(op string) error {
	return &platform.AdapterError{Platform: m.code, Op: op, Code: "MOCK_FAILURE", Err: errMockFailure}
}

func (m *MockAdapter) Submit(ctx context.Context, songID string, metadata model.ReleaseMetadata) (*platform.SubmissionResult, error) {
	if err := m.wait(ctx); err != nil {
		return nil, &platform.AdapterError{Platform: m.code, Op: "submit", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return nil, m.fail("submit")
	}
	ref := "mock_" + uuid.New().String()
	m.submissions[ref] = songID
	return &platform.SubmissionResult{SubmissionID: ref}, nil
}

func (m *MockAdapter) CheckStatus(ctx context.Context, submissionID string) (*platform.StatusReport, error) {
	if err := m.wait(ctx); err != nil {
		return nil, &platform.AdapterError{Platform: m.code, Op: "check status", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return nil, m.fail("check status")
	}
	report := m.Report
	if report.State == platform.StateLive {
		if report.PlatformID == "" {
			report.PlatformID = submissionID
		}
		if report.PlatformURL == "" {
			report.PlatformURL = "https://" + string(m.code) + ".example/track/" + report.PlatformID
		}
	}
	if report.Metrics != nil {
		metrics := *report.Metrics
		report.Metrics = &metrics
	}
	return &report, nil
}

func (m *MockAdapter) RequestTakedown(ctx context.Context, submissionID string) error {
	if err := m.wait(ctx); err != nil {
		return &platform.AdapterError{Platform: m.code, Op: "takedown", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return m.fail("takedown")
	}
	m.takedowns = append(m.takedowns, submissionID)
	return nil
}

// Takedowns returns the submission ids a takedown was requested for.
func (m *MockAdapter) Takedowns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.takedowns...)
}

// Submissions returns the number of accepted submissions.
func (m *MockAdapter) Submissions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submissions)
}
