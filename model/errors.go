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
	"fmt"
)

var (
	ErrInvalidTransition      = errors.New("invalid distribution status transition")
	ErrDuplicateDistribution  = errors.New("an active distribution already exists for this song and platform")
	ErrStaleSnapshot          = errors.New("metrics snapshot is older than the last sync")
	ErrConcurrentModification = errors.New("distribution was modified concurrently, retry the operation")
	ErrNotLive                = errors.New("distribution is not live")
	ErrInvalidSnapshot        = errors.New("invalid metrics snapshot")
	ErrInvalidEvent           = errors.New("invalid adapter event")
	ErrUnknownPlatform        = errors.New("unknown platform code")
	ErrPlatformDisabled       = errors.New("distribution to this platform is disabled")
	ErrInvariantViolation     = errors.New("distribution invariant violated")
	ErrFeatureFlagNotFound    = errors.New("feature flag not found")
)

// InvalidTransitionError identifies the current status, the requested status
// and the event that asked for it.
type InvalidTransitionError struct {
	From  Status
	To    Status
	Event EventType
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move distribution from %s to %s on %q", e.From, e.To, e.Event)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}
