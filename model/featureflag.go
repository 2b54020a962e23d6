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
	"time"
)

// FeatureFlag is a typed JSON value keyed by (module, flag).
type FeatureFlag struct {
	Module    string          `json:"module"`
	Flag      string          `json:"flag"`
	Value     json.RawMessage `json:"value"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Bool decodes the value as a boolean, returning fallback when it is not one.
func (f FeatureFlag) Bool(fallback bool) bool {
	var v bool
	if err := json.Unmarshal(f.Value, &v); err != nil {
		return fallback
	}
	return v
}

// Feature flag modules and names read by the engine.
const (
	FlagModuleDistribution = "distribution"
	FlagAutoRetry          = "auto_retry"
	FlagRevenueSync        = "revenue_sync"
)

// PlatformEnabledFlag is the flag name that gates new distributions to a platform.
func PlatformEnabledFlag(code PlatformCode) string {
	return "platform." + string(code) + ".enabled"
}
