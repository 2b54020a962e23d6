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
	"time"

	"github.com/shopspring/decimal"
)

// MetricsSnapshot is a point-in-time report of cumulative platform metrics.
type MetricsSnapshot struct {
	Streams      int64           `json:"streams"`
	Revenue      decimal.Decimal `json:"revenue"`
	Listeners    int64           `json:"listeners"`
	Countries    []string        `json:"countries,omitempty"`
	PlaylistAdds int64           `json:"playlist_adds"`
	AsOf         time.Time       `json:"as_of"`
}

func (s MetricsSnapshot) validate() error {
	if s.AsOf.IsZero() {
		return fmt.Errorf("%w: as_of is required", ErrInvalidSnapshot)
	}
	if s.Streams < 0 || s.Listeners < 0 || s.PlaylistAdds < 0 {
		return fmt.Errorf("%w: counts must not be negative", ErrInvalidSnapshot)
	}
	if s.Revenue.IsNegative() {
		return fmt.Errorf("%w: revenue must not be negative", ErrInvalidSnapshot)
	}
	return nil
}

// ApplySnapshot folds a metrics snapshot into a live distribution. Snapshots
// carry cumulative values, so totals take the snapshot values and never move
// below what is already recorded. A snapshot at or before LastSynced returns
// ErrStaleSnapshot and leaves the record untouched.
func ApplySnapshot(current Distribution, snapshot MetricsSnapshot, historyLimit int, now time.Time) (Distribution, error) {
	if current.Status != StatusLive {
		return current, fmt.Errorf("%w: distribution %s is %s", ErrNotLive, current.DistributionID, current.Status)
	}
	if err := snapshot.validate(); err != nil {
		return current, err
	}
	if current.LastSynced != nil && !snapshot.AsOf.After(*current.LastSynced) {
		return current, fmt.Errorf("%w: snapshot as of %s, last synced %s", ErrStaleSnapshot,
			snapshot.AsOf.Format(time.RFC3339), current.LastSynced.Format(time.RFC3339))
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}

	next := current.clone()
	snap := snapshot
	snap.Countries = append([]string(nil), snapshot.Countries...)

	if snap.Streams > next.TotalStreams {
		next.TotalStreams = snap.Streams
	}
	if snap.Revenue.GreaterThan(next.TotalRevenue) {
		next.TotalRevenue = snap.Revenue
	}

	next.PlatformMetadata.LastMetrics = &snap
	next.PlatformMetadata.History = keepLast(append(next.PlatformMetadata.History, snap), historyLimit)

	synced := snap.AsOf
	next.LastSynced = &synced
	next.LastUpdated = now
	return next, nil
}
