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

package distro

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ugamusic/distro/model"
	"github.com/ugamusic/distro/platform"
)

// maxSyncWorkers bounds concurrent adapter calls during a revenue sync.
const maxSyncWorkers = 10

// RevenueSyncSummary counts the outcomes of one SyncAllRevenue run.
type RevenueSyncSummary struct {
	Synced  int `json:"synced"`
	Stale   int `json:"stale"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// SyncRevenue folds a metrics snapshot into a live distribution. A snapshot
// that is not newer than the last sync is dropped with a warning and
// model.ErrStaleSnapshot is returned.
func (d *Distro) SyncRevenue(ctx context.Context, id string, snapshot model.MetricsSnapshot) (*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "SyncRevenue")
	defer span.End()
	span.SetAttributes(attribute.String("distribution.id", id))

	now := d.now()
	historyLimit := d.config.Distribution.HistoryLimit
	updated, _, err := d.mutate(ctx, id, func(current model.Distribution) (model.Distribution, bool, error) {
		next, err := model.ApplySnapshot(current, snapshot, historyLimit, now)
		if err != nil {
			return current, false, err
		}
		return next, true, nil
	})
	if err != nil {
		fields := logrus.Fields{"distribution_id": id, "as_of": snapshot.AsOf}
		if errors.Is(err, model.ErrStaleSnapshot) {
			logrus.WithFields(fields).Warn("dropping stale metrics snapshot")
		} else {
			logrus.WithFields(fields).Errorf("syncing revenue: %v", err)
		}
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"distribution_id": id,
		"total_streams":   updated.TotalStreams,
		"total_revenue":   updated.TotalRevenue.String(),
	}).Info("revenue synced")
	if err := d.indexDistribution(ctx, updated); err != nil {
		logrus.WithField("distribution_id", id).Errorf("queueing index update: %v", err)
	}
	return updated, nil
}

// SyncAllRevenue fetches the latest metrics for every live distribution from
// its platform and applies them. It is gated by the revenue_sync flag.
func (d *Distro) SyncAllRevenue(ctx context.Context) (RevenueSyncSummary, error) {
	ctx, span := tracer.Start(ctx, "SyncAllRevenue")
	defer span.End()

	summary := RevenueSyncSummary{}
	if !d.flags.Enabled(ctx, model.FlagModuleDistribution, model.FlagRevenueSync, true) {
		logrus.Info("revenue sync is disabled, skipping")
		return summary, nil
	}

	ids, err := d.collectIDs(ctx, model.StatusLive)
	if err != nil {
		span.RecordError(err)
		return summary, err
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxSyncWorkers)

	for _, id := range ids {
		sem <- struct{}{}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := d.syncOne(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case syncApplied:
				summary.Synced++
			case syncStale:
				summary.Stale++
			case syncSkipped:
				summary.Skipped++
			default:
				summary.Failed++
			}
		}(id)
	}
	wg.Wait()

	logrus.WithFields(logrus.Fields{
		"synced":  summary.Synced,
		"stale":   summary.Stale,
		"skipped": summary.Skipped,
		"failed":  summary.Failed,
	}).Info("revenue sync finished")
	return summary, nil
}

type syncOutcome int

const (
	syncApplied syncOutcome = iota
	syncStale
	syncSkipped
	syncFailed
)

func (d *Distro) syncOne(ctx context.Context, id string) syncOutcome {
	dist, err := d.datasource.GetDistributionByID(ctx, id)
	if err != nil {
		return syncFailed
	}
	if dist.Status != model.StatusLive || dist.PlatformMetadata.SubmissionID == "" {
		return syncSkipped
	}

	adapter, err := d.registry.Get(dist.PlatformCode)
	if err != nil {
		logrus.WithField("distribution_id", id).Warnf("no adapter for revenue sync: %v", err)
		return syncSkipped
	}

	callCtx, cancel := d.adapterContext(ctx)
	report, err := adapter.CheckStatus(callCtx, dist.PlatformMetadata.SubmissionID)
	cancel()
	if err != nil {
		logrus.WithField("distribution_id", id).Warn(platform.AsAdapterError(dist.PlatformCode, "check status", err))
		return syncFailed
	}
	if report.Metrics == nil {
		return syncSkipped
	}

	if _, err := d.SyncRevenue(ctx, id, *report.Metrics); err != nil {
		if errors.Is(err, model.ErrStaleSnapshot) {
			return syncStale
		}
		return syncFailed
	}
	return syncApplied
}
