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
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ugamusic/distro/model"
)

const (
	staleProcessingCode = "STALE_PROCESSING"
	sweepWorkers        = 10
)

// SweepResult counts what one sweep did.
type SweepResult struct {
	Failed   int `json:"failed"`
	Requeued int `json:"requeued"`
}

// Sweeper periodically fails distributions stuck in processing and re-queues
// pending ones whose submission task was lost.
type Sweeper struct {
	distro   *Distro
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewSweeper(d *Distro) *Sweeper {
	interval := d.config.Jobs.SweepInterval()
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		distro:   d,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	logrus.Info("Stale distribution sweeper started")
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	logrus.Info("Stale distribution sweeper stopped")
}

func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.distro.RunJob(ctx, JobSweep); err != nil {
				logrus.Errorf("stale distribution sweep failed: %v", err)
			}
		}
	}
}

// SweepStaleProcessing fails every distribution that has been processing for
// longer than the staleness threshold, and re-queues submission for pending
// distributions idle for longer than one sweep interval.
func (d *Distro) SweepStaleProcessing(ctx context.Context) (SweepResult, error) {
	ctx, span := tracer.Start(ctx, "SweepStaleProcessing")
	defer span.End()

	result := SweepResult{}
	now := d.now()
	threshold := d.config.Distribution.StaleProcessingThreshold()
	cutoff := now.Add(-threshold)

	stuck, err := d.datasource.GetStaleDistributions(ctx, model.StatusProcessing, cutoff, d.config.Distribution.BatchSize)
	if err != nil {
		span.RecordError(err)
		return result, err
	}

	if len(stuck) > 0 {
		logrus.Infof("Failing %d distributions stuck in processing (threshold=%v)", len(stuck), threshold)
	}

	event := model.AdapterEvent{
		Type:         model.EventFailed,
		ErrorCode:    staleProcessingCode,
		ErrorMessage: fmt.Sprintf("no platform update for more than %s", threshold),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, sweepWorkers)
	for _, dist := range stuck {
		sem <- struct{}{}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			updated, changed, err := d.mutate(ctx, id, func(current model.Distribution) (model.Distribution, bool, error) {
				// Re-checked on the row being written so a record that moved
				// on since the listing is left alone.
				if current.Status != model.StatusProcessing || !current.LastUpdated.Before(cutoff) {
					return current, false, nil
				}
				return model.Transition(current, event, now)
			})
			if err != nil {
				logrus.WithField("distribution_id", id).Errorf("failing stale distribution: %v", err)
				return
			}
			if changed {
				d.afterTransition(ctx, updated)
				mu.Lock()
				result.Failed++
				mu.Unlock()
			}
		}(dist.DistributionID)
	}
	wg.Wait()

	idle, err := d.datasource.GetStaleDistributions(ctx, model.StatusPending, now.Add(-d.config.Jobs.SweepInterval()), d.config.Distribution.BatchSize)
	if err != nil {
		span.RecordError(err)
		return result, err
	}
	for _, dist := range idle {
		if err := d.queue.EnqueueSubmission(ctx, dist); err != nil {
			logrus.WithField("distribution_id", dist.DistributionID).Errorf("re-queueing submission: %v", err)
			continue
		}
		result.Requeued++
	}

	return result, nil
}
