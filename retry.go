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
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/ugamusic/distro/config"
	"github.com/ugamusic/distro/internal/notification"
	"github.com/ugamusic/distro/model"
)

// RetryDecision is what the scheduler does with one distribution.
type RetryDecision int

const (
	RetrySkip RetryDecision = iota
	RetryWait
	RetryEligible
	RetryManualReview
)

func (r RetryDecision) String() string {
	switch r {
	case RetryWait:
		return "wait"
	case RetryEligible:
		return "eligible"
	case RetryManualReview:
		return "manual_review"
	default:
		return "skip"
	}
}

// RetryPolicy decides when a failed distribution is submitted again.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func NewRetryPolicy(cfg config.DistributionConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay(),
		MaxDelay:   cfg.RetryMaxDelay(),
	}
}

// Backoff returns min(BaseDelay * 2^n, MaxDelay).
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < n && delay < p.MaxDelay; i++ {
		delay = b.NextBackOff()
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Decide evaluates d at now. Only failed records are considered.
func (p RetryPolicy) Decide(d model.Distribution, now time.Time) RetryDecision {
	if d.Status != model.StatusFailed {
		return RetrySkip
	}
	if d.RetryCount >= p.MaxRetries {
		return RetryManualReview
	}
	if now.Sub(d.LastUpdated) >= p.Backoff(d.RetryCount) {
		return RetryEligible
	}
	return RetryWait
}

// ScheduleRetries moves every eligible failed distribution back to pending and
// queues it for submission. Records that ran out of retries are flagged for
// review once. The decision is taken again on the freshly read row inside the
// write loop, so overlapping runs cannot retry a record twice. It returns the
// distributions that were actually retried.
func (d *Distro) ScheduleRetries(ctx context.Context) ([]*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "ScheduleRetries")
	defer span.End()

	retried := []*model.Distribution{}
	if !d.flags.Enabled(ctx, model.FlagModuleDistribution, model.FlagAutoRetry, true) {
		logrus.Info("automatic retries are disabled, skipping")
		return retried, nil
	}

	ids, err := d.collectIDs(ctx, model.StatusFailed)
	if err != nil {
		span.RecordError(err)
		return retried, err
	}

	for _, id := range ids {
		var decision RetryDecision
		now := d.now()
		updated, changed, err := d.mutate(ctx, id, func(current model.Distribution) (model.Distribution, bool, error) {
			decision = d.policy.Decide(current, now)
			switch decision {
			case RetryEligible:
				return model.Transition(current, model.AdapterEvent{Type: model.EventRetry}, now)
			case RetryManualReview:
				next, flagged := model.FlagForReview(current, "")
				return next, flagged, nil
			default:
				return current, false, nil
			}
		})
		if err != nil {
			logrus.WithField("distribution_id", id).Errorf("scheduling retry: %v", err)
			continue
		}
		if !changed {
			continue
		}

		switch decision {
		case RetryEligible:
			logrus.WithFields(logrus.Fields{
				"distribution_id": id,
				"retry_count":     updated.RetryCount,
			}).Info("retrying distribution")
			retried = append(retried, updated)
			d.afterTransition(ctx, updated)
			if err := d.queue.EnqueueSubmission(ctx, updated); err != nil {
				logrus.WithField("distribution_id", id).Errorf("queueing retried submission: %v", err)
			}
		case RetryManualReview:
			d.flagForReview(ctx, updated)
		}
	}

	logrus.WithField("retried", len(retried)).Info("retry scheduling finished")
	return retried, nil
}

func (d *Distro) flagForReview(ctx context.Context, dist *model.Distribution) {
	err := notification.NotifyReview(d.config.Notification.Slack.WebhookUrl,
		dist.DistributionID, dist.SongID, string(dist.PlatformCode), dist.ReviewReason)
	if err != nil {
		logrus.WithField("distribution_id", dist.DistributionID).Errorf("review notification failed: %v", err)
	}
	d.publish(ctx, model.WebhookNeedsReview, dist)
}
