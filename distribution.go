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
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ugamusic/distro/database"
	"github.com/ugamusic/distro/internal/apierror"
	"github.com/ugamusic/distro/model"
)

// mutateFunc computes the next state of a distribution from the row just read.
// Returning false means there is nothing to write.
type mutateFunc func(current model.Distribution) (model.Distribution, bool, error)

// conflictBackOff paces the re-reads after a version conflict.
func conflictBackOff(retries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(retries))
}

// mutate is the only path by which a distribution changes. It reads the row,
// applies fn, validates the result and writes it conditioned on the version
// that was read. A version conflict restarts the read-modify-write, up to
// MaxConcurrencyRetries times, after which ErrConcurrentModification is
// returned. When fn reports no change the row read is returned unchanged.
func (d *Distro) mutate(ctx context.Context, id string, fn mutateFunc) (*model.Distribution, bool, error) {
	ctx, span := tracer.Start(ctx, "MutateDistribution")
	defer span.End()
	span.SetAttributes(attribute.String("distribution.id", id))

	var result *model.Distribution
	var changed bool
	attempts := 0

	operation := func() error {
		attempts++
		current, err := d.datasource.GetDistributionByID(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}

		next, ok, err := fn(*current)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			result, changed = current, false
			return nil
		}
		if err := next.Validate(); err != nil {
			return backoff.Permanent(err)
		}

		if err := d.datasource.UpdateDistribution(ctx, &next); err != nil {
			if errors.Is(err, database.ErrStaleVersion) {
				return err
			}
			return backoff.Permanent(err)
		}
		result, changed = &next, true
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(conflictBackOff(d.config.Distribution.MaxConcurrencyRetries), ctx))
	span.SetAttributes(attribute.Int("distribution.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, database.ErrStaleVersion) {
			logrus.WithFields(logrus.Fields{"distribution_id": id, "attempts": attempts}).Warn("giving up after repeated version conflicts")
			return nil, false, fmt.Errorf("%w: distribution %s after %d attempts", model.ErrConcurrentModification, id, attempts)
		}
		return nil, false, err
	}
	return result, changed, nil
}

// publish emits a webhook for dist and refreshes its search document.
func (d *Distro) publish(ctx context.Context, event string, dist *model.Distribution) {
	if err := d.SendWebhook(ctx, NewWebhook{Event: event, Payload: dist}); err != nil {
		logrus.WithField("distribution_id", dist.DistributionID).Errorf("queueing webhook %s: %v", event, err)
	}
	if err := d.indexDistribution(ctx, dist); err != nil {
		logrus.WithField("distribution_id", dist.DistributionID).Errorf("queueing index update: %v", err)
	}
}

// afterTransition publishes the status event for a committed transition.
func (d *Distro) afterTransition(ctx context.Context, dist *model.Distribution) {
	logrus.WithFields(logrus.Fields{
		"distribution_id": dist.DistributionID,
		"platform":        dist.PlatformCode,
		"status":          dist.Status,
	}).Info("distribution status changed")
	d.publish(ctx, model.WebhookEventForStatus(dist.Status), dist)
}

// collectIDs lists the ids of every distribution in status. Ids are gathered
// before any record is touched because mutations reorder the listing.
func (d *Distro) collectIDs(ctx context.Context, status model.Status) ([]string, error) {
	batch := d.config.Distribution.BatchSize
	var ids []string
	for offset := 0; ; offset += batch {
		page, err := d.datasource.GetDistributions(ctx, status, batch, offset)
		if err != nil {
			return nil, err
		}
		for _, dist := range page {
			ids = append(ids, dist.DistributionID)
		}
		if len(page) < batch {
			return ids, nil
		}
	}
}

// RequestDistribution creates a pending distribution of songID on platformCode
// and queues its submission. A song can only have one non-removed
// distribution per platform.
func (d *Distro) RequestDistribution(ctx context.Context, songID string, platformCode model.PlatformCode, metadata model.ReleaseMetadata) (*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "RequestDistribution")
	defer span.End()

	songID = strings.TrimSpace(songID)
	if songID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "song_id is required", nil)
	}
	code, err := model.ParsePlatformCode(string(platformCode))
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("distribution.platform", string(code)))

	if !d.flags.Enabled(ctx, model.FlagModuleDistribution, model.PlatformEnabledFlag(code), true) {
		return nil, fmt.Errorf("%w: %s", model.ErrPlatformDisabled, code)
	}
	if _, err := d.registry.Get(code); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPlatformDisabled, err)
	}

	existing, err := d.datasource.GetActiveDistribution(ctx, songID, code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s is %s on %s as %s", model.ErrDuplicateDistribution,
			songID, existing.Status, code, existing.DistributionID)
	}

	dist := model.NewDistribution(songID, code, metadata, d.now())
	if err := dist.Validate(); err != nil {
		return nil, err
	}
	if err := d.datasource.CreateDistribution(ctx, &dist); err != nil {
		span.RecordError(err)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"distribution_id": dist.DistributionID,
		"song_id":         songID,
		"platform":        code,
	}).Info("distribution requested")

	if err := d.queue.EnqueueSubmission(ctx, &dist); err != nil {
		// The sweeper re-queues pending records that were never submitted.
		logrus.WithField("distribution_id", dist.DistributionID).Errorf("queueing submission: %v", err)
	}
	d.publish(ctx, model.WebhookDistributionCreated, &dist)
	return &dist, nil
}

// RecordAdapterEvent applies a platform-reported event to a distribution.
func (d *Distro) RecordAdapterEvent(ctx context.Context, id string, event model.AdapterEvent) (*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "RecordAdapterEvent")
	defer span.End()
	span.SetAttributes(attribute.String("distribution.event", string(event.Type)))

	if !event.Type.FromAdapter() {
		return nil, fmt.Errorf("%w: %q is not a platform event", model.ErrInvalidEvent, event.Type)
	}
	return d.applyEvent(ctx, id, event)
}

func (d *Distro) applyEvent(ctx context.Context, id string, event model.AdapterEvent) (*model.Distribution, error) {
	now := d.now()
	updated, changed, err := d.mutate(ctx, id, func(current model.Distribution) (model.Distribution, bool, error) {
		return model.Transition(current, event, now)
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"distribution_id": id,
			"event":           event.Type,
		}).Warnf("event not applied: %v", err)
		return nil, err
	}
	if changed {
		d.afterTransition(ctx, updated)
	}
	return updated, nil
}

// RequestRemoval takes a live distribution down and asks the platform to
// remove it. Streams and revenue stay frozen at their last values.
func (d *Distro) RequestRemoval(ctx context.Context, id, reason string) (*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "RequestRemoval")
	defer span.End()

	updated, err := d.applyEvent(ctx, id, model.AdapterEvent{Type: model.EventTakedown, Reason: reason})
	if err != nil {
		return nil, err
	}
	if err := d.queue.EnqueueTakedown(ctx, updated); err != nil {
		logrus.WithField("distribution_id", id).Errorf("queueing takedown: %v", err)
	}
	return updated, nil
}

// ForceRemove removes a distribution from any status. Removing an already
// removed distribution returns it unchanged. A takedown is requested when the
// platform had accepted the submission.
func (d *Distro) ForceRemove(ctx context.Context, id, reason string) (*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "ForceRemove")
	defer span.End()

	var previous model.Status
	now := d.now()
	updated, changed, err := d.mutate(ctx, id, func(current model.Distribution) (model.Distribution, bool, error) {
		previous = current.Status
		return model.Transition(current, model.AdapterEvent{Type: model.EventForceRemove, Reason: reason}, now)
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return updated, nil
	}

	logrus.WithFields(logrus.Fields{"distribution_id": id, "from": previous}).Warn("distribution force removed")
	d.afterTransition(ctx, updated)
	if (previous == model.StatusLive || previous == model.StatusProcessing) && updated.PlatformMetadata.SubmissionID != "" {
		if err := d.queue.EnqueueTakedown(ctx, updated); err != nil {
			logrus.WithField("distribution_id", id).Errorf("queueing takedown: %v", err)
		}
	}
	return updated, nil
}

// Resubmit sends a rejected or failed distribution through submission again
// with a fresh retry budget.
func (d *Distro) Resubmit(ctx context.Context, id, reason string) (*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "Resubmit")
	defer span.End()

	updated, err := d.applyEvent(ctx, id, model.AdapterEvent{Type: model.EventResubmit, Reason: reason})
	if err != nil {
		return nil, err
	}
	if err := d.queue.EnqueueSubmission(ctx, updated); err != nil {
		logrus.WithField("distribution_id", id).Errorf("queueing submission: %v", err)
	}
	return updated, nil
}

func (d *Distro) GetDistribution(ctx context.Context, id string) (*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "GetDistribution")
	defer span.End()
	return d.datasource.GetDistributionByID(ctx, id)
}

// ListDistributions pages through distributions. An empty status lists all.
func (d *Distro) ListDistributions(ctx context.Context, status string, limit, offset int) ([]*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "ListDistributions")
	defer span.End()

	var s model.Status
	if strings.TrimSpace(status) != "" {
		parsed, ok := model.ParseStatus(status)
		if !ok {
			return nil, apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("unknown status %q", status), nil)
		}
		s = parsed
	}
	return d.datasource.GetDistributions(ctx, s, limit, offset)
}

// ListForReview pages through distributions waiting for an operator.
func (d *Distro) ListForReview(ctx context.Context, limit, offset int) ([]*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "ListForReview")
	defer span.End()
	return d.datasource.GetDistributionsForReview(ctx, limit, offset)
}
