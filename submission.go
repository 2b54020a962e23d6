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

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ugamusic/distro/internal/notification"
	"github.com/ugamusic/distro/model"
	"github.com/ugamusic/distro/platform"
)

// ErrSubmissionNotRecorded is returned when a platform accepted a submission
// but the accepted state could not be written. The submission must not be
// retried.
var ErrSubmissionNotRecorded = errors.New("accepted submission was not recorded")

// adapterContext bounds one adapter call by the configured timeout.
func (d *Distro) adapterContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.config.Distribution.AdapterTimeout())
}

// SubmitDistribution sends a pending distribution to its platform. Acceptance
// moves it to processing. Any adapter failure, including a timeout, moves it
// to failed where the retry scheduler picks it up; the failure is recorded on
// the distribution and not returned. Records that are no longer pending are
// returned untouched.
func (d *Distro) SubmitDistribution(ctx context.Context, id string) (*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "SubmitDistribution")
	defer span.End()
	span.SetAttributes(attribute.String("distribution.id", id))

	dist, err := d.datasource.GetDistributionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if dist.Status != model.StatusPending {
		logrus.WithFields(logrus.Fields{"distribution_id": id, "status": dist.Status}).Info("skipping submission, distribution is not pending")
		return dist, nil
	}

	event, err := d.submit(ctx, dist)
	if err != nil {
		span.RecordError(err)
		logrus.WithFields(logrus.Fields{
			"distribution_id": id,
			"platform":        dist.PlatformCode,
		}).Warnf("submission failed: %v", err)
	}

	// Only a still pending record takes the outcome. If an operator removed
	// it meanwhile the transition is refused and nothing is written.
	updated, err := d.applyEvent(ctx, id, event)
	if err != nil && event.Type == model.EventAccepted && !errors.Is(err, model.ErrInvalidTransition) {
		// The platform holds the submission now. Submitting again would
		// create a second one, so the operator reconciles it by hand.
		logrus.WithFields(logrus.Fields{
			"distribution_id": id,
			"platform":        dist.PlatformCode,
			"submission_id":   event.SubmissionID,
		}).Errorf("platform accepted the submission but it could not be recorded: %v", err)
		notification.NotifyError(fmt.Errorf("distribution %s: submission %s accepted by %s but not recorded: %w",
			id, event.SubmissionID, dist.PlatformCode, err))
		return nil, fmt.Errorf("%w (submission %s): %w", ErrSubmissionNotRecorded, event.SubmissionID, err)
	}
	return updated, err
}

// submit calls the adapter and converts the outcome into an engine event. The
// error is the adapter failure behind a failed event, for logging.
func (d *Distro) submit(ctx context.Context, dist *model.Distribution) (model.AdapterEvent, error) {
	adapter, err := d.registry.Get(dist.PlatformCode)
	if err != nil {
		adapterErr := &platform.AdapterError{Platform: dist.PlatformCode, Op: "submit", Code: "NO_ADAPTER", Err: err}
		return adapterErr.Event(), adapterErr
	}

	callCtx, cancel := d.adapterContext(ctx)
	defer cancel()

	result, err := adapter.Submit(callCtx, dist.SongID, dist.Metadata)
	if err == nil && (result == nil || result.SubmissionID == "") {
		err = errors.New("platform accepted the submission without a submission id")
	}
	if err != nil {
		adapterErr := platform.AsAdapterError(dist.PlatformCode, "submit", err)
		return adapterErr.Event(), adapterErr
	}
	return model.AdapterEvent{Type: model.EventAccepted, SubmissionID: result.SubmissionID}, nil
}

// PollDistributionStatus asks the platform about a processing distribution and
// applies what it reports. Metrics that come with a live report are folded in
// by the same write. A failing status check leaves the record in processing
// and returns the *platform.AdapterError; the sweeper fails records that stay
// in processing for too long.
func (d *Distro) PollDistributionStatus(ctx context.Context, id string) (*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "PollDistributionStatus")
	defer span.End()
	span.SetAttributes(attribute.String("distribution.id", id))

	dist, err := d.datasource.GetDistributionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if dist.Status != model.StatusProcessing {
		return dist, nil
	}

	submissionID := dist.PlatformMetadata.SubmissionID
	if submissionID == "" {
		return d.applyEvent(ctx, id, model.AdapterEvent{
			Type:         model.EventFailed,
			ErrorCode:    "MISSING_SUBMISSION_ID",
			ErrorMessage: "processing distribution has no platform submission id",
		})
	}

	adapter, err := d.registry.Get(dist.PlatformCode)
	if err != nil {
		return nil, platform.AsAdapterError(dist.PlatformCode, "check status", err)
	}

	callCtx, cancel := d.adapterContext(ctx)
	report, err := adapter.CheckStatus(callCtx, submissionID)
	cancel()
	if err != nil {
		span.RecordError(err)
		return nil, platform.AsAdapterError(dist.PlatformCode, "check status", err)
	}

	event, ok := report.Event()
	if !ok {
		return dist, nil
	}

	now := d.now()
	historyLimit := d.config.Distribution.HistoryLimit
	updated, changed, err := d.mutate(ctx, id, func(current model.Distribution) (model.Distribution, bool, error) {
		next, changed, err := model.Transition(current, event, now)
		if err != nil || !changed {
			return next, changed, err
		}
		if next.Status == model.StatusLive && report.Metrics != nil {
			withMetrics, err := model.ApplySnapshot(next, *report.Metrics, historyLimit, now)
			if err == nil {
				next = withMetrics
			} else {
				logrus.WithField("distribution_id", id).Warnf("ignoring metrics on publish: %v", err)
			}
		}
		return next, true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		d.afterTransition(ctx, updated)
	}
	return updated, nil
}

// PollProcessing queues a status poll for every processing distribution.
func (d *Distro) PollProcessing(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "PollProcessing")
	defer span.End()

	ids, err := d.collectIDs(ctx, model.StatusProcessing)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, id := range ids {
		if err := d.queue.EnqueuePoll(ctx, id); err != nil {
			logrus.WithField("distribution_id", id).Errorf("queueing status poll: %v", err)
			continue
		}
		queued++
	}
	return queued, nil
}

// ProcessTakedown asks the platform to take a removed distribution down. The
// record is already removed, so a failure is returned for the queue to retry
// and never changes the status.
func (d *Distro) ProcessTakedown(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "ProcessTakedown")
	defer span.End()

	dist, err := d.datasource.GetDistributionByID(ctx, id)
	if err != nil {
		return err
	}
	if dist.Status != model.StatusRemoved {
		return fmt.Errorf("%w: takedown requested for %s distribution %s", model.ErrInvalidEvent, dist.Status, id)
	}
	submissionID := dist.PlatformMetadata.SubmissionID
	if submissionID == "" {
		logrus.WithField("distribution_id", id).Info("distribution never reached the platform, no takedown needed")
		return nil
	}

	adapter, err := d.registry.Get(dist.PlatformCode)
	if err != nil {
		return platform.AsAdapterError(dist.PlatformCode, "takedown", err)
	}

	callCtx, cancel := d.adapterContext(ctx)
	defer cancel()
	if err := adapter.RequestTakedown(callCtx, submissionID); err != nil {
		span.RecordError(err)
		return platform.AsAdapterError(dist.PlatformCode, "takedown", err)
	}

	logrus.WithFields(logrus.Fields{
		"distribution_id": id,
		"platform":        dist.PlatformCode,
	}).Info("platform takedown requested")
	return nil
}
