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

	"github.com/sirupsen/logrus"

	"github.com/ugamusic/distro/internal/apierror"
	redlock "github.com/ugamusic/distro/internal/lock"
)

// Periodic job names, shared by the scheduler, the sweeper and the jobs API.
const (
	JobRetries = "retries"
	JobSync    = "sync"
	JobSweep   = "sweep"
	JobPoll    = "poll"
)

// JobResult reports one job run. Ran is false when another node held the
// job's lease and this run was skipped.
type JobResult struct {
	Job     string              `json:"job"`
	Ran     bool                `json:"ran"`
	Retried int                 `json:"retried,omitempty"`
	Polled  int                 `json:"polled,omitempty"`
	Sync    *RevenueSyncSummary `json:"sync,omitempty"`
	Sweep   *SweepResult        `json:"sweep,omitempty"`
}

func leaseKey(job string) string {
	return "distro:lease:" + job
}

// RunJob runs one periodic job under its Redis lease, so concurrent ticks on
// different nodes do not duplicate the work.
func (d *Distro) RunJob(ctx context.Context, job string) (JobResult, error) {
	ctx, span := tracer.Start(ctx, "RunJob "+job)
	defer span.End()

	result := JobResult{Job: job}
	var run func(ctx context.Context) error
	switch job {
	case JobRetries:
		run = func(ctx context.Context) error {
			retried, err := d.ScheduleRetries(ctx)
			result.Retried = len(retried)
			return err
		}
	case JobSync:
		run = func(ctx context.Context) error {
			summary, err := d.SyncAllRevenue(ctx)
			result.Sync = &summary
			return err
		}
	case JobSweep:
		run = func(ctx context.Context) error {
			sweep, err := d.SweepStaleProcessing(ctx)
			result.Sweep = &sweep
			return err
		}
	case JobPoll:
		run = func(ctx context.Context) error {
			polled, err := d.PollProcessing(ctx)
			result.Polled = polled
			return err
		}
	default:
		return result, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("unknown job %q", job), nil)
	}

	ran, err := redlock.WithLease(ctx, d.redis, leaseKey(job), d.nodeID, d.config.Jobs.LeaseTTL(), run)
	result.Ran = ran
	if err != nil {
		span.RecordError(err)
		return result, err
	}
	if !ran {
		logrus.WithField("job", job).Info("job lease held by another node, skipping")
	}
	return result, nil
}
