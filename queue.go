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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/ugamusic/distro/config"
	redis_db "github.com/ugamusic/distro/internal/redis-db"
	"github.com/ugamusic/distro/model"
)

// Task types handled by the workers.
const (
	TaskSubmitDistribution   = "distribution:submit"
	TaskPollDistribution     = "distribution:poll"
	TaskTakedownDistribution = "distribution:takedown"
	TaskIndexDistribution    = "distribution:index"
	TaskSendWebhook          = "distribution:webhook"
	TaskRunJob               = "jobs:run"
)

// Queue represents a queue for handling various tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	conf      config.QueueConfig
}

// DistributionTaskPayload identifies the distribution a task works on.
type DistributionTaskPayload struct {
	DistributionID string `json:"distribution_id"`
}

// JobTaskPayload names the periodic job a scheduler tick runs.
type JobTaskPayload struct {
	Job string `json:"job"`
}

// RedisClientOpt converts the configured Redis address into asynq options.
func RedisClientOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Username:  redisOption.Username,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := RedisClientOpt(conf)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		conf:      conf.Queue,
	}, nil
}

func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		return err
	}
	return q.Client.Close()
}

func (q *Queue) enqueue(ctx context.Context, taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	info, err := q.Client.EnqueueContext(ctx, asynq.NewTask(taskType, data), opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return err
	}
	logrus.WithFields(logrus.Fields{"task": taskType, "queue": info.Queue, "id": info.ID}).Debug("task enqueued")
	return nil
}

// EnqueueSubmission queues the platform submission of a pending distribution.
// The task id carries the record version, so the same state is only ever
// queued once while each retry gets its own task.
func (q *Queue) EnqueueSubmission(ctx context.Context, dist *model.Distribution) error {
	return q.enqueue(ctx, TaskSubmitDistribution,
		DistributionTaskPayload{DistributionID: dist.DistributionID},
		asynq.Queue(q.conf.SubmissionQueue),
		asynq.TaskID(fmt.Sprintf("submit_%s_v%d", dist.DistributionID, dist.Version)),
		asynq.MaxRetry(q.conf.MaxRetryAttempts),
	)
}

// EnqueuePoll queues a status check. At most one poll per distribution is
// waiting at any time.
func (q *Queue) EnqueuePoll(ctx context.Context, distributionID string) error {
	return q.enqueue(ctx, TaskPollDistribution,
		DistributionTaskPayload{DistributionID: distributionID},
		asynq.Queue(q.conf.PollQueue),
		asynq.TaskID("poll_"+distributionID),
		asynq.MaxRetry(0),
	)
}

func (q *Queue) EnqueueTakedown(ctx context.Context, dist *model.Distribution) error {
	return q.enqueue(ctx, TaskTakedownDistribution,
		DistributionTaskPayload{DistributionID: dist.DistributionID},
		asynq.Queue(q.conf.TakedownQueue),
		asynq.TaskID("takedown_"+dist.DistributionID),
		asynq.MaxRetry(q.conf.MaxRetryAttempts),
	)
}

func (q *Queue) enqueueIndex(ctx context.Context, distributionID string) error {
	return q.enqueue(ctx, TaskIndexDistribution,
		DistributionTaskPayload{DistributionID: distributionID},
		asynq.Queue(q.conf.IndexQueue),
	)
}

func (q *Queue) enqueueWebhook(ctx context.Context, hook NewWebhook) error {
	return q.enqueue(ctx, TaskSendWebhook, hook,
		asynq.Queue(q.conf.WebhookQueue),
		asynq.MaxRetry(q.conf.MaxRetryAttempts),
	)
}

// JobTask builds the task a scheduler entry enqueues for a periodic job.
func JobTask(job string) (*asynq.Task, error) {
	data, err := json.Marshal(JobTaskPayload{Job: job})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRunJob, data), nil
}

func decodeDistributionTask(task *asynq.Task) (string, error) {
	var payload DistributionTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return "", fmt.Errorf("decoding %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	if payload.DistributionID == "" {
		return "", fmt.Errorf("%s payload has no distribution id: %w", task.Type(), asynq.SkipRetry)
	}
	return payload.DistributionID, nil
}

// skipDomainErrors stops asynq from retrying tasks whose failure no retry can fix.
func skipDomainErrors(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrInvalidEvent),
		errors.Is(err, model.ErrInvariantViolation),
		errors.Is(err, model.ErrNotLive),
		errors.Is(err, ErrSubmissionNotRecorded):
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func (d *Distro) ProcessSubmitTask(ctx context.Context, task *asynq.Task) error {
	id, err := decodeDistributionTask(task)
	if err != nil {
		return err
	}
	_, err = d.SubmitDistribution(ctx, id)
	return skipDomainErrors(err)
}

// ProcessPollTask checks a processing distribution. Status check failures are
// logged and not retried; the next poll tick tries again.
func (d *Distro) ProcessPollTask(ctx context.Context, task *asynq.Task) error {
	id, err := decodeDistributionTask(task)
	if err != nil {
		return err
	}
	if _, err := d.PollDistributionStatus(ctx, id); err != nil {
		logrus.WithField("distribution_id", id).Warnf("status poll failed: %v", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}

func (d *Distro) ProcessTakedownTask(ctx context.Context, task *asynq.Task) error {
	id, err := decodeDistributionTask(task)
	if err != nil {
		return err
	}
	return skipDomainErrors(d.ProcessTakedown(ctx, id))
}

func (d *Distro) ProcessJobTask(ctx context.Context, task *asynq.Task) error {
	var payload JobTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decoding job payload: %v: %w", err, asynq.SkipRetry)
	}
	result, err := d.RunJob(ctx, payload.Job)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"job": result.Job, "ran": result.Ran}).Info("periodic job finished")
	return nil
}
