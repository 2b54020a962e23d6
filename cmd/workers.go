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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/ugamusic/distro"
	"github.com/ugamusic/distro/config"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// periodicJob is one scheduler entry: a cron spec and the job it triggers.
type periodicJob struct {
	spec string
	job  string
}

// periodicJobs lists the scheduler entries. Sweeps run in-process on the
// sweeper ticker instead.
func periodicJobs(cfg *config.Configuration) []periodicJob {
	return []periodicJob{
		{spec: cfg.Jobs.RetrySchedule, job: distro.JobRetries},
		{spec: cfg.Jobs.PollSchedule, job: distro.JobPoll},
		{spec: cfg.Jobs.SyncSchedule, job: distro.JobSync},
	}
}

// initializeQueues weighs the queues the worker consumes. Submissions and
// takedowns outrank the background traffic.
func initializeQueues(cfg *config.Configuration) map[string]int {
	return map[string]int{
		cfg.Queue.SubmissionQueue: 6,
		cfg.Queue.TakedownQueue:   6,
		cfg.Queue.PollQueue:       3,
		cfg.Queue.JobsQueue:       3,
		cfg.Queue.WebhookQueue:    2,
		cfg.Queue.IndexQueue:      1,
	}
}

func initializeWorkerServer(conf *config.Configuration) (*asynq.Server, error) {
	opt, err := distro.RedisClientOpt(conf)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(opt, asynq.Config{
		Concurrency: conf.Queue.Concurrency,
		Queues:      initializeQueues(conf),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logrus.WithField("task", task.Type()).Errorf("task failed: %v", err)
		}),
	}), nil
}

func initializeTaskHandlers(d *distro.Distro) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(distro.TaskSubmitDistribution, d.ProcessSubmitTask)
	mux.HandleFunc(distro.TaskPollDistribution, d.ProcessPollTask)
	mux.HandleFunc(distro.TaskTakedownDistribution, d.ProcessTakedownTask)
	mux.HandleFunc(distro.TaskIndexDistribution, d.ProcessIndexTask)
	mux.HandleFunc(distro.TaskSendWebhook, d.ProcessWebhook)
	mux.HandleFunc(distro.TaskRunJob, d.ProcessJobTask)
	return mux
}

func initializeScheduler(conf *config.Configuration) (*asynq.Scheduler, error) {
	opt, err := distro.RedisClientOpt(conf)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: time.UTC})
	for _, entry := range periodicJobs(conf) {
		task, err := distro.JobTask(entry.job)
		if err != nil {
			return nil, err
		}
		// Unique keeps a slow run from piling up copies of the same job.
		if _, err := scheduler.Register(entry.spec, task,
			asynq.Queue(conf.Queue.JobsQueue),
			asynq.MaxRetry(0),
			asynq.Unique(time.Minute),
		); err != nil {
			return nil, fmt.Errorf("registering %s job: %v", entry.job, err)
		}
		logrus.Infof("Scheduled %s job: %s", entry.job, entry.spec)
	}
	return scheduler, nil
}

func startMonitoring(conf *config.Configuration) error {
	opt, err := distro.RedisClientOpt(conf)
	if err != nil {
		return err
	}
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: opt,
	})

	go func() {
		monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
		logrus.Infof("Asynqmon server listening on %s/monitoring", monitoringAddr)
		if err := http.ListenAndServe(monitoringAddr, h); err != nil {
			logrus.Errorf("could not start asynqmon server: %v", err)
		}
	}()
	return nil
}

// workerCommands defines the "workers" command. A worker consumes the task
// queues, runs the periodic job scheduler and the stale processing sweeper.
func workerCommands(d *distroInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start distro workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			defer func() { _ = d.distro.Close() }()

			shutdown, err := initializeObservability(ctx, d.cnf, "workers")
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			srv, err := initializeWorkerServer(d.cnf)
			if err != nil {
				return err
			}
			scheduler, err := initializeScheduler(d.cnf)
			if err != nil {
				return err
			}
			if err := startMonitoring(d.cnf); err != nil {
				return err
			}

			sweeper := distro.NewSweeper(d.distro)
			sweeper.Start(ctx)
			defer sweeper.Stop()

			if err := scheduler.Start(); err != nil {
				return fmt.Errorf("could not start scheduler: %v", err)
			}
			defer scheduler.Shutdown()

			if err := srv.Start(initializeTaskHandlers(d.distro)); err != nil {
				return fmt.Errorf("could not run worker server: %v", err)
			}

			<-ctx.Done()
			logrus.Info("Shutting down workers")
			srv.Shutdown()
			return nil
		},
	}

	return cmd
}
