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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5004"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"DISTRO_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"DISTRO_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"DISTRO_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"DISTRO_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"DISTRO_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"DISTRO_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"DISTRO_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"DISTRO_REDIS_DNS"`
}

type TypeSenseConfig struct {
	Dns string `json:"dns" envconfig:"DISTRO_TYPESENSE_DNS"`
}

type QueueConfig struct {
	SubmissionQueue  string `json:"submission_queue" envconfig:"DISTRO_QUEUE_SUBMISSION"`
	PollQueue        string `json:"poll_queue" envconfig:"DISTRO_QUEUE_POLL"`
	TakedownQueue    string `json:"takedown_queue" envconfig:"DISTRO_QUEUE_TAKEDOWN"`
	JobsQueue        string `json:"jobs_queue" envconfig:"DISTRO_QUEUE_JOBS"`
	WebhookQueue     string `json:"webhook_queue" envconfig:"DISTRO_QUEUE_WEBHOOK"`
	IndexQueue       string `json:"index_queue" envconfig:"DISTRO_QUEUE_INDEX"`
	Concurrency      int    `json:"concurrency" envconfig:"DISTRO_QUEUE_CONCURRENCY"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"DISTRO_QUEUE_MAX_RETRY_ATTEMPTS"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"DISTRO_QUEUE_MONITORING_PORT"`
}

// DistributionConfig carries the retry policy and the record-level limits.
type DistributionConfig struct {
	MaxRetries            int `json:"max_retries" envconfig:"DISTRO_MAX_RETRIES"`
	RetryBaseDelaySec     int `json:"retry_base_delay_sec" envconfig:"DISTRO_RETRY_BASE_DELAY_SEC"`
	RetryMaxDelaySec      int `json:"retry_max_delay_sec" envconfig:"DISTRO_RETRY_MAX_DELAY_SEC"`
	StaleProcessingHours  int `json:"stale_processing_hours" envconfig:"DISTRO_STALE_PROCESSING_HOURS"`
	AdapterTimeoutSec     int `json:"adapter_timeout_sec" envconfig:"DISTRO_ADAPTER_TIMEOUT_SEC"`
	HistoryLimit          int `json:"history_limit" envconfig:"DISTRO_HISTORY_LIMIT"`
	MaxConcurrencyRetries int `json:"max_concurrency_retries" envconfig:"DISTRO_MAX_CONCURRENCY_RETRIES"`
	BatchSize             int `json:"batch_size" envconfig:"DISTRO_BATCH_SIZE"`
}

func (d DistributionConfig) RetryBaseDelay() time.Duration {
	return time.Duration(d.RetryBaseDelaySec) * time.Second
}

func (d DistributionConfig) RetryMaxDelay() time.Duration {
	return time.Duration(d.RetryMaxDelaySec) * time.Second
}

func (d DistributionConfig) StaleProcessingThreshold() time.Duration {
	return time.Duration(d.StaleProcessingHours) * time.Hour
}

func (d DistributionConfig) AdapterTimeout() time.Duration {
	return time.Duration(d.AdapterTimeoutSec) * time.Second
}

// JobsConfig holds the asynq scheduler specs for the periodic triggers.
type JobsConfig struct {
	RetrySchedule    string `json:"retry_schedule" envconfig:"DISTRO_JOBS_RETRY_SCHEDULE"`
	SyncSchedule     string `json:"sync_schedule" envconfig:"DISTRO_JOBS_SYNC_SCHEDULE"`
	PollSchedule     string `json:"poll_schedule" envconfig:"DISTRO_JOBS_POLL_SCHEDULE"`
	SweepIntervalSec int    `json:"sweep_interval_sec" envconfig:"DISTRO_JOBS_SWEEP_INTERVAL_SEC"`
	LeaseTTLSec      int    `json:"lease_ttl_sec" envconfig:"DISTRO_JOBS_LEASE_TTL_SEC"`
}

func (j JobsConfig) SweepInterval() time.Duration {
	return time.Duration(j.SweepIntervalSec) * time.Second
}

func (j JobsConfig) LeaseTTL() time.Duration {
	return time.Duration(j.LeaseTTLSec) * time.Second
}

type PlatformsConfig struct {
	AdaptersFile string `json:"adapters_file" envconfig:"DISTRO_PLATFORMS_ADAPTERS_FILE"`
	UseMock      bool   `json:"use_mock" envconfig:"DISTRO_PLATFORMS_USE_MOCK"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"DISTRO_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"DISTRO_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"DISTRO_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"DISTRO_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url" envconfig:"DISTRO_WEBHOOK_URL"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string             `json:"project_name" envconfig:"DISTRO_PROJECT_NAME"`
	Server          ServerConfig       `json:"server"`
	DataSource      DataSourceConfig   `json:"data_source"`
	Redis           RedisConfig        `json:"redis"`
	TypeSense       TypeSenseConfig    `json:"typesense"`
	TypeSenseKey    string             `json:"type_sense_key" envconfig:"DISTRO_TYPESENSE_KEY"`
	Queue           QueueConfig        `json:"queue"`
	Distribution    DistributionConfig `json:"distribution"`
	Jobs            JobsConfig         `json:"jobs"`
	Platforms       PlatformsConfig    `json:"platforms"`
	Notification    Notification       `json:"notification"`
	RateLimit       RateLimitConfig    `json:"rate_limit"`
	EnableTelemetry bool               `json:"enable_telemetry" envconfig:"DISTRO_ENABLE_TELEMETRY"`
	OtelEndpoint    string             `json:"otel_endpoint" envconfig:"DISTRO_OTEL_ENDPOINT"`
	PostHogKey      string             `json:"posthog_key" envconfig:"DISTRO_POSTHOG_KEY"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("distro", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called distro.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Distro"
	}

	if cnf.TypeSense.Dns == "" {
		cnf.TypeSense.Dns = "http://typesense:8108"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.SetDefaults()

	if cnf.Distribution.RetryMaxDelaySec < cnf.Distribution.RetryBaseDelaySec {
		return errors.New("distribution retry max delay must not be below the base delay")
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// SetDefaults fills the queue, distribution and jobs sections with their
// defaults. It does not validate required fields.
func (cnf *Configuration) SetDefaults() {
	cnf.Queue.setDefaults()
	cnf.Distribution.setDefaults()
	cnf.Jobs.setDefaults()
}

func (q *QueueConfig) setDefaults() {
	if q.SubmissionQueue == "" {
		q.SubmissionQueue = "distro_submissions"
	}
	if q.PollQueue == "" {
		q.PollQueue = "distro_polls"
	}
	if q.TakedownQueue == "" {
		q.TakedownQueue = "distro_takedowns"
	}
	if q.JobsQueue == "" {
		q.JobsQueue = "distro_jobs"
	}
	if q.WebhookQueue == "" {
		q.WebhookQueue = "distro_webhooks"
	}
	if q.IndexQueue == "" {
		q.IndexQueue = "distro_index"
	}
	if q.Concurrency <= 0 {
		q.Concurrency = 10
	}
	if q.MaxRetryAttempts <= 0 {
		q.MaxRetryAttempts = 5
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = "5005"
	}
}

func (d *DistributionConfig) setDefaults() {
	if d.MaxRetries <= 0 {
		d.MaxRetries = 3
	}
	if d.RetryBaseDelaySec <= 0 {
		d.RetryBaseDelaySec = 3600
	}
	if d.RetryMaxDelaySec <= 0 {
		d.RetryMaxDelaySec = 86400
	}
	if d.StaleProcessingHours <= 0 {
		d.StaleProcessingHours = 48
	}
	if d.AdapterTimeoutSec <= 0 {
		d.AdapterTimeoutSec = 30
	}
	if d.HistoryLimit <= 0 {
		d.HistoryLimit = 90
	}
	if d.MaxConcurrencyRetries <= 0 {
		d.MaxConcurrencyRetries = 3
	}
	if d.BatchSize <= 0 {
		d.BatchSize = 100
	}
}

func (j *JobsConfig) setDefaults() {
	if j.RetrySchedule == "" {
		j.RetrySchedule = "@every 15m"
	}
	if j.SyncSchedule == "" {
		j.SyncSchedule = "@daily"
	}
	if j.PollSchedule == "" {
		j.PollSchedule = "@every 10m"
	}
	if j.SweepIntervalSec <= 0 {
		j.SweepIntervalSec = 3600
	}
	if j.LeaseTTLSec <= 0 {
		j.LeaseTTLSec = 300
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
