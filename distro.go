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
	"embed"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/ugamusic/distro/config"
	"github.com/ugamusic/distro/database"
	"github.com/ugamusic/distro/internal/cache"
	redis_db "github.com/ugamusic/distro/internal/redis-db"
	"github.com/ugamusic/distro/internal/search"
	"github.com/ugamusic/distro/platform"
)

var tracer = otel.Tracer("distro.service")

//go:embed sql/*.sql
var SQLFiles embed.FS

// Distro is the distribution service. It is stateless apart from its
// connections, so any number of API and worker processes can share one
// database.
type Distro struct {
	datasource database.IDataSource
	registry   *platform.Registry
	queue      *Queue
	search     *search.TypesenseClient
	redis      redis.UniversalClient
	flags      FeatureFlags
	config     *config.Configuration
	policy     RetryPolicy
	nodeID     string
	now        func() time.Time
}

// NewDistro wires the service to its datasource, configuration and platform
// adapters. Redis is required for the queue, the flag cache and job leases.
// Search is enabled when a Typesense address is configured.
func NewDistro(db database.IDataSource, cfg *config.Configuration, registry *platform.Registry) (*Distro, error) {
	cfg.SetDefaults()

	redisClient, err := redis_db.NewRedisClient(cfg.Redis.Dns)
	if err != nil {
		return nil, err
	}

	queue, err := NewQueue(cfg)
	if err != nil {
		return nil, err
	}

	var searchClient *search.TypesenseClient
	if cfg.TypeSense.Dns != "" {
		searchClient = search.NewTypesenseClient(cfg.TypeSenseKey, []string{cfg.TypeSense.Dns})
	}

	return &Distro{
		datasource: db,
		registry:   registry,
		queue:      queue,
		search:     searchClient,
		redis:      redisClient.Client(),
		flags:      NewFeatureFlags(db, cache.NewCacheWithClient(redisClient.Client())),
		config:     cfg,
		policy:     NewRetryPolicy(cfg.Distribution),
		nodeID:     nodeID(),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func nodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "distro"
	}
	return host + "-" + uuid.New().String()[:8]
}

// Flags returns the feature flag store the service reads.
func (d *Distro) Flags() FeatureFlags {
	return d.flags
}

// Registry returns the platform adapters the service routes to.
func (d *Distro) Registry() *platform.Registry {
	return d.registry
}

// Queue returns the task queue, used by workers to inspect or enqueue work.
func (d *Distro) Queue() *Queue {
	return d.queue
}

// Close releases the queue and Redis connections.
func (d *Distro) Close() error {
	if err := d.queue.Close(); err != nil {
		return err
	}
	return d.redis.Close()
}

// Ping checks the Redis connection.
func (d *Distro) Ping(ctx context.Context) error {
	return d.redis.Ping(ctx).Err()
}
