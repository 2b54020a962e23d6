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

	"github.com/hibiken/asynq"
	"github.com/typesense/typesense-go/typesense/api"

	"github.com/ugamusic/distro/internal/apierror"
	"github.com/ugamusic/distro/internal/search"
	"github.com/ugamusic/distro/model"
)

var errSearchDisabled = errors.New("search is not configured")

// indexDistribution queues a search document refresh. It is a no-op when
// search is not configured.
func (d *Distro) indexDistribution(ctx context.Context, dist *model.Distribution) error {
	if d.search == nil {
		return nil
	}
	return d.queue.enqueueIndex(ctx, dist.DistributionID)
}

// ProcessIndexTask writes the current state of a distribution to the index.
func (d *Distro) ProcessIndexTask(ctx context.Context, task *asynq.Task) error {
	if d.search == nil {
		return nil
	}
	id, err := decodeDistributionTask(task)
	if err != nil {
		return err
	}
	dist, err := d.datasource.GetDistributionByID(ctx, id)
	if err != nil {
		return err
	}
	return d.search.HandleNotification(ctx, search.CollectionDistributions, search.DistributionDocument(dist))
}

// Search runs a Typesense query against the distributions collection.
func (d *Distro) Search(ctx context.Context, query *api.SearchCollectionParams) (*api.SearchResult, error) {
	if d.search == nil {
		return nil, apierror.NewAPIError(apierror.ErrUnavailable, "search is not configured", errSearchDisabled)
	}
	return d.search.Search(ctx, search.CollectionDistributions, query)
}

// EnsureSearchCollections creates the search collections and adds new schema fields.
func (d *Distro) EnsureSearchCollections(ctx context.Context) error {
	if d.search == nil {
		return nil
	}
	if err := d.search.EnsureCollectionsExist(ctx); err != nil {
		return err
	}
	if err := d.search.MigrateTypeSenseSchema(ctx, search.CollectionDistributions); err != nil {
		return fmt.Errorf("migrating search schema: %w", err)
	}
	return nil
}

// NewReindexer returns a service that rebuilds the distributions collection
// from the database. A batchSize of zero uses the configured batch size.
func (d *Distro) NewReindexer(batchSize int) (*search.ReindexService, error) {
	if d.search == nil {
		return nil, apierror.NewAPIError(apierror.ErrUnavailable, "search is not configured", errSearchDisabled)
	}
	if batchSize <= 0 {
		batchSize = d.config.Distribution.BatchSize
	}
	return search.NewReindexService(d.search, d.datasource, search.ReindexConfig{BatchSize: batchSize}), nil
}

// Reindex rebuilds the distributions collection from the database.
func (d *Distro) Reindex(ctx context.Context) (search.ReindexProgress, error) {
	svc, err := d.NewReindexer(0)
	if err != nil {
		return search.ReindexProgress{}, err
	}
	return svc.StartReindex(ctx)
}
