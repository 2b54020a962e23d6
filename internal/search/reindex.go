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

package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ugamusic/distro/database"
)

// ReindexProgress tracks the progress of a reindex operation.
type ReindexProgress struct {
	Status           string     `json:"status"` // "in_progress", "completed", "failed"
	Phase            string     `json:"phase"`
	ProcessedRecords int64      `json:"processed_records"`
	Errors           []string   `json:"errors,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

type ReindexConfig struct {
	BatchSize int
}

// ReindexService rebuilds the search index from the database.
type ReindexService struct {
	client     *TypesenseClient
	datasource database.IDataSource
	config     ReindexConfig
	progress   *ReindexProgress
	mu         sync.RWMutex
}

func NewReindexService(client *TypesenseClient, datasource database.IDataSource, config ReindexConfig) *ReindexService {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	return &ReindexService{
		client:     client,
		datasource: datasource,
		config:     config,
		progress:   &ReindexProgress{Status: "pending"},
	}
}

// GetProgress returns a copy of the current progress.
func (r *ReindexService) GetProgress() ReindexProgress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	progress := *r.progress
	progress.Errors = append([]string(nil), r.progress.Errors...)
	return progress
}

func (r *ReindexService) setPhase(phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress.Phase = phase
}

func (r *ReindexService) addError(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress.Errors = append(r.progress.Errors, err)
}

// StartReindex drops the distributions collection, recreates it and indexes
// every distribution in pages of BatchSize. Per-document failures are recorded
// in the progress and do not stop the run.
func (r *ReindexService) StartReindex(ctx context.Context) (ReindexProgress, error) {
	r.mu.Lock()
	r.progress = &ReindexProgress{
		Status:    "in_progress",
		Phase:     "starting",
		StartedAt: time.Now(),
	}
	r.mu.Unlock()

	logrus.Info("Starting reindex operation")

	r.setPhase("drop_collections")
	if err := r.client.DropCollection(ctx, CollectionDistributions); err != nil {
		return r.failWithError(err)
	}

	r.setPhase("create_collections")
	if err := r.client.EnsureCollectionsExist(ctx); err != nil {
		return r.failWithError(err)
	}

	r.setPhase("indexing_distributions")
	if err := r.indexDistributions(ctx); err != nil {
		return r.failWithError(err)
	}

	r.mu.Lock()
	now := time.Now()
	r.progress.Status = "completed"
	r.progress.Phase = "done"
	r.progress.CompletedAt = &now
	r.mu.Unlock()

	progress := r.GetProgress()
	logrus.WithFields(logrus.Fields{
		"processed_records": progress.ProcessedRecords,
		"duration":          time.Since(progress.StartedAt).String(),
	}).Info("Reindex operation completed")
	return progress, nil
}

func (r *ReindexService) failWithError(err error) (ReindexProgress, error) {
	r.mu.Lock()
	now := time.Now()
	r.progress.Status = "failed"
	r.progress.CompletedAt = &now
	r.progress.Errors = append(r.progress.Errors, err.Error())
	phase := r.progress.Phase
	r.mu.Unlock()

	logrus.WithError(err).WithField("phase", phase).Error("Reindex operation failed")
	return r.GetProgress(), err
}

func (r *ReindexService) indexDistributions(ctx context.Context) error {
	offset := 0
	for {
		batch, err := r.datasource.GetDistributions(ctx, "", r.config.BatchSize, offset)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		for _, d := range batch {
			if err := r.client.HandleNotification(ctx, CollectionDistributions, DistributionDocument(d)); err != nil {
				r.addError("distribution " + d.DistributionID + ": " + err.Error())
				continue
			}
			r.mu.Lock()
			r.progress.ProcessedRecords++
			r.mu.Unlock()
		}
		offset += len(batch)
	}
}

// DropCollection deletes a collection from Typesense. A missing collection is not an error.
func (t *TypesenseClient) DropCollection(ctx context.Context, collectionName string) error {
	_, err := t.Client.Collection(collectionName).Delete(ctx)
	if err != nil && !strings.Contains(err.Error(), "not found") && !strings.Contains(err.Error(), "Not Found") {
		return err
	}
	return nil
}
