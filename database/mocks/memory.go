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

package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ugamusic/distro/database"
	"github.com/ugamusic/distro/internal/apierror"
	"github.com/ugamusic/distro/model"
)

// MemoryDataSource is an in-memory database.IDataSource with the same
// version-conditioned update semantics as the Postgres datasource.
type MemoryDataSource struct {
	mu      sync.Mutex
	nextID  int64
	records map[string]*model.Distribution
	flags   map[string]model.FeatureFlag

	// BeforeUpdate, when set, runs inside UpdateDistribution before the
	// version check. Tests use it to simulate a concurrent writer.
	BeforeUpdate func(stored *model.Distribution)
	// UpdateCalls counts UpdateDistribution attempts, successful or not.
	UpdateCalls int
}

var _ database.IDataSource = (*MemoryDataSource)(nil)

func NewMemoryDataSource() *MemoryDataSource {
	return &MemoryDataSource{
		records: make(map[string]*model.Distribution),
		flags:   make(map[string]model.FeatureFlag),
	}
}

func copyDistribution(d *model.Distribution) *model.Distribution {
	raw, err := json.Marshal(d)
	if err != nil {
		panic(err)
	}
	out := &model.Distribution{}
	if err := json.Unmarshal(raw, out); err != nil {
		panic(err)
	}
	out.ID = d.ID
	return out
}

func notFound(id string) error {
	return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Distribution with ID '%s' not found", id), nil)
}

// Put stores d as is, bypassing the create checks. Used to seed fixtures.
func (m *MemoryDataSource) Put(d model.Distribution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == 0 {
		m.nextID++
		d.ID = m.nextID
	}
	if d.Version == 0 {
		d.Version = 1
	}
	m.records[d.DistributionID] = copyDistribution(&d)
}

func (m *MemoryDataSource) CreateDistribution(_ context.Context, d *model.Distribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.SongID == d.SongID && existing.PlatformCode == d.PlatformCode && existing.Status != model.StatusRemoved {
			return apierror.NewAPIError(apierror.ErrConflict, "active distribution exists", model.ErrDuplicateDistribution)
		}
	}
	m.nextID++
	d.ID = m.nextID
	if d.Version == 0 {
		d.Version = 1
	}
	m.records[d.DistributionID] = copyDistribution(d)
	return nil
}

func (m *MemoryDataSource) GetDistributionByID(_ context.Context, id string) (*model.Distribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.records[id]
	if !ok {
		return nil, notFound(id)
	}
	return copyDistribution(d), nil
}

func (m *MemoryDataSource) GetActiveDistribution(_ context.Context, songID string, platform model.PlatformCode) (*model.Distribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.records {
		if d.SongID == songID && d.PlatformCode == platform && d.Status != model.StatusRemoved {
			return copyDistribution(d), nil
		}
	}
	return nil, nil
}

func (m *MemoryDataSource) sorted(filter func(d *model.Distribution) bool) []*model.Distribution {
	var out []*model.Distribution
	for _, d := range m.records {
		if filter(d) {
			out = append(out, copyDistribution(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].LastUpdated.Before(out[j].LastUpdated)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func page(items []*model.Distribution, limit, offset int) []*model.Distribution {
	if offset >= len(items) {
		return []*model.Distribution{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func (m *MemoryDataSource) GetDistributions(_ context.Context, status model.Status, limit, offset int) ([]*model.Distribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return page(m.sorted(func(d *model.Distribution) bool {
		return status == "" || d.Status == status
	}), limit, offset), nil
}

func (m *MemoryDataSource) GetStaleDistributions(_ context.Context, status model.Status, before time.Time, limit int) ([]*model.Distribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return page(m.sorted(func(d *model.Distribution) bool {
		return d.Status == status && d.LastUpdated.Before(before)
	}), limit, 0), nil
}

func (m *MemoryDataSource) GetDistributionsForReview(_ context.Context, limit, offset int) ([]*model.Distribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return page(m.sorted(func(d *model.Distribution) bool {
		return d.NeedsReview
	}), limit, offset), nil
}

func (m *MemoryDataSource) UpdateDistribution(_ context.Context, d *model.Distribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	stored, ok := m.records[d.DistributionID]
	if !ok {
		return database.ErrStaleVersion
	}
	if m.BeforeUpdate != nil {
		m.BeforeUpdate(stored)
	}
	if stored.Version != d.Version {
		return database.ErrStaleVersion
	}
	next := copyDistribution(d)
	next.ID = stored.ID
	next.Metadata = stored.Metadata
	next.Version = stored.Version + 1
	m.records[d.DistributionID] = next
	d.Version++
	return nil
}

func flagKey(module, flag string) string {
	return module + "/" + flag
}

func (m *MemoryDataSource) GetFeatureFlag(_ context.Context, module, flag string) (*model.FeatureFlag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flags[flagKey(module, flag)]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", model.ErrFeatureFlagNotFound, module, flag)
	}
	return &f, nil
}

func (m *MemoryDataSource) GetFeatureFlags(_ context.Context, module string) ([]model.FeatureFlag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.FeatureFlag{}
	for _, f := range m.flags {
		if f.Module == module {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Flag < out[j].Flag })
	return out, nil
}

func (m *MemoryDataSource) UpsertFeatureFlag(_ context.Context, f *model.FeatureFlag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !json.Valid(f.Value) {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Feature flag value must be valid JSON", nil)
	}
	key := flagKey(f.Module, f.Flag)
	existing, ok := m.flags[key]
	if ok && f.Version != 0 && existing.Version != f.Version {
		return database.ErrStaleVersion
	}
	f.Version = existing.Version + 1
	f.UpdatedAt = time.Now().UTC()
	m.flags[key] = *f
	return nil
}
