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

package database

import (
	"context"
	"time"

	"github.com/ugamusic/distro/model"
)

type IDataSource interface {
	distribution // Interface for distribution records
	featureFlag  // Interface for feature flags
}

type distribution interface {
	CreateDistribution(ctx context.Context, d *model.Distribution) error                                                        // Inserts a new pending distribution
	GetDistributionByID(ctx context.Context, id string) (*model.Distribution, error)                                            // Retrieves a distribution by its public ID
	GetActiveDistribution(ctx context.Context, songID string, platform model.PlatformCode) (*model.Distribution, error)         // Retrieves the non-removed distribution for a song and platform, nil if none
	GetDistributions(ctx context.Context, status model.Status, limit, offset int) ([]*model.Distribution, error)                // Lists distributions, optionally filtered by status
	GetStaleDistributions(ctx context.Context, status model.Status, before time.Time, limit int) ([]*model.Distribution, error) // Lists distributions in a status not updated since before
	GetDistributionsForReview(ctx context.Context, limit, offset int) ([]*model.Distribution, error)                            // Lists distributions flagged for manual review
	UpdateDistribution(ctx context.Context, d *model.Distribution) error                                                        // Version-conditioned update
}

type featureFlag interface {
	GetFeatureFlag(ctx context.Context, module, flag string) (*model.FeatureFlag, error) // Retrieves one flag
	GetFeatureFlags(ctx context.Context, module string) ([]model.FeatureFlag, error)     // Lists the flags of a module
	UpsertFeatureFlag(ctx context.Context, f *model.FeatureFlag) error                   // Creates or updates a flag, version-conditioned when f.Version > 0
}
