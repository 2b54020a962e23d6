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
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ugamusic/distro/database"
	"github.com/ugamusic/distro/internal/apierror"
	"github.com/ugamusic/distro/internal/cache"
	"github.com/ugamusic/distro/model"
)

// flagCacheTTL bounds how long a flag change takes to reach every node.
const flagCacheTTL = time.Minute

// flagMissTTL bounds how long a missing flag is remembered as missing.
const flagMissTTL = 15 * time.Second

// FeatureFlags is the single entry point for module toggles.
type FeatureFlags interface {
	// Enabled returns the boolean value of a flag, or fallback when the flag
	// is missing or unreadable.
	Enabled(ctx context.Context, module, flag string, fallback bool) bool
	Get(ctx context.Context, module, flag string) (*model.FeatureFlag, error)
	List(ctx context.Context, module string) ([]model.FeatureFlag, error)
	// Set writes a flag. A non-zero Version makes the write conditional and a
	// mismatch fails with model.ErrConcurrentModification.
	Set(ctx context.Context, flag *model.FeatureFlag) error
}

type featureFlagStore struct {
	datasource database.IDataSource
	cache      cache.Cache
}

// NewFeatureFlags reads flags from the datasource through c. A nil cache
// reads straight from the datasource.
func NewFeatureFlags(datasource database.IDataSource, c cache.Cache) FeatureFlags {
	return &featureFlagStore{datasource: datasource, cache: c}
}

func flagCacheKey(module, flag string) string {
	return fmt.Sprintf("feature_flag:%s:%s", module, flag)
}

func (s *featureFlagStore) Get(ctx context.Context, module, flag string) (*model.FeatureFlag, error) {
	key := flagCacheKey(module, flag)
	if s.cache != nil {
		cached := model.FeatureFlag{}
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			// An entry without a value records that the flag does not exist.
			if len(cached.Value) == 0 {
				return nil, fmt.Errorf("%w: %s.%s", model.ErrFeatureFlagNotFound, module, flag)
			}
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logrus.WithField("key", key).Warnf("feature flag cache read failed: %v", err)
		}
	}

	f, err := s.datasource.GetFeatureFlag(ctx, module, flag)
	if err != nil {
		if errors.Is(err, model.ErrFeatureFlagNotFound) && s.cache != nil {
			missing := model.FeatureFlag{Module: module, Flag: flag}
			if cerr := s.cache.Set(ctx, key, missing, flagMissTTL); cerr != nil {
				logrus.WithField("key", key).Warnf("feature flag cache write failed: %v", cerr)
			}
		}
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, f, flagCacheTTL); err != nil {
			logrus.WithField("key", key).Warnf("feature flag cache write failed: %v", err)
		}
	}
	return f, nil
}

func (s *featureFlagStore) Enabled(ctx context.Context, module, flag string, fallback bool) bool {
	f, err := s.Get(ctx, module, flag)
	if err != nil {
		if !errors.Is(err, model.ErrFeatureFlagNotFound) {
			logrus.WithFields(logrus.Fields{"module": module, "flag": flag}).Warnf("reading feature flag: %v", err)
		}
		return fallback
	}
	return f.Bool(fallback)
}

func (s *featureFlagStore) List(ctx context.Context, module string) ([]model.FeatureFlag, error) {
	return s.datasource.GetFeatureFlags(ctx, module)
}

func (s *featureFlagStore) Set(ctx context.Context, flag *model.FeatureFlag) error {
	flag.Module = strings.TrimSpace(flag.Module)
	flag.Flag = strings.TrimSpace(flag.Flag)
	if flag.Module == "" || flag.Flag == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "module and flag are required", nil)
	}
	if !json.Valid(flag.Value) {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Feature flag value must be valid JSON", nil)
	}

	if err := s.datasource.UpsertFeatureFlag(ctx, flag); err != nil {
		if errors.Is(err, database.ErrStaleVersion) {
			return fmt.Errorf("%w: feature flag %s.%s", model.ErrConcurrentModification, flag.Module, flag.Flag)
		}
		return err
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, flagCacheKey(flag.Module, flag.Flag)); err != nil {
			logrus.Warnf("feature flag cache invalidation failed: %v", err)
		}
	}
	return nil
}
