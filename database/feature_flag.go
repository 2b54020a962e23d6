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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ugamusic/distro/internal/apierror"
	"github.com/ugamusic/distro/model"
)

func (d Datasource) GetFeatureFlag(ctx context.Context, module, flag string) (*model.FeatureFlag, error) {
	ctx, span := tracer.Start(ctx, "GetFeatureFlag")
	defer span.End()

	f := model.FeatureFlag{}
	var value []byte
	err := d.Conn.QueryRowContext(ctx, `
		SELECT module, flag, value, version, updated_at
		FROM distro.feature_flags
		WHERE module = $1 AND flag = $2
	`, module, flag).Scan(&f.Module, &f.Flag, &value, &f.Version, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s.%s", model.ErrFeatureFlagNotFound, module, flag)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve feature flag", err)
	}
	f.Value = value
	return &f, nil
}

func (d Datasource) GetFeatureFlags(ctx context.Context, module string) ([]model.FeatureFlag, error) {
	ctx, span := tracer.Start(ctx, "GetFeatureFlags")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT module, flag, value, version, updated_at
		FROM distro.feature_flags
		WHERE module = $1
		ORDER BY flag
	`, module)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve feature flags", err)
	}
	defer rows.Close()

	flags := []model.FeatureFlag{}
	for rows.Next() {
		f := model.FeatureFlag{}
		var value []byte
		if err := rows.Scan(&f.Module, &f.Flag, &value, &f.Version, &f.UpdatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan feature flag", err)
		}
		f.Value = value
		flags = append(flags, f)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over feature flags", err)
	}
	return flags, nil
}

// UpsertFeatureFlag creates or replaces a flag value. When f.Version is set the
// update only applies if the stored version still matches, and a mismatch
// returns ErrStaleVersion. f.Version and f.UpdatedAt are refreshed on success.
func (d Datasource) UpsertFeatureFlag(ctx context.Context, f *model.FeatureFlag) error {
	ctx, span := tracer.Start(ctx, "UpsertFeatureFlag")
	defer span.End()

	if !json.Valid(f.Value) {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Feature flag value must be valid JSON", nil)
	}

	err := d.Conn.QueryRowContext(ctx, `
		INSERT INTO distro.feature_flags (module, flag, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (module, flag) DO UPDATE
		SET value = EXCLUDED.value, version = distro.feature_flags.version + 1, updated_at = NOW()
		WHERE $4 = 0 OR distro.feature_flags.version = $4
		RETURNING version, updated_at
	`, f.Module, f.Flag, []byte(f.Value), f.Version).Scan(&f.Version, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStaleVersion
		}
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save feature flag", err)
	}
	return nil
}
