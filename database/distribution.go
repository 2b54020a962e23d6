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
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ugamusic/distro/internal/apierror"
	"github.com/ugamusic/distro/model"
)

// ErrStaleVersion is returned by UpdateDistribution when the row's version no
// longer matches the version that was read.
var ErrStaleVersion = errors.New("distribution version is stale")

const distributionColumns = `
	id, distribution_id, song_id, platform_code, status, metadata, platform_metadata,
	live_date, platform_url, platform_id, error_message, rejection_reason, removal_reason,
	removed_date, retry_count, needs_review, review_reason, total_streams, total_revenue,
	last_updated, last_synced, created_at, version`

var tracer = otel.Tracer("distro.database")

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDistribution(row rowScanner) (*model.Distribution, error) {
	d := &model.Distribution{}
	var metadataJSON, platformMetadataJSON []byte
	var liveDate, removedDate, lastSynced sql.NullTime

	err := row.Scan(
		&d.ID, &d.DistributionID, &d.SongID, &d.PlatformCode, &d.Status, &metadataJSON, &platformMetadataJSON,
		&liveDate, &d.PlatformURL, &d.PlatformID, &d.ErrorMessage, &d.RejectionReason, &d.RemovalReason,
		&removedDate, &d.RetryCount, &d.NeedsReview, &d.ReviewReason, &d.TotalStreams, &d.TotalRevenue,
		&d.LastUpdated, &lastSynced, &d.CreatedAt, &d.Version,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(metadataJSON, &d.Metadata); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal release metadata", err)
	}
	if len(platformMetadataJSON) > 0 {
		if err := json.Unmarshal(platformMetadataJSON, &d.PlatformMetadata); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal platform metadata", err)
		}
	}
	if d.PlatformMetadata.History == nil {
		d.PlatformMetadata.History = []model.MetricsSnapshot{}
	}
	if d.PlatformMetadata.Transitions == nil {
		d.PlatformMetadata.Transitions = []model.StatusChange{}
	}

	d.LiveDate = nullTimePtr(liveDate)
	d.RemovedDate = nullTimePtr(removedDate)
	d.LastSynced = nullTimePtr(lastSynced)
	return d, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func timePtrValue(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// CreateDistribution inserts a new distribution. A second active record for
// the same song and platform violates the partial unique index and is
// reported as model.ErrDuplicateDistribution.
func (d Datasource) CreateDistribution(ctx context.Context, dist *model.Distribution) error {
	ctx, span := tracer.Start(ctx, "CreateDistribution")
	defer span.End()

	metadataJSON, err := json.Marshal(dist.Metadata)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal release metadata", err)
	}
	platformMetadataJSON, err := json.Marshal(dist.PlatformMetadata)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal platform metadata", err)
	}
	if dist.Version == 0 {
		dist.Version = 1
	}

	err = d.Conn.QueryRowContext(ctx, `
		INSERT INTO distro.distributions (
			distribution_id, song_id, platform_code, status, metadata, platform_metadata,
			retry_count, total_streams, total_revenue, last_updated, created_at, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, dist.DistributionID, dist.SongID, dist.PlatformCode, dist.Status, metadataJSON, platformMetadataJSON,
		dist.RetryCount, dist.TotalStreams, dist.TotalRevenue, dist.LastUpdated, dist.CreatedAt, dist.Version,
	).Scan(&dist.ID)

	if err != nil {
		span.RecordError(err)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("Song %s already has an active distribution on %s", dist.SongID, dist.PlatformCode),
				fmt.Errorf("%w: %v", model.ErrDuplicateDistribution, err))
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create distribution", err)
	}

	span.SetAttributes(attribute.String("distribution.id", dist.DistributionID))
	return nil
}

func (d Datasource) GetDistributionByID(ctx context.Context, id string) (*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "GetDistributionByID")
	defer span.End()
	span.SetAttributes(attribute.String("distribution.id", id))

	row := d.Conn.QueryRowContext(ctx, `SELECT `+distributionColumns+`
		FROM distro.distributions
		WHERE distribution_id = $1
	`, id)

	dist, err := scanDistribution(row)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Distribution with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve distribution", err)
	}
	return dist, nil
}

func (d Datasource) GetActiveDistribution(ctx context.Context, songID string, platform model.PlatformCode) (*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "GetActiveDistribution")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `SELECT `+distributionColumns+`
		FROM distro.distributions
		WHERE song_id = $1 AND platform_code = $2 AND status <> 'removed'
		LIMIT 1
	`, songID, platform)

	dist, err := scanDistribution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve active distribution", err)
	}
	return dist, nil
}

// GetDistributions lists distributions ordered by creation. An empty status
// lists every record.
func (d Datasource) GetDistributions(ctx context.Context, status model.Status, limit, offset int) ([]*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "GetDistributions")
	defer span.End()

	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = d.Conn.QueryContext(ctx, `SELECT `+distributionColumns+`
			FROM distro.distributions
			ORDER BY created_at DESC, id DESC
			LIMIT $1 OFFSET $2
		`, limit, offset)
	} else {
		rows, err = d.Conn.QueryContext(ctx, `SELECT `+distributionColumns+`
			FROM distro.distributions
			WHERE status = $1
			ORDER BY last_updated ASC, id ASC
			LIMIT $2 OFFSET $3
		`, status, limit, offset)
	}
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve distributions", err)
	}
	return collectDistributions(rows)
}

func (d Datasource) GetStaleDistributions(ctx context.Context, status model.Status, before time.Time, limit int) ([]*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "GetStaleDistributions")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `SELECT `+distributionColumns+`
		FROM distro.distributions
		WHERE status = $1 AND last_updated < $2
		ORDER BY last_updated ASC, id ASC
		LIMIT $3
	`, status, before, limit)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stale distributions", err)
	}
	return collectDistributions(rows)
}

func (d Datasource) GetDistributionsForReview(ctx context.Context, limit, offset int) ([]*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "GetDistributionsForReview")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `SELECT `+distributionColumns+`
		FROM distro.distributions
		WHERE needs_review
		ORDER BY last_updated ASC, id ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve distributions for review", err)
	}
	return collectDistributions(rows)
}

func collectDistributions(rows *sql.Rows) ([]*model.Distribution, error) {
	defer rows.Close()

	distributions := []*model.Distribution{}
	for rows.Next() {
		dist, err := scanDistribution(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan distribution", err)
		}
		distributions = append(distributions, dist)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over distributions", err)
	}
	return distributions, nil
}

// UpdateDistribution writes every mutable column of dist in one statement,
// conditioned on the version that was read. Metadata, song and platform are
// never rewritten. On success dist.Version is incremented; when the row has
// moved on, ErrStaleVersion is returned and nothing is written.
func (d Datasource) UpdateDistribution(ctx context.Context, dist *model.Distribution) error {
	ctx, span := tracer.Start(ctx, "UpdateDistribution")
	defer span.End()
	span.SetAttributes(
		attribute.String("distribution.id", dist.DistributionID),
		attribute.String("distribution.status", string(dist.Status)),
		attribute.Int64("distribution.version", dist.Version),
	)

	platformMetadataJSON, err := json.Marshal(dist.PlatformMetadata)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal platform metadata", err)
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE distro.distributions
		SET status = $2, platform_metadata = $3, live_date = $4, platform_url = $5, platform_id = $6,
			error_message = $7, rejection_reason = $8, removal_reason = $9, removed_date = $10,
			retry_count = $11, needs_review = $12, review_reason = $13, total_streams = $14,
			total_revenue = $15, last_updated = $16, last_synced = $17, version = version + 1
		WHERE distribution_id = $1 AND version = $18
	`, dist.DistributionID, dist.Status, platformMetadataJSON, timePtrValue(dist.LiveDate), dist.PlatformURL, dist.PlatformID,
		dist.ErrorMessage, dist.RejectionReason, dist.RemovalReason, timePtrValue(dist.RemovedDate),
		dist.RetryCount, dist.NeedsReview, dist.ReviewReason, dist.TotalStreams,
		dist.TotalRevenue, dist.LastUpdated, timePtrValue(dist.LastSynced), dist.Version)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update distribution", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return ErrStaleVersion
	}

	dist.Version++
	return nil
}
