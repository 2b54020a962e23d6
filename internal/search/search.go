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
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/typesense/typesense-go/typesense"
	"github.com/typesense/typesense-go/typesense/api"

	"github.com/ugamusic/distro/model"
)

const CollectionDistributions = "distributions"

// CollectionConfig holds configuration for a specific collection.
type CollectionConfig struct {
	Schema     *api.CollectionSchema
	IDField    string
	TimeFields []string
}

var collectionConfigs = map[string]CollectionConfig{
	CollectionDistributions: {
		Schema:     getDistributionSchema(),
		IDField:    "distribution_id",
		TimeFields: []string{"created_at", "last_updated", "live_date", "last_synced"},
	},
}

// TypesenseClient wraps the Typesense client and provides methods to interact with it.
type TypesenseClient struct {
	Client *typesense.Client
}

// NewTypesenseClient initializes and returns a new Typesense client instance.
func NewTypesenseClient(apiKey string, hosts []string) *TypesenseClient {
	client := typesense.NewClient(
		typesense.WithServer(hosts[0]),
		typesense.WithAPIKey(apiKey),
		typesense.WithConnectionTimeout(5*time.Second),
		typesense.WithCircuitBreakerMaxRequests(50),
		typesense.WithCircuitBreakerInterval(2*time.Minute),
		typesense.WithCircuitBreakerTimeout(1*time.Minute),
	)
	return &TypesenseClient{Client: client}
}

// EnsureCollectionsExist creates any missing collection from its latest schema.
func (t *TypesenseClient) EnsureCollectionsExist(ctx context.Context) error {
	for name, config := range collectionConfigs {
		if _, err := t.CreateCollection(ctx, config.Schema); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
	}
	return nil
}

// CreateCollection creates a collection in Typesense. An existing collection is not an error.
func (t *TypesenseClient) CreateCollection(ctx context.Context, schema *api.CollectionSchema) (*api.CollectionResponse, error) {
	resp, err := t.Client.Collections().Create(ctx, schema)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil, nil
		}
		return nil, err
	}
	return resp, nil
}

func (t *TypesenseClient) Search(ctx context.Context, collection string, searchParams *api.SearchCollectionParams) (*api.SearchResult, error) {
	return t.Client.Collection(collection).Documents().Search(ctx, searchParams)
}

// HandleNotification normalizes data for the table's collection and upserts it.
func (t *TypesenseClient) HandleNotification(ctx context.Context, table string, data map[string]interface{}) error {
	config, ok := collectionConfigs[table]
	if !ok {
		return fmt.Errorf("unknown collection: %s", table)
	}

	ensureSchemaFields(config, data)
	normalizeTimeFields(config, data)

	return t.upsertDocument(ctx, table, config.IDField, data)
}

// DistributionDocument flattens a distribution into the indexed document shape.
func DistributionDocument(d *model.Distribution) map[string]interface{} {
	doc := map[string]interface{}{
		"distribution_id": d.DistributionID,
		"song_id":         d.SongID,
		"platform_code":   string(d.PlatformCode),
		"status":          string(d.Status),
		"title":           d.Metadata.Title,
		"artist_name":     d.Metadata.ArtistName,
		"isrc":            d.Metadata.ISRC,
		"genre":           d.Metadata.Genre,
		"needs_review":    d.NeedsReview,
		"retry_count":     int64(d.RetryCount),
		"total_streams":   d.TotalStreams,
		"total_revenue":   d.TotalRevenue.String(),
		"platform_url":    d.PlatformURL,
		"created_at":      d.CreatedAt,
		"last_updated":    d.LastUpdated,
	}
	if d.LiveDate != nil {
		doc["live_date"] = *d.LiveDate
	}
	if d.LastSynced != nil {
		doc["last_synced"] = *d.LastSynced
	}
	return doc
}

// ensureSchemaFields fills required fields with zero values and drops empty optional strings.
func ensureSchemaFields(config CollectionConfig, data map[string]interface{}) {
	optional := make(map[string]bool)
	for _, field := range config.Schema.Fields {
		if field.Optional != nil && *field.Optional {
			optional[field.Name] = true
			continue
		}
		if _, ok := data[field.Name]; !ok {
			data[field.Name] = getDefaultValue(field.Type)
		}
	}

	for key, value := range data {
		if optional[key] {
			if strVal, ok := value.(string); ok && strVal == "" {
				delete(data, key)
			}
		}
	}
}

// normalizeTimeFields converts time fields to Unix timestamps
func normalizeTimeFields(config CollectionConfig, data map[string]interface{}) {
	for _, field := range config.TimeFields {
		fieldValue, ok := data[field]
		if !ok {
			continue
		}
		switch v := fieldValue.(type) {
		case time.Time:
			data[field] = v.Unix()
		case *time.Time:
			if v == nil {
				delete(data, field)
			} else {
				data[field] = v.Unix()
			}
		case int64:
		default:
			delete(data, field)
		}
	}
}

func (t *TypesenseClient) upsertDocument(ctx context.Context, table, idField string, data map[string]interface{}) error {
	if id, ok := data[idField].(string); ok && id != "" {
		data["id"] = id
	}
	if _, err := t.Client.Collection(table).Documents().Upsert(ctx, data); err != nil {
		return fmt.Errorf("failed to upsert document in Typesense: %w", err)
	}
	return nil
}

// MigrateTypeSenseSchema adds fields present in the latest schema to an existing collection.
func (t *TypesenseClient) MigrateTypeSenseSchema(ctx context.Context, collectionName string) error {
	collection := t.Client.Collection(collectionName)

	current, err := collection.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve current schema: %w", err)
	}

	config, ok := collectionConfigs[collectionName]
	if !ok {
		return fmt.Errorf("unknown collection: %s", collectionName)
	}

	for _, field := range compareSchemas(current.Fields, config.Schema.Fields) {
		if _, err := collection.Update(ctx, &api.CollectionUpdateSchema{Fields: []api.Field{field}}); err != nil {
			return fmt.Errorf("failed to add field %s: %w", field.Name, err)
		}
		logrus.Infof("Added new field %s to collection %s", field.Name, collectionName)
	}
	return nil
}

// compareSchemas returns the fields of latest that are missing from current.
func compareSchemas(current, latest []api.Field) []api.Field {
	existing := make(map[string]bool, len(current))
	for _, field := range current {
		existing[field.Name] = true
	}

	var newFields []api.Field
	for _, field := range latest {
		if !existing[field.Name] {
			newFields = append(newFields, field)
		}
	}
	return newFields
}

func getDefaultValue(fieldType string) interface{} {
	switch fieldType {
	case "string":
		return ""
	case "int32", "int64":
		return int64(0)
	case "float":
		return float64(0)
	case "bool":
		return false
	case "string[]":
		return []string{}
	default:
		return nil
	}
}

func getDistributionSchema() *api.CollectionSchema {
	facet := true
	optional := true
	sortBy := "created_at"
	return &api.CollectionSchema{
		Name: CollectionDistributions,
		Fields: []api.Field{
			{Name: "distribution_id", Type: "string"},
			{Name: "song_id", Type: "string", Facet: &facet},
			{Name: "platform_code", Type: "string", Facet: &facet},
			{Name: "status", Type: "string", Facet: &facet},
			{Name: "title", Type: "string"},
			{Name: "artist_name", Type: "string", Facet: &facet},
			{Name: "isrc", Type: "string", Optional: &optional},
			{Name: "genre", Type: "string", Facet: &facet},
			{Name: "needs_review", Type: "bool", Facet: &facet},
			{Name: "retry_count", Type: "int32"},
			{Name: "total_streams", Type: "int64"},
			{Name: "total_revenue", Type: "string"},
			{Name: "platform_url", Type: "string", Optional: &optional},
			{Name: "created_at", Type: "int64"},
			{Name: "last_updated", Type: "int64"},
			{Name: "live_date", Type: "int64", Optional: &optional},
			{Name: "last_synced", Type: "int64", Optional: &optional},
		},
		DefaultSortingField: &sortBy,
	}
}
