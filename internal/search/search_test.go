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
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/typesense/typesense-go/typesense/api"

	"github.com/ugamusic/distro/database/mocks"
	"github.com/ugamusic/distro/model"
)

const testHost = "http://typesense.test"

func TestDistributionSchemaDefaultSortField(t *testing.T) {
	schema := getDistributionSchema()

	require.NotNil(t, schema.DefaultSortingField)
	assert.Equal(t, "created_at", *schema.DefaultSortingField)
	assert.Equal(t, CollectionDistributions, schema.Name)
}

func TestDistributionTimeFieldsAreInt64(t *testing.T) {
	config := collectionConfigs[CollectionDistributions]
	types := make(map[string]string)
	for _, f := range config.Schema.Fields {
		types[f.Name] = f.Type
	}
	for _, field := range config.TimeFields {
		assert.Equal(t, "int64", types[field], "%s should be stored as a unix timestamp", field)
	}
}

func TestDistributionDocument(t *testing.T) {
	liveAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	d := model.FakeLiveDistribution(model.PlatformSpotify, liveAt)

	doc := DistributionDocument(&d)
	assert.Equal(t, d.DistributionID, doc["distribution_id"])
	assert.Equal(t, "spotify", doc["platform_code"])
	assert.Equal(t, "live", doc["status"])
	assert.Equal(t, liveAt, doc["live_date"])
	assert.Equal(t, "0", doc["total_revenue"])

	normalizeTimeFields(collectionConfigs[CollectionDistributions], doc)
	assert.Equal(t, liveAt.Unix(), doc["live_date"])
}

func TestEnsureSchemaFields(t *testing.T) {
	data := map[string]interface{}{
		"distribution_id": "dst_1",
		"isrc":            "",
		"platform_url":    "",
	}
	ensureSchemaFields(collectionConfigs[CollectionDistributions], data)

	assert.Equal(t, int64(0), data["total_streams"])
	assert.Equal(t, false, data["needs_review"])
	_, hasISRC := data["isrc"]
	assert.False(t, hasISRC)
	_, hasURL := data["platform_url"]
	assert.False(t, hasURL)
	_, hasLive := data["live_date"]
	assert.False(t, hasLive)
}

func TestCompareSchemas(t *testing.T) {
	current := []api.Field{{Name: "distribution_id", Type: "string"}}
	latest := []api.Field{{Name: "distribution_id", Type: "string"}, {Name: "status", Type: "string"}}

	added := compareSchemas(current, latest)
	require.Len(t, added, 1)
	assert.Equal(t, "status", added[0].Name)
}

func TestHandleNotification_UnknownCollection(t *testing.T) {
	client := NewTypesenseClient("key", []string{testHost})
	err := client.HandleNotification(context.Background(), "playlists", map[string]interface{}{})
	assert.EqualError(t, err, "unknown collection: playlists")
}

func TestStartReindex(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodDelete, testHost+"/collections/distributions",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]interface{}{"name": "distributions", "fields": []interface{}{}}))
	httpmock.RegisterResponder(http.MethodPost, testHost+"/collections",
		httpmock.NewJsonResponderOrPanic(http.StatusCreated, map[string]interface{}{"name": "distributions", "fields": []interface{}{}}))
	httpmock.RegisterResponder(http.MethodPost, testHost+"/collections/distributions/documents",
		httpmock.NewJsonResponderOrPanic(http.StatusCreated, map[string]interface{}{"id": "dst"}))

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first := model.FakeDistribution(model.PlatformDeezer, now)
	second := model.FakeLiveDistribution(model.PlatformTidal, now)

	ds := new(mocks.MockDataSource)
	ds.On("GetDistributions", mock.Anything, model.Status(""), 2, 0).Return([]*model.Distribution{&first, &second}, nil)
	ds.On("GetDistributions", mock.Anything, model.Status(""), 2, 2).Return([]*model.Distribution{}, nil)

	svc := NewReindexService(NewTypesenseClient("key", []string{testHost}), ds, ReindexConfig{BatchSize: 2})
	progress, err := svc.StartReindex(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "completed", progress.Status)
	assert.Equal(t, int64(2), progress.ProcessedRecords)
	assert.Empty(t, progress.Errors)
	ds.AssertExpectations(t)
}

func TestStartReindex_DatasourceError(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodDelete, testHost+"/collections/distributions",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]interface{}{"name": "distributions", "fields": []interface{}{}}))
	httpmock.RegisterResponder(http.MethodPost, testHost+"/collections",
		httpmock.NewJsonResponderOrPanic(http.StatusCreated, map[string]interface{}{"name": "distributions", "fields": []interface{}{}}))

	ds := new(mocks.MockDataSource)
	ds.On("GetDistributions", mock.Anything, model.Status(""), 500, 0).Return(nil, errors.New("connection refused"))

	svc := NewReindexService(NewTypesenseClient("key", []string{testHost}), ds, ReindexConfig{})
	progress, err := svc.StartReindex(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "failed", progress.Status)
	assert.Equal(t, "indexing_distributions", progress.Phase)
}
