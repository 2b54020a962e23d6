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

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ugamusic/distro"
	"github.com/ugamusic/distro/api/middleware"
	model2 "github.com/ugamusic/distro/api/model"
	"github.com/ugamusic/distro/config"
	"github.com/ugamusic/distro/database/mocks"
	"github.com/ugamusic/distro/model"
	"github.com/ugamusic/distro/platform/adapters"
)

type TestRequest struct {
	Payload  interface{}
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(t *testing.T, s TestRequest) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if s.Payload != nil {
		raw, err := json.Marshal(s.Payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(s.Method, s.Route, body)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response != nil {
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), s.Response), resp.Body.String())
	}
	return resp
}

func setupRouter(t *testing.T, configure ...func(*config.Configuration)) (*gin.Engine, *mocks.MemoryDataSource) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := &config.Configuration{
		ProjectName: "distro-test",
		Redis:       config.RedisConfig{Dns: mr.Addr()},
	}
	for _, fn := range configure {
		fn(cfg)
	}
	cfg.SetDefaults()
	config.MockConfig(cfg)

	ds := mocks.NewMemoryDataSource()
	d, err := distro.NewDistro(ds, cfg, adapters.NewMockRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return NewAPI(d, cfg).Router(), ds
}

func newDistributionPayload(songID, platformCode string) model2.CreateDistribution {
	return model2.CreateDistribution{
		SongID:       songID,
		PlatformCode: platformCode,
		Metadata: model2.ReleaseMetadata{
			Title:           "Nkwagala",
			ArtistName:      "Kampala Strings",
			ReleaseDate:     "2024-05-17",
			Territories:     []string{"UG"},
			ContentAdvisory: model.AdvisoryClean,
		},
	}
}

func TestDistributionLifecycleAPI(t *testing.T) {
	router, _ := setupRouter(t)

	var created model.Distribution
	resp := SetUpTestRequest(t, TestRequest{
		Router: router, Method: http.MethodPost, Route: "/distributions",
		Payload: newDistributionPayload("42", "spotify"), Response: &created,
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, model.StatusPending, created.Status)
	base := "/distributions/" + created.DistributionID

	var updated model.Distribution
	resp = SetUpTestRequest(t, TestRequest{
		Router: router, Method: http.MethodPost, Route: base + "/events",
		Payload: model2.RecordEvent{Type: "accepted", SubmissionID: "sp_123"}, Response: &updated,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, model.StatusProcessing, updated.Status)

	resp = SetUpTestRequest(t, TestRequest{
		Router: router, Method: http.MethodPost, Route: base + "/events",
		Payload: model2.RecordEvent{Type: "published", PlatformURL: "https://open.spotify.com/track/1", PlatformID: "1"},
		Response: &updated,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, model.StatusLive, updated.Status)

	asOf := time.Now().UTC().Truncate(time.Second)
	resp = SetUpTestRequest(t, TestRequest{
		Router: router, Method: http.MethodPost, Route: base + "/revenue",
		Payload:  model2.RevenueSnapshot{Streams: 1500, Revenue: "4.50", AsOf: asOf.Format(time.RFC3339)},
		Response: &updated,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, int64(1500), updated.TotalStreams)

	resp = SetUpTestRequest(t, TestRequest{
		Router: router, Method: http.MethodPost, Route: base + "/revenue",
		Payload: model2.RevenueSnapshot{Streams: 1600, Revenue: "4.80", AsOf: asOf.Add(-time.Hour).Format(time.RFC3339)},
	})
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = SetUpTestRequest(t, TestRequest{
		Router: router, Method: http.MethodPost, Route: base + "/removal",
		Payload: model2.StatusChangeRequest{Reason: "artist request"}, Response: &updated,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, model.StatusRemoved, updated.Status)
	assert.Equal(t, int64(1500), updated.TotalStreams)

	// Force removing a removed distribution is accepted and changes nothing.
	var again model.Distribution
	resp = SetUpTestRequest(t, TestRequest{
		Router: router, Method: http.MethodPost, Route: base + "/force-remove", Response: &again,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, updated.Version, again.Version)

	var fetched model.Distribution
	resp = SetUpTestRequest(t, TestRequest{Router: router, Method: http.MethodGet, Route: base, Response: &fetched})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "artist request", fetched.RemovalReason)

	var listed []model.Distribution
	resp = SetUpTestRequest(t, TestRequest{Router: router, Method: http.MethodGet, Route: "/distributions?status=removed", Response: &listed})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, listed, 1)
}

func TestRequestDistributionAPI_Errors(t *testing.T) {
	router, _ := setupRouter(t)

	resp := SetUpTestRequest(t, TestRequest{
		Router: router, Method: http.MethodPost, Route: "/distributions",
		Payload: newDistributionPayload("42", "deezer"),
	})
	require.Equal(t, http.StatusCreated, resp.Code)

	tests := []struct {
		name         string
		payload      model2.CreateDistribution
		expectedCode int
	}{
		{"duplicate", newDistributionPayload("42", "deezer"), http.StatusConflict},
		{"unknown platform", newDistributionPayload("42", "napster"), http.StatusBadRequest},
		{"missing song", newDistributionPayload("", "deezer"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := SetUpTestRequest(t, TestRequest{
				Router: router, Method: http.MethodPost, Route: "/distributions", Payload: tt.payload,
			})
			assert.Equal(t, tt.expectedCode, resp.Code, resp.Body.String())
		})
	}
}

func TestRecordEventAPI_Errors(t *testing.T) {
	router, ds := setupRouter(t)
	live := model.FakeLiveDistribution(model.PlatformTidal, time.Now().UTC())
	ds.Put(live)
	base := "/distributions/" + live.DistributionID

	resp := SetUpTestRequest(t, TestRequest{
		Router: router, Method: http.MethodPost, Route: base + "/events",
		Payload: model2.RecordEvent{Type: "accepted", SubmissionID: "again"},
	})
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = SetUpTestRequest(t, TestRequest{
		Router: router, Method: http.MethodPost, Route: base + "/events",
		Payload: model2.RecordEvent{Type: "retry"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = SetUpTestRequest(t, TestRequest{
		Router: router, Method: http.MethodPost, Route: "/distributions/dst_missing/events",
		Payload: model2.RecordEvent{Type: "failed"},
	})
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = SetUpTestRequest(t, TestRequest{
		Router: router, Method: http.MethodPost, Route: base + "/resubmit",
	})
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestListDistributionsAPI(t *testing.T) {
	router, ds := setupRouter(t)
	for i := 0; i < 3; i++ {
		ds.Put(model.FakeDistribution(model.PlatformSpotify, time.Now().UTC()))
	}

	var listed []model.Distribution
	resp := SetUpTestRequest(t, TestRequest{Router: router, Method: http.MethodGet, Route: "/distributions?limit=2", Response: &listed})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, listed, 2)

	resp = SetUpTestRequest(t, TestRequest{Router: router, Method: http.MethodGet, Route: "/distributions?limit=abc"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = SetUpTestRequest(t, TestRequest{Router: router, Method: http.MethodGet, Route: "/distributions?status=archived"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	var review []model.Distribution
	resp = SetUpTestRequest(t, TestRequest{Router: router, Method: http.MethodGet, Route: "/distributions/review", Response: &review})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, review)
}

func TestFeatureFlagsAPI(t *testing.T) {
	router, _ := setupRouter(t)
	route := "/feature-flags/distribution/" + model.PlatformEnabledFlag(model.PlatformPandora)

	resp := SetUpTestRequest(t, TestRequest{Router: router, Method: http.MethodGet, Route: route})
	assert.Equal(t, http.StatusNotFound, resp.Code)

	var flag model.FeatureFlag
	resp = SetUpTestRequest(t, TestRequest{
		Router: router, Method: http.MethodPut, Route: route,
		Payload: model2.UpdateFeatureFlag{Value: json.RawMessage(`false`)}, Response: &flag,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, int64(1), flag.Version)

	resp = SetUpTestRequest(t, TestRequest{
		Router: router, Method: http.MethodPost, Route: "/distributions",
		Payload: newDistributionPayload("42", "pandora"),
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	resp = SetUpTestRequest(t, TestRequest{
		Router: router, Method: http.MethodPut, Route: route,
		Payload: model2.UpdateFeatureFlag{Value: json.RawMessage(`true`), Version: 5},
	})
	assert.Equal(t, http.StatusConflict, resp.Code)

	var flags []model.FeatureFlag
	resp = SetUpTestRequest(t, TestRequest{Router: router, Method: http.MethodGet, Route: "/feature-flags/distribution", Response: &flags})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, flags, 1)
}

func TestRunJobAPI(t *testing.T) {
	router, ds := setupRouter(t)
	failed := model.FakeDistribution(model.PlatformSpotify, time.Now().UTC().Add(-3*time.Hour))
	failed, _, err := model.Transition(failed, model.AdapterEvent{Type: model.EventFailed}, time.Now().UTC().Add(-2*time.Hour))
	require.NoError(t, err)
	ds.Put(failed)

	var result distro.JobResult
	resp := SetUpTestRequest(t, TestRequest{Router: router, Method: http.MethodPost, Route: "/jobs/retries", Response: &result})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.True(t, result.Ran)
	assert.Equal(t, 1, result.Retried)

	resp = SetUpTestRequest(t, TestRequest{Router: router, Method: http.MethodPost, Route: "/jobs/compact"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestSearchAPI_Disabled(t *testing.T) {
	router, _ := setupRouter(t)

	resp := SetUpTestRequest(t, TestRequest{
		Router: router, Method: http.MethodPost, Route: "/search/distributions",
		Payload: map[string]string{"q": "nkwagala", "query_by": "song_id"},
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	resp = SetUpTestRequest(t, TestRequest{Router: router, Method: http.MethodPost, Route: "/search/reindex"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestSecureMode(t *testing.T) {
	router, _ := setupRouter(t, func(cfg *config.Configuration) {
		cfg.Server.Secure = true
		cfg.Server.SecretKey = "s3cret"
	})

	resp := SetUpTestRequest(t, TestRequest{Router: router, Method: http.MethodGet, Route: "/distributions"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = SetUpTestRequest(t, TestRequest{
		Router: router, Method: http.MethodGet, Route: "/distributions",
		Header: map[string]string{middleware.KeyHeader: "s3cret"},
	})
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = SetUpTestRequest(t, TestRequest{Router: router, Method: http.MethodGet, Route: "/health"})
	assert.Equal(t, http.StatusOK, resp.Code, fmt.Sprint(resp.Body.String()))
}
