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
	"io"
	"net/http"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ugamusic/distro/config"
	"github.com/ugamusic/distro/model"
)

const testWebhookURL = "https://hooks.example.test/distro"

func withWebhook(cfg *config.Configuration) {
	cfg.Notification.Webhook.Url = testWebhookURL
	cfg.Notification.Webhook.Headers = map[string]string{"X-Distro-Signature": "s3cret"}
}

func TestSendWebhook_Disabled(t *testing.T) {
	env := newTestEnv(t)
	dist := model.FakeDistribution(model.PlatformSpotify, testNow)

	require.NoError(t, env.distro.SendWebhook(context.Background(), NewWebhook{Event: model.WebhookDistributionCreated, Payload: dist}))
	tasks, _ := env.distro.queue.Inspector.ListPendingTasks(env.cfg.Queue.WebhookQueue)
	assert.Empty(t, tasks)
}

func TestSendWebhook_QueuedOnStatusChange(t *testing.T) {
	env := newTestEnv(t, withWebhook)

	_, err := env.distro.RequestDistribution(context.Background(), "42", model.PlatformSpotify, model.FakeReleaseMetadata())
	require.NoError(t, err)

	tasks, err := env.distro.queue.Inspector.ListPendingTasks(env.cfg.Queue.WebhookQueue)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	var hook struct {
		Event string             `json:"event"`
		Data  model.Distribution `json:"data"`
	}
	require.NoError(t, json.Unmarshal(tasks[0].Payload, &hook))
	assert.Equal(t, model.WebhookDistributionCreated, hook.Event)
	assert.Equal(t, "42", hook.Data.SongID)
}

func TestProcessWebhook(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	env := newTestEnv(t, withWebhook)
	dist := model.FakeLiveDistribution(model.PlatformSpotify, testNow)
	payload, err := json.Marshal(NewWebhook{Event: model.WebhookEventForStatus(dist.Status), Payload: dist})
	require.NoError(t, err)
	task := asynq.NewTask(TaskSendWebhook, payload)

	var received map[string]interface{}
	var signature string
	httpmock.RegisterResponder(http.MethodPost, testWebhookURL, func(req *http.Request) (*http.Response, error) {
		signature = req.Header.Get("X-Distro-Signature")
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &received); err != nil {
			return nil, err
		}
		return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
	})

	require.NoError(t, env.distro.ProcessWebhook(context.Background(), task))
	assert.Equal(t, "s3cret", signature)
	assert.Equal(t, "distribution.live", received["event"])
	data, ok := received["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, dist.DistributionID, data["distribution_id"])
}

func TestProcessWebhook_ServerErrorIsRetried(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	env := newTestEnv(t, withWebhook)
	httpmock.RegisterResponder(http.MethodPost, testWebhookURL, httpmock.NewStringResponder(http.StatusBadGateway, "upstream down"))

	payload, err := json.Marshal(NewWebhook{Event: "distribution.failed", Payload: map[string]string{"distribution_id": "dst_1"}})
	require.NoError(t, err)
	err = env.distro.ProcessWebhook(context.Background(), asynq.NewTask(TaskSendWebhook, payload))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}
