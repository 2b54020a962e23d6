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

package notification

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ugamusic/distro/config"
)

const testSlackURL = "https://hooks.slack.test/services/T000/B000/XXXX"

func TestBuildSlackMessage(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	msg := buildSlackMessage("Distribution Needs Review", []Field{{Label: "Platform", Value: "spotify"}}, at)

	require.Len(t, msg.Blocks, 3)
	assert.Equal(t, "header", msg.Blocks[0].Type)
	assert.Equal(t, "Distribution Needs Review", msg.Blocks[0].Text.Text)
	assert.Equal(t, "*Platform:*\nspotify", msg.Blocks[1].Fields[0].Text)
	assert.Contains(t, msg.Blocks[2].Fields[0].Text, "*Time:*")
}

func TestSlackNotification(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var body slackMessage
	httpmock.RegisterResponder(http.MethodPost, testSlackURL, func(req *http.Request) (*http.Response, error) {
		raw, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
	})

	err := SlackNotification(testSlackURL, "Error From Distro 🐞", Field{Label: "Error", Value: "boom"})
	require.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	assert.Equal(t, "Error From Distro 🐞", body.Blocks[0].Text.Text)
}

func TestSlackNotification_RemoteError(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, testSlackURL, httpmock.NewStringResponder(http.StatusForbidden, "invalid_token"))

	err := SlackNotification(testSlackURL, "x")
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "403"))
}

func TestNotifyReview(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, testSlackURL, httpmock.NewStringResponder(http.StatusOK, "ok"))

	err := NotifyReview(testSlackURL, "dst_1", "song_1", "spotify", "automatic retries exhausted")
	require.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestNotifyReview_NoSlack(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	assert.NoError(t, NotifyReview("", "dst_1", "song_1", "spotify", "reason"))
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestNotifyError_DoesNotBlock(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	done := make(chan struct{})
	go func() {
		NotifyError(errors.New("boom"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyError blocked")
	}
}
