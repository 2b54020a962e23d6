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
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/ugamusic/distro/internal/request"
)

// NewWebhook represents the structure of a webhook notification.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// SendWebhook queues a webhook notification. Nothing is queued when no
// webhook URL is configured.
func (d *Distro) SendWebhook(ctx context.Context, hook NewWebhook) error {
	if d.config.Notification.Webhook.Url == "" {
		return nil
	}
	return d.queue.enqueueWebhook(ctx, hook)
}

// ProcessWebhook delivers a queued webhook. Non-2xx answers are returned as
// errors so the queue retries them.
func (d *Distro) ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	url := d.config.Notification.Webhook.Url
	if url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decoding webhook payload: %v: %w", err, asynq.SkipRetry)
	}

	body, err := request.ToJsonReq(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	for key, value := range d.config.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	if _, err := request.Call(req, nil); err != nil {
		logrus.WithField("event", payload.Event).Errorf("webhook delivery failed: %v", err)
		return err
	}
	logrus.WithField("event", payload.Event).Debug("webhook delivered")
	return nil
}
