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
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ugamusic/distro/config"
	"github.com/ugamusic/distro/internal/request"
)

// Field is one labelled line of a Slack message.
type Field struct {
	Label string
	Value string
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func buildSlackMessage(title string, fields []Field, at time.Time) slackMessage {
	msg := slackMessage{Blocks: []slackBlock{{
		Type: "header",
		Text: &slackText{Type: "plain_text", Text: title, Emoji: true},
	}}}
	fields = append(fields, Field{Label: "Time", Value: at.Format(time.RFC822)})
	for _, f := range fields {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type:   "section",
			Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", f.Label, f.Value)}},
		})
	}
	return msg
}

// SlackNotification posts a message to webhookURL and returns any delivery error.
func SlackNotification(webhookURL, title string, fields ...Field) error {
	payload, err := request.ToJsonReq(buildSlackMessage(title, fields, time.Now()))
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, webhookURL, payload)
	if err != nil {
		return err
	}

	// Slack answers with a plain "ok", so the body is not decoded.
	_, err = request.Call(req, nil)
	return err
}

func slackWebhookURL() string {
	conf, err := config.Fetch()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(conf.Notification.Slack.WebhookUrl)
}

// NotifyError logs systemError and, when Slack is configured, reports it there.
// Delivery happens on its own goroutine.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		url := slackWebhookURL()
		if url == "" {
			return
		}
		if err := SlackNotification(url, "Error From Distro 🐞", Field{Label: "Error", Value: systemError.Error()}); err != nil {
			logrus.Errorf("slack notification failed: %v", err)
		}
	}(systemError)
}

// NotifyReview tells operators on webhookURL that a distribution needs a
// human decision. An empty webhookURL only logs. It is synchronous so callers
// can log a failed delivery against the record.
func NotifyReview(webhookURL, distributionID, songID, platform, reason string) error {
	logrus.WithFields(logrus.Fields{
		"distribution_id": distributionID,
		"platform":        platform,
	}).Warnf("distribution flagged for review: %s", reason)

	if strings.TrimSpace(webhookURL) == "" {
		return nil
	}
	return SlackNotification(webhookURL, "Distribution Needs Review",
		Field{Label: "Distribution", Value: distributionID},
		Field{Label: "Song", Value: songID},
		Field{Label: "Platform", Value: platform},
		Field{Label: "Reason", Value: reason},
	)
}
