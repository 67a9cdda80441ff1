/*
Copyright 2024 Blnk Finance Authors.

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
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/blnkfinance/payrelay/config"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Notifier alerts operators about failures nobody is waiting on, such as a webhook that could
// not be stored or an order hook that exhausted its retries.
type Notifier interface {
	NotifyError(err error)
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

// SlackNotifier posts errors to a Slack incoming webhook. An empty URL only logs.
type SlackNotifier struct {
	client     *resty.Client
	webhookURL string
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		client:     resty.New().SetTimeout(10 * time.Second),
		webhookURL: webhookURL,
	}
}

// HTTPClient exposes the underlying HTTP client so tests can mock the transport.
func (s *SlackNotifier) HTTPClient() *http.Client {
	return s.client.GetClient()
}

func slackPayload(err error, at time.Time) slackMessage {
	return slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: "Error From Payrelay 🐞", Emoji: true}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Error:*\n%v", err)}}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%v", at.Format(time.RFC822))}}},
	}}
}

// Send posts err to Slack and waits for the answer.
func (s *SlackNotifier) Send(ctx context.Context, err error) error {
	resp, reqErr := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(slackPayload(err, time.Now())).
		Post(s.webhookURL)
	if reqErr != nil {
		return reqErr
	}
	if resp.IsError() {
		return fmt.Errorf("slack webhook returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// NotifyError logs err and, when Slack is configured, posts it in the background.
func (s *SlackNotifier) NotifyError(systemError error) {
	logrus.Error(systemError)
	if s.webhookURL == "" {
		return
	}

	go func(systemError error) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.Send(ctx, systemError); err != nil {
			logrus.WithError(err).Warn("failed to send slack notification")
		}
	}(systemError)
}

// NotifyError notifies through the Slack webhook from the loaded configuration.
func NotifyError(systemError error) {
	conf, err := config.Fetch()
	if err != nil {
		logrus.Error(systemError)
		return
	}
	NewSlackNotifier(conf.Notification.Slack.WebhookUrl).NotifyError(systemError)
}
