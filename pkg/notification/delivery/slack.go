/*
Copyright 2025 Jordi Gil.

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

package delivery

import (
	"context"
	"fmt"
	"net/http"

	"github.com/slack-go/slack"
)

// severityEmoji prefixes a Slack message so responders can triage by eye.
var severityEmoji = map[Severity]string{
	SeverityInfo:     ":information_source:",
	SeverityWarning:  ":warning:",
	SeverityCritical: ":rotating_light:",
}

// slackDeliveryService posts notifications to a Slack channel via webhook.
type slackDeliveryService struct {
	webhookURL string
	client     *http.Client
	channel    string
}

// NewSlackDeliveryService returns a Service that posts to a Slack incoming
// webhook, rendering the notification's channel target as channel.
func NewSlackDeliveryService(webhookURL, channel string, client *http.Client) Service {
	return &slackDeliveryService{webhookURL: webhookURL, channel: channel, client: client}
}

func (s *slackDeliveryService) Deliver(ctx context.Context, n *Notification) error {
	msg := &slack.WebhookMessage{
		Channel: s.channel,
		Text:    fmt.Sprintf("%s *%s*\n%s", severityEmoji[n.Severity], n.Subject, n.Body),
	}
	if err := slack.PostWebhookContext(ctx, s.webhookURL, msg); err != nil {
		return &RetryableError{Op: "failed to post to slack webhook", Cause: err}
	}
	return nil
}
