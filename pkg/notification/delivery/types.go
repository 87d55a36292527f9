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

// Package delivery sends Alert Manager notifications to their configured
// channels (Slack, file) with retryable-vs-fatal error classification so the
// alert loop knows whether to retry a delivery or drop it.
package delivery

import (
	"context"
	"time"
)

// Channel names a notification delivery target.
type Channel string

const (
	ChannelSlack Channel = "slack"
	ChannelFile  Channel = "file"
)

// Severity mirrors the Alert Manager's alert severities so delivery
// services can format or route on it.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notification is a single alert rendered for delivery.
type Notification struct {
	ID        string
	Subject   string
	Body      string
	Severity  Severity
	Channels  []Channel
	CreatedAt time.Time
}

// Service delivers a Notification to one destination. Each configured
// Channel has its own Service implementation; the alert dispatch loop fans a
// Notification out to every Service named in its Channels.
type Service interface {
	Deliver(ctx context.Context, n *Notification) error
}

// RetryableError marks a delivery failure the alert dispatch loop should
// retry (transient I/O, rate limiting) rather than drop. Delivery errors not
// wrapped in RetryableError are treated as permanent.
type RetryableError struct {
	Op    string
	Cause error
}

func (e *RetryableError) Error() string {
	return e.Op + ": " + e.Cause.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Cause
}
