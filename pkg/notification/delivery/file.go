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
	"os"
	"path/filepath"
	"time"
)

// fileDeliveryService writes each notification as a timestamped text file
// under dir. It exists mainly as a durable fallback channel for
// environments with no Slack webhook configured, and as the deterministic
// path exercised by delivery tests.
type fileDeliveryService struct {
	dir string
}

// NewFileDeliveryService returns a Service that writes notifications as
// files under dir, creating dir (and any missing parents) on first use.
func NewFileDeliveryService(dir string) Service {
	return &fileDeliveryService{dir: dir}
}

func (s *fileDeliveryService) Deliver(_ context.Context, n *Notification) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return &RetryableError{Op: "failed to create output directory", Cause: err}
	}

	name := fmt.Sprintf("%s-%s.txt", time.Now().UTC().Format("20060102T150405.000000000"), sanitizeFilename(n.ID))
	tmpPath := filepath.Join(s.dir, name+".tmp")
	finalPath := filepath.Join(s.dir, name)

	content := fmt.Sprintf("Subject: %s\nSeverity: %s\n\n%s\n", n.Subject, n.Severity, n.Body)
	if err := os.WriteFile(tmpPath, []byte(content), 0644); err != nil {
		return &RetryableError{Op: "failed to write temporary file", Cause: err}
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return &RetryableError{Op: "failed to finalize notification file", Cause: err}
	}
	return nil
}

func sanitizeFilename(id string) string {
	if id == "" {
		return "notification"
	}
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
