/*
 * Copyright 2025 Pairlink Labs.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package notify defines the sink for human-readable status text derived
// from the current device list and last message.
package notify

import "context"

// Status is the short summary plus multi-line detail shown on the
// notification surface.
type Status struct {
	ContentText string `json:"content_text"`
	BigText     string `json:"big_text"`
}

// Notifier receives a status update after every dispatched event. Updates
// are best-effort.
type Notifier interface {
	Update(ctx context.Context, status Status)
}

// Nop is a Notifier that discards updates, for tests and headless runs.
type Nop struct{}

// Update implements Notifier.
func (Nop) Update(context.Context, Status) {}
