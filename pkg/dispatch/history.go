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

package dispatch

// historyBuffer is a bounded FIFO of formatted log lines. Appends past
// capacity evict the oldest line. Not safe for concurrent use; the
// dispatcher's lock guards it.
type historyBuffer struct {
	lines    []string
	capacity int
}

func newHistoryBuffer(capacity int) *historyBuffer {
	return &historyBuffer{
		lines:    make([]string, 0, capacity),
		capacity: capacity,
	}
}

func (b *historyBuffer) append(line string) {
	if len(b.lines) == b.capacity {
		copy(b.lines, b.lines[1:])
		b.lines = b.lines[:len(b.lines)-1]
	}

	b.lines = append(b.lines, line)
}

// snapshot returns a copy so callers can iterate without holding the
// dispatcher lock.
func (b *historyBuffer) snapshot() []string {
	out := make([]string, len(b.lines))
	copy(out, b.lines)

	return out
}
