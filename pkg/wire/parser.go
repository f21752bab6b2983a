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

// Package wire parses the pipe-delimited messages pushed by the watch app.
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Parse errors. Callers drop the message on any of these; they are never
// fatal to the session.
var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownEventCode = errors.New("unknown event code")
	ErrInvalidField     = errors.New("invalid field")
)

// Kind is the parsed message kind.
type Kind int

const (
	KindActivityStarted Kind = iota
	KindActivityStopped
)

// Message is a parsed watch message. WatchTime and DurationSec are in
// seconds, as sent by the watch.
type Message struct {
	Kind        Kind
	WatchTime   int64
	Activity    string
	DurationSec int64
}

const (
	fieldCount = 4

	codeStarted         = "STARTED"
	codeActivityStarted = "ACTIVITY_STARTED"
	codeStopped         = "STOPPED"
	codeActivityStopped = "ACTIVITY_STOPPED"
)

// Parse decodes a raw watch message of the form
// EVENT_CODE|watchTimeSeconds|activityType|durationSeconds.
// Extra trailing segments are tolerated and ignored. Started messages always
// carry a zero duration, whatever the payload said.
func Parse(raw string) (Message, error) {
	parts := strings.Split(raw, "|")
	if len(parts) < fieldCount {
		return Message{}, fmt.Errorf("%w: %d of %d fields", ErrMalformedPayload, len(parts), fieldCount)
	}

	var kind Kind

	switch parts[0] {
	case codeStarted, codeActivityStarted:
		kind = KindActivityStarted
	case codeStopped, codeActivityStopped:
		kind = KindActivityStopped
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownEventCode, parts[0])
	}

	watchTime, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("%w: watch time %q", ErrInvalidField, parts[1])
	}

	duration, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("%w: duration %q", ErrInvalidField, parts[3])
	}

	if kind == KindActivityStarted {
		duration = 0
	}

	return Message{
		Kind:        kind,
		WatchTime:   watchTime,
		Activity:    parts[2],
		DurationSec: duration,
	}, nil
}
