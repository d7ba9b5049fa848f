// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"time"

	"github.com/gdamore/botvisor"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// RequestIDHeader carries the id the server logged the request under.
	RequestIDHeader = "X-Request-Id"
)

// Reply is the envelope of every API response.  Only the fields that
// matter to a given call are filled in.
type Reply struct {
	Success bool                 `json:"success"`
	Error   string               `json:"error,omitempty"`
	Message string               `json:"message,omitempty"`
	Bot     *botvisor.Descriptor `json:"bot,omitempty"`
	Config  *botvisor.Descriptor `json:"config,omitempty"`
	PID     int                  `json:"pid,omitempty"`
}

type BotsReply struct {
	Success bool                  `json:"success"`
	Bots    []botvisor.Descriptor `json:"bots"`
}

type LogsReply struct {
	Success bool   `json:"success"`
	Logs    string `json:"logs"`
}

// EventsReply carries events newer than the requested id.  Last is the
// id to ask with next time.
type EventsReply struct {
	Success bool             `json:"success"`
	Events  []botvisor.Event `json:"events"`
	Last    int64            `json:"last,string"`
}

type HealthReply struct {
	Success bool      `json:"success"`
	Status  string    `json:"status"`
	Name    string    `json:"name"`
	Started time.Time `json:"started"`
}

// Error is a failed call as seen by a client.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}
