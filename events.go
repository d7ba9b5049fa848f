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

package botvisor

import (
	"sync"
	"time"
)

const (
	MaxEvents = 1000
)

// Event is one thing the manager did to a bot.
type Event struct {
	Id   int64     `json:"id,string"`
	Time time.Time `json:"time"`
	Bot  string    `json:"bot"`
	Text string    `json:"text"`
}

// EventLog keeps the most recent events in a ring.  Readers can wait for
// new events to arrive.
type EventLog struct {
	events    []Event
	numEvents int
	maxEvents int
	id        int64
	cvs       map[*sync.Cond]bool
	mx        sync.Mutex
}

// Add records an event, waking any watchers.
func (l *EventLog) Add(bot, text string) {
	l.mx.Lock()
	idx := l.numEvents % l.maxEvents
	l.id++
	l.events[idx] = Event{Id: l.id, Time: time.Now().UTC(), Bot: bot, Text: text}
	// NB: numEvents may be more than maxEvents once the ring has
	// wrapped; it tracks the next index.
	l.numEvents++
	for cv := range l.cvs {
		cv.Broadcast()
	}
	l.mx.Unlock()
}

// Events returns the stored events newer than last, along with the id of
// the newest event.  Passing back that id on the next call yields only
// what happened in between, or nil if nothing did.
func (l *EventLog) Events(last int64) ([]Event, int64) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.id == last {
		return nil, last
	}
	cnt := l.numEvents
	if cnt > l.maxEvents {
		cnt = l.maxEvents
	}
	recs := make([]Event, 0, cnt)
	index := l.numEvents - cnt
	for j := 0; j < cnt; j++ {
		if ev := l.events[index%l.maxEvents]; ev.Id > last {
			recs = append(recs, ev)
		}
		index++
	}
	return recs, l.id
}

// Watch blocks until an event newer than last arrives or expire passes,
// and returns the newest id.  A non-positive expire does not wait.
func (l *EventLog) Watch(last int64, expire time.Duration) int64 {
	expired := false
	var timer *time.Timer
	cv := sync.NewCond(&l.mx)
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			l.mx.Lock()
			expired = true
			cv.Broadcast()
			l.mx.Unlock()
		})
	} else {
		expired = true
	}

	l.mx.Lock()
	l.cvs[cv] = true
	for l.id == last && !expired {
		cv.Wait()
	}
	delete(l.cvs, cv)
	last = l.id
	l.mx.Unlock()
	if timer != nil {
		timer.Stop()
	}
	return last
}

// NewEventLog returns an EventLog holding up to max events, or
// MaxEvents if max is not positive.
func NewEventLog(max int) *EventLog {
	if max <= 0 {
		max = MaxEvents
	}
	return &EventLog{
		events:    make([]Event, max),
		maxEvents: max,
		// We presume events cannot arrive more than once per
		// nanosecond, so ids stay unique across restarts.
		id:  time.Now().UnixNano(),
		cvs: make(map[*sync.Cond]bool),
	}
}
