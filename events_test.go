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
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestEventLog(t *testing.T) {
	Convey("Given an event log", t, func() {
		l := NewEventLog(3)
		evs, last := l.Events(0)
		So(evs, ShouldBeEmpty)

		Convey("Nothing new means nil", func() {
			evs, again := l.Events(last)
			So(evs, ShouldBeNil)
			So(again, ShouldEqual, last)
		})

		Convey("Events arrive in order", func() {
			l.Add("a", "deployed")
			l.Add("a", "started, pid 10")
			evs, nl := l.Events(last)
			So(len(evs), ShouldEqual, 2)
			So(evs[0].Text, ShouldEqual, "deployed")
			So(evs[1].Bot, ShouldEqual, "a")
			So(nl, ShouldEqual, evs[1].Id)

			Convey("Only newer ones are returned", func() {
				l.Add("b", "deployed")
				evs, _ := l.Events(nl)
				So(len(evs), ShouldEqual, 1)
				So(evs[0].Bot, ShouldEqual, "b")
			})
		})

		Convey("The ring keeps the newest", func() {
			for i := 0; i < 5; i++ {
				l.Add("r", fmt.Sprintf("event %d", i))
			}
			evs, _ := l.Events(0)
			So(len(evs), ShouldEqual, 3)
			So(evs[0].Text, ShouldEqual, "event 2")
			So(evs[2].Text, ShouldEqual, "event 4")
		})

		Convey("Watch wakes on a new event", func() {
			go func() {
				time.Sleep(50 * time.Millisecond)
				l.Add("w", "woke")
			}()
			start := time.Now()
			nl := l.Watch(last, 5*time.Second)
			So(nl, ShouldNotEqual, last)
			So(time.Since(start), ShouldBeLessThan, 5*time.Second)
		})

		Convey("Watch gives up after a while", func() {
			nl := l.Watch(last, 50*time.Millisecond)
			So(nl, ShouldEqual, last)
			So(l.Watch(last, 0), ShouldEqual, last)
		})
	})
}
