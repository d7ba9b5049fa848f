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
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// lockAsync takes the lock in the background.
func lockAsync(l *botLocks, name string) <-chan func() {
	ch := make(chan func(), 1)
	go func() {
		u, _ := l.lock(name)
		ch <- u
	}()
	return ch
}

// taken waits up to d for a background lock.
func taken(ch <-chan func(), d time.Duration) func() {
	select {
	case u := <-ch:
		return u
	case <-time.After(d):
		return nil
	}
}

func TestBotLocks(t *testing.T) {
	Convey("Given two panels on one storage root", t, func() {
		reg, err := NewRegistry(t.TempDir(), 3000, 4000)
		So(err, ShouldBeNil)
		a, b := newBotLocks(reg), newBotLocks(reg)

		Convey("They exclude each other", func() {
			unlock, err := a.lock("x")
			So(err, ShouldBeNil)

			ch := lockAsync(b, "x")
			So(taken(ch, 200*time.Millisecond), ShouldBeNil)
			unlock()
			u := taken(ch, 5*time.Second)
			So(u, ShouldNotBeNil)
			u()
		})

		Convey("A waiter follows a lock file removed under it", func() {
			unlock, err := a.lock("x")
			So(err, ShouldBeNil)

			ch := lockAsync(b, "x")
			So(taken(ch, 100*time.Millisecond), ShouldBeNil)
			So(a.forget("x"), ShouldBeNil)
			unlock()

			u := taken(ch, 5*time.Second)
			So(u, ShouldNotBeNil)
			_, err = os.Stat(reg.lockPath("x"))
			So(err, ShouldBeNil)

			// A newcomer locks the same file b holds.
			ch3 := lockAsync(newBotLocks(reg), "x")
			So(taken(ch3, 200*time.Millisecond), ShouldBeNil)
			u()
			u3 := taken(ch3, 5*time.Second)
			So(u3, ShouldNotBeNil)
			u3()
		})

		Convey("Entries are dropped once released", func() {
			unlock, err := a.lock("x")
			So(err, ShouldBeNil)
			So(len(a.bots), ShouldEqual, 1)
			unlock()
			So(len(a.bots), ShouldEqual, 0)
			So(a.forget("x"), ShouldBeNil)
			So(a.forget("x"), ShouldBeNil)
		})
	})
}
