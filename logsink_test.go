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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLogSink(t *testing.T) {
	Convey("Given a bot with no log", t, func() {
		reg, err := NewRegistry(t.TempDir(), 3000, 4000)
		So(err, ShouldBeNil)
		_, err = reg.Create("b", "node index.js")
		So(err, ShouldBeNil)
		sink := NewLogSink(reg)

		s, err := sink.Read("b")
		So(err, ShouldBeNil)
		So(s, ShouldEqual, NoLogs)
		s, err = sink.Tail("b", 10)
		So(err, ShouldBeNil)
		So(s, ShouldEqual, NoLogs)

		Convey("Captured lines are stamped and tagged", func() {
			blog, err := sink.Open("b")
			So(err, ShouldBeNil)
			blog.now = func() time.Time {
				return time.Date(2024, 5, 1, 10, 0, 0, 123e6, time.UTC)
			}
			done := blog.Attach(strings.NewReader("hello\nworld"), strings.NewReader("oops\r\n"))
			<-done
			blog.Note("process 1 exited")
			So(blog.Close(), ShouldBeNil)

			s, err := sink.Read("b")
			So(err, ShouldBeNil)
			So(s, ShouldContainSubstring, "[2024-05-01T10:00:00.123Z] hello\n")
			So(s, ShouldContainSubstring, "[2024-05-01T10:00:00.123Z] world\n")
			So(s, ShouldContainSubstring, "[2024-05-01T10:00:00.123Z] ERROR: oops\n")
			So(s, ShouldEndWith, "[2024-05-01T10:00:00.123Z] PANEL: process 1 exited\n")
			So(s, ShouldNotContainSubstring, "PANEL: hello")
			So(strings.Count(s, "\n"), ShouldEqual, 4)
		})

		Convey("Logs are appended across runs", func() {
			for i := 0; i < 2; i++ {
				blog, err := sink.Open("b")
				So(err, ShouldBeNil)
				blog.Note(fmt.Sprintf("run %d", i))
				So(blog.Close(), ShouldBeNil)
			}
			s, err := sink.Read("b")
			So(err, ShouldBeNil)
			So(s, ShouldContainSubstring, "run 0")
			So(s, ShouldContainSubstring, "run 1")
		})

		Convey("Tail returns the last lines", func() {
			var sb strings.Builder
			for i := 0; i < 100; i++ {
				fmt.Fprintf(&sb, "line %d\n", i)
			}
			path := filepath.Join(reg.Dir("b"), LogFile)
			So(os.WriteFile(path, []byte(sb.String()), 0644), ShouldBeNil)

			s, err := sink.Tail("b", 3)
			So(err, ShouldBeNil)
			So(s, ShouldEqual, "line 97\nline 98\nline 99\n")

			s, err = sink.Tail("b", 1000)
			So(err, ShouldBeNil)
			So(s, ShouldEqual, sb.String())

			s, err = sink.Tail("b", 0)
			So(err, ShouldBeNil)
			So(s, ShouldEqual, sb.String())
		})

		Convey("Tail only looks at the end of large logs", func() {
			line := strings.Repeat("x", 1023) + "\n"
			path := filepath.Join(reg.Dir("b"), LogFile)
			So(os.WriteFile(path, []byte(strings.Repeat(line, 300)+"last\n"), 0644), ShouldBeNil)

			s, err := sink.Tail("b", 2)
			So(err, ShouldBeNil)
			So(s, ShouldEqual, line+"last\n")
		})

		Convey("Rotation keeps writing through lumberjack", func() {
			sink.MaxSizeMB = 1
			sink.MaxBackups = 1
			blog, err := sink.Open("b")
			So(err, ShouldBeNil)
			blog.Note("rotated sink")
			So(blog.Close(), ShouldBeNil)
			s, err := sink.Read("b")
			So(err, ShouldBeNil)
			So(s, ShouldContainSubstring, "rotated sink")
		})
	})
}
