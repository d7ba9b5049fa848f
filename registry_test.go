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
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestValidName(t *testing.T) {
	Convey("Bot names are single path elements", t, func() {
		for _, n := range []string{"bot1", "my-bot", "bot_2.v3", "Bot With Space"} {
			So(ValidName(n), ShouldBeNil)
		}
		for _, n := range []string{"", ".", "..", ".hidden", "a/b", "../x", "a\\b", "nul\x00", strings.Repeat("x", 256)} {
			So(errors.Is(ValidName(n), ErrBadName), ShouldBeTrue)
		}
	})
}

func TestRegistry(t *testing.T) {
	Convey("Given an empty registry", t, func() {
		dir := filepath.Join(t.TempDir(), "bots")
		reg, err := NewRegistry(dir, 3000, 4000)
		So(err, ShouldBeNil)
		So(reg.Root(), ShouldEqual, dir)

		all, err := reg.Scan()
		So(err, ShouldBeNil)
		So(all, ShouldBeEmpty)

		Convey("Create writes a stopped descriptor", func() {
			d, err := reg.Create("alpha", "node index.js")
			So(err, ShouldBeNil)
			So(d.Status, ShouldEqual, StatusStopped)
			So(d.Port, ShouldBeBetweenOrEqual, 3000, 3999)
			So(d.CreatedAt.IsZero(), ShouldBeFalse)

			rd, err := reg.Read("alpha")
			So(err, ShouldBeNil)
			So(rd.Name, ShouldEqual, "alpha")
			So(rd.StartupCommand, ShouldEqual, "node index.js")
			So(rd.Port, ShouldEqual, d.Port)
			So(rd.CreatedAt.Equal(d.CreatedAt), ShouldBeTrue)

			Convey("A second create fails", func() {
				_, err := reg.Create("alpha", "node index.js")
				So(errors.Is(err, ErrAlreadyExists), ShouldBeTrue)
			})

			Convey("Saving what was read changes nothing", func() {
				before, err := os.ReadFile(filepath.Join(dir, "alpha", DescriptorFile))
				So(err, ShouldBeNil)
				So(reg.Save(rd), ShouldBeNil)
				after, err := os.ReadFile(filepath.Join(dir, "alpha", DescriptorFile))
				So(err, ShouldBeNil)
				So(string(after), ShouldEqual, string(before))
			})

			Convey("Save leaves no temporary files", func() {
				rd.StartupCommand = "python3 bot.py"
				So(reg.Save(rd), ShouldBeNil)
				ents, err := os.ReadDir(filepath.Join(dir, "alpha"))
				So(err, ShouldBeNil)
				So(len(ents), ShouldEqual, 1)
				So(ents[0].Name(), ShouldEqual, DescriptorFile)
			})

			Convey("The directory name wins over the stored name", func() {
				rd.Name = "alpha"
				b, _ := rd.encode()
				b = []byte(strings.Replace(string(b), `"alpha"`, `"beta"`, 1))
				So(os.WriteFile(filepath.Join(dir, "alpha", DescriptorFile), b, 0644), ShouldBeNil)
				nd, err := reg.Read("alpha")
				So(err, ShouldBeNil)
				So(nd.Name, ShouldEqual, "alpha")
			})

			Convey("Remove deletes it", func() {
				So(reg.Remove("alpha"), ShouldBeNil)
				ok, err := reg.Exists("alpha")
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
				So(errors.Is(reg.Remove("alpha"), ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("Missing bots are not found", func() {
			_, err := reg.Read("ghost")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			err = reg.Save(Descriptor{Name: "ghost"})
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			ok, err := reg.Exists("ghost")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("Scan fills in bots without a descriptor", func() {
			So(os.Mkdir(filepath.Join(dir, "bare"), 0755), ShouldBeNil)
			_, err := reg.Create("full", "node index.js")
			So(err, ShouldBeNil)
			So(os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0644), ShouldBeNil)

			all, err := reg.Scan()
			So(err, ShouldBeNil)
			So(len(all), ShouldEqual, 2)
			byName := map[string]Descriptor{}
			for _, d := range all {
				byName[d.Name] = d
			}
			So(byName["bare"].Status, ShouldEqual, StatusStopped)
			So(byName["bare"].CreatedAt.IsZero(), ShouldBeFalse)
			So(byName["full"].StartupCommand, ShouldEqual, "node index.js")
		})

		Convey("Sentinels round trip", func() {
			_, err := reg.Create("s", "node index.js")
			So(err, ShouldBeNil)
			_, ok, err := reg.ReadSentinel("s")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			So(reg.WriteSentinel("s", Sentinel{PID: 1234}), ShouldBeNil)
			sn, ok, err := reg.ReadSentinel("s")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(sn.PID, ShouldEqual, 1234)
			So(sn.Start, ShouldEqual, uint64(0))

			So(reg.WriteSentinel("s", Sentinel{PID: 1234, Start: 98765}), ShouldBeNil)
			b, err := os.ReadFile(filepath.Join(dir, "s", SentinelFile))
			So(err, ShouldBeNil)
			So(string(b), ShouldEqual, "1234 98765")
			sn, _, err = reg.ReadSentinel("s")
			So(err, ShouldBeNil)
			So(sn, ShouldResemble, Sentinel{PID: 1234, Start: 98765})

			So(reg.RemoveSentinel("s"), ShouldBeNil)
			So(reg.RemoveSentinel("s"), ShouldBeNil)

			So(os.WriteFile(filepath.Join(dir, "s", SentinelFile), []byte("junk"), 0644), ShouldBeNil)
			sn, ok, err = reg.ReadSentinel("s")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(sn.PID, ShouldEqual, 0)

			So(os.WriteFile(filepath.Join(dir, "s", SentinelFile), []byte("77 notanumber\n"), 0644), ShouldBeNil)
			sn, _, err = reg.ReadSentinel("s")
			So(err, ShouldBeNil)
			So(sn, ShouldResemble, Sentinel{PID: 77})
		})

		Convey("Bad names are refused", func() {
			_, err := reg.Create("../escape", "node index.js")
			So(errors.Is(err, ErrBadName), ShouldBeTrue)
		})
	})

	Convey("A registry needs a directory", t, func() {
		_, err := NewRegistry("", 3000, 4000)
		So(errors.Is(err, ErrStorage), ShouldBeTrue)
	})
}
