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

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gdamore/botvisor"
)

func testFlags(args ...string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("botvisord", pflag.ContinueOnError)
	addFlags(fs)
	if err := fs.Parse(args); err != nil {
		panic(err)
	}
	return fs
}

func TestLoadConfig(t *testing.T) {
	Convey("Defaults apply with nothing set", t, func() {
		c, err := loadConfig(viper.New(), testFlags())
		So(err, ShouldBeNil)
		So(c.Listen, ShouldEqual, ":3000")
		So(c.StorageDir, ShouldEqual, "bots")
		So(c.PublicDir, ShouldEqual, "public")
		So(c.StopTimeout, ShouldEqual, botvisor.DefaultStopTime)
		So(c.PortMin, ShouldEqual, botvisor.DefaultPortMin)
		So(c.PortMax, ShouldEqual, botvisor.DefaultPortMax)
		So(c.DefaultCommand, ShouldEqual, botvisor.DefaultCommand)

		mc := c.managerConfig()
		So(mc.StorageDir, ShouldEqual, "bots")
		So(mc.StopTime, ShouldEqual, botvisor.DefaultStopTime)
	})

	Convey("Given a config file", t, func() {
		file := filepath.Join(t.TempDir(), "botvisor.yaml")
		So(os.WriteFile(file, []byte(
			"listen: 127.0.0.1:9000\n"+
				"storage_dir: /srv/bots\n"+
				"stop_timeout: 3s\n"+
				"port_min: 5000\n"+
				"port_max: 5100\n"+
				"default_command: python3 main.py\n"), 0644), ShouldBeNil)

		Convey("Its values are used", func() {
			c, err := loadConfig(viper.New(), testFlags("--config", file))
			So(err, ShouldBeNil)
			So(c.Listen, ShouldEqual, "127.0.0.1:9000")
			So(c.StorageDir, ShouldEqual, "/srv/bots")
			So(c.StopTimeout, ShouldEqual, 3*time.Second)
			So(c.PortMin, ShouldEqual, 5000)
			So(c.DefaultCommand, ShouldEqual, "python3 main.py")
		})

		Convey("The environment overrides it", func() {
			t.Setenv("BOTVISOR_LISTEN", ":7000")
			t.Setenv("BOTVISOR_MAX_CONNECTIONS", "5")
			c, err := loadConfig(viper.New(), testFlags("--config", file))
			So(err, ShouldBeNil)
			So(c.Listen, ShouldEqual, ":7000")
			So(c.MaxConnections, ShouldEqual, 5)
			So(c.StorageDir, ShouldEqual, "/srv/bots")
		})

		Convey("Flags override everything", func() {
			t.Setenv("BOTVISOR_LISTEN", ":7000")
			c, err := loadConfig(viper.New(), testFlags("--config", file, "-a", ":8000", "--storage-dir", "here"))
			So(err, ShouldBeNil)
			So(c.Listen, ShouldEqual, ":8000")
			So(c.StorageDir, ShouldEqual, "here")
		})
	})

	Convey("A zero stop timeout means no waiting", t, func() {
		c, err := loadConfig(viper.New(), testFlags("--stop-timeout", "0s"))
		So(err, ShouldBeNil)
		So(c.StopTimeout, ShouldEqual, time.Duration(0))
		So(c.managerConfig().StopTime, ShouldBeLessThan, time.Duration(0))

		t.Setenv("BOTVISOR_STOP_TIMEOUT", "0s")
		c, err = loadConfig(viper.New(), testFlags())
		So(err, ShouldBeNil)
		So(c.managerConfig().StopTime, ShouldBeLessThan, time.Duration(0))
	})

	Convey("Bad settings are refused", t, func() {
		_, err := loadConfig(viper.New(), testFlags("--port-min", "4000", "--port-max", "3000"))
		So(err, ShouldNotBeNil)

		_, err = loadConfig(viper.New(), testFlags("--storage-dir", ""))
		So(err, ShouldNotBeNil)
	})
}

func TestNewLogger(t *testing.T) {
	Convey("The daemon logger", t, func() {
		l, c, err := newLogger("debug", "")
		So(err, ShouldBeNil)
		So(l.GetLevel().String(), ShouldEqual, "debug")
		So(c.Close(), ShouldBeNil)

		_, _, err = newLogger("loud", "")
		So(err, ShouldNotBeNil)

		Convey("Can also write to a file", func() {
			file := filepath.Join(t.TempDir(), "logs", "botvisord.log")
			l, c, err := newLogger("info", file)
			So(err, ShouldBeNil)
			l.Info("hello file")
			So(c.Close(), ShouldBeNil)
			b, err := os.ReadFile(file)
			So(err, ShouldBeNil)
			So(string(b), ShouldContainSubstring, "hello file")
		})
	})
}
