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
	"archive/zip"
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// testLog sends log output to the test, until the test is over.
type testLog struct {
	t    *testing.T
	mx   sync.Mutex
	done bool
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	tl.mx.Lock()
	defer tl.mx.Unlock()
	if !tl.done {
		tl.t.Log(strings.Trim(string(p), "\n"))
	}
	return len(p), nil
}

func testLogger(t *testing.T) logrus.FieldLogger {
	tl := &testLog{t: t}
	t.Cleanup(func() {
		tl.mx.Lock()
		tl.done = true
		tl.mx.Unlock()
	})
	l := logrus.New()
	l.SetOutput(tl)
	l.SetLevel(logrus.DebugLevel)
	return l
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	if cfg.StorageDir == "" {
		cfg.StorageDir = t.TempDir()
	}
	if cfg.Name == "" {
		cfg.Name = t.Name()
	}
	if cfg.StopTime == 0 {
		cfg.StopTime = 2 * time.Second
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.SetLogger(testLogger(t))
	t.Cleanup(func() {
		// Leave no processes behind.
		bots, _ := m.Bots()
		for _, b := range bots {
			if b.Running() {
				_, _ = m.Stop(context.Background(), b.Name)
			}
		}
	})
	return m
}

type zipEntry struct {
	name string
	body string
	mode uint32
}

func zipBytes(t *testing.T, entries ...zipEntry) []byte {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		if e.mode != 0 {
			hdr.SetMode(os.FileMode(e.mode))
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("zip %s: %v", e.name, err)
		}
		if _, err := w.Write([]byte(e.body)); err != nil {
			t.Fatalf("zip %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// deploy creates a bot from the given files.
func deploy(t *testing.T, m *Manager, name, command string, entries ...zipEntry) Descriptor {
	if len(entries) == 0 {
		entries = []zipEntry{{name: "index.js", body: "console.log('hi')\n"}}
	}
	b := zipBytes(t, entries...)
	d, err := m.Deploy(name, command, bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatalf("deploy %s: %v", name, err)
	}
	return d
}

// eventually polls cond until it holds or the time is up.
func eventually(d time.Duration, cond func() bool) bool {
	end := time.Now().Add(d)
	for time.Now().Before(end) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}
