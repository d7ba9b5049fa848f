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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultCommand = "node index.js"
	DefaultPortMin = 3000
	DefaultPortMax = 4000
)

// Config carries the settings of a Manager.  Zero values select defaults.
type Config struct {
	Name           string        // Instance name, for logs
	StorageDir     string        // Root holding one directory per bot
	DefaultCommand string        // Used when a deploy names no command
	StopTime       time.Duration // Grace period before SIGKILL; 0 is DefaultStopTime, < 0 disables waiting
	PortMin        int           // Advisory port range, inclusive
	PortMax        int           // Advisory port range, exclusive
	LogMaxSizeMB   int           // Rotate bot logs at this size; 0 never rotates
	LogMaxBackups  int           // Rotated bot logs to keep
}

// Manager is the entry point for everything done to bots.  It serializes
// operations on each bot, and reconciles descriptors against the OS
// whenever they are read through it.
type Manager struct {
	name       string
	cfg        Config
	reg        *Registry
	sink       *LogSink
	ctl        *Controller
	rec        *Reconciler
	locks      *botLocks
	events     *EventLog
	logger     logrus.FieldLogger
	createTime time.Time
}

type ManagerInfo struct {
	Name       string    `json:"name"`
	StorageDir string    `json:"storageDir"`
	CreateTime time.Time `json:"createTime"`
}

// NewManager opens the storage root, creating it if needed.  A failure
// here means the panel cannot work at all.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Name == "" {
		cfg.Name = "botvisor"
	}
	if strings.TrimSpace(cfg.DefaultCommand) == "" {
		cfg.DefaultCommand = DefaultCommand
	}
	if cfg.StopTime == 0 {
		cfg.StopTime = DefaultStopTime
	}
	if cfg.PortMin == 0 && cfg.PortMax == 0 {
		cfg.PortMin, cfg.PortMax = DefaultPortMin, DefaultPortMax
	}
	reg, err := NewRegistry(cfg.StorageDir, cfg.PortMin, cfg.PortMax)
	if err != nil {
		return nil, err
	}
	sink := NewLogSink(reg)
	sink.MaxSizeMB = cfg.LogMaxSizeMB
	sink.MaxBackups = cfg.LogMaxBackups

	ctl := NewController(reg, sink)
	ctl.StopTime = cfg.StopTime

	m := &Manager{
		name:       cfg.Name,
		cfg:        cfg,
		reg:        reg,
		sink:       sink,
		ctl:        ctl,
		rec:        NewReconciler(reg, ctl.Probe),
		locks:      newBotLocks(reg),
		events:     NewEventLog(0),
		createTime: time.Now(),
	}
	m.SetLogger(logrus.StandardLogger())
	return m, nil
}

// SetLogger is used to establish a logger for the manager and the
// components below it.
func (m *Manager) SetLogger(l logrus.FieldLogger) {
	m.logger = l.WithField("manager", m.name)
	m.ctl.SetLogger(m.logger)
	m.rec.SetLogger(m.logger)
}

func (m *Manager) Name() string {
	return m.name
}

func (m *Manager) Registry() *Registry {
	return m.reg
}

// Events returns the log of what the manager has done to bots.
func (m *Manager) Events() *EventLog {
	return m.events
}

func (m *Manager) GetInfo() *ManagerInfo {
	return &ManagerInfo{
		Name:       m.name,
		StorageDir: m.reg.Root(),
		CreateTime: m.createTime,
	}
}

// withBot runs fn while holding the named bot's lock.
func (m *Manager) withBot(name string, fn func() error) error {
	if err := ValidName(name); err != nil {
		return err
	}
	unlock, err := m.locks.lock(name)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// load reads and reconciles; call with the bot's lock held.
func (m *Manager) load(name string) (Descriptor, error) {
	d, err := m.reg.Read(name)
	if err != nil {
		return d, err
	}
	d, _, err = m.reconcile(d)
	return d, err
}

// reconcile runs the reconciler and notes any repair it made.
func (m *Manager) reconcile(d Descriptor) (Descriptor, bool, error) {
	was := d.Status
	nd, changed, err := m.rec.Reconcile(d)
	if err == nil && changed {
		switch {
		case was == nd.Status:
			m.events.Add(d.Name, "record repaired")
		case nd.Running():
			m.events.Add(d.Name, fmt.Sprintf("process found, marked running, pid %d", nd.PID))
		default:
			m.events.Add(d.Name, "process gone, marked "+string(nd.Status))
		}
	}
	return nd, changed, err
}

// Bots returns every bot, reconciled.  Listing is not read-only: stale
// running entries are rewritten as stopped.
func (m *Manager) Bots() ([]Descriptor, error) {
	all, err := m.reg.Scan()
	if err != nil {
		return nil, err
	}
	return m.refresh(all), nil
}

// refresh re-reads and reconciles scanned bots one at a time under their
// locks.  Bots deleted since the scan are dropped.
func (m *Manager) refresh(all []Descriptor) []Descriptor {
	rv := make([]Descriptor, 0, len(all))
	for _, d := range all {
		gone := false
		err := m.withBot(d.Name, func() error {
			// Re-read under the lock, someone may have changed it.
			nd, e := m.reg.Read(d.Name)
			if errors.Is(e, ErrNotFound) {
				ok, e2 := m.reg.Exists(d.Name)
				if e2 != nil {
					return e2
				}
				if !ok {
					gone = true
					return nil
				}
			} else if e != nil {
				return e
			} else {
				d = nd
			}
			d, _, e = m.reconcile(d)
			return e
		})
		if err != nil {
			m.logger.WithField("bot", d.Name).WithError(err).Warn("Failed reconciling")
		}
		if !gone {
			rv = append(rv, d)
		}
	}
	return rv
}

// Bot returns the named bot, reconciled.
func (m *Manager) Bot(name string) (Descriptor, error) {
	var d Descriptor
	err := m.withBot(name, func() (e error) {
		d, e = m.load(name)
		return e
	})
	return d, err
}

// Read returns the named bot as stored, without looking at processes.
func (m *Manager) Read(name string) (Descriptor, error) {
	if err := ValidName(name); err != nil {
		return Descriptor{}, err
	}
	return m.reg.Read(name)
}

// Reconcile checks the named bot against the OS and repairs its record.
// It reports whether a repair was made.
func (m *Manager) Reconcile(name string) (Descriptor, bool, error) {
	var d Descriptor
	var changed bool
	err := m.withBot(name, func() error {
		cur, e := m.reg.Read(name)
		if e != nil {
			return e
		}
		d, changed, e = m.reconcile(cur)
		return e
	})
	return d, changed, err
}

// Deploy creates a bot and unpacks its archive into the bot directory.
// An empty name gets a generated one, an empty command the configured
// default.  If unpacking fails the bot is removed again.
func (m *Manager) Deploy(name, command string, archive io.ReaderAt, size int64) (Descriptor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "bot-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	if strings.TrimSpace(command) == "" {
		command = m.cfg.DefaultCommand
	}
	var d Descriptor
	err := m.withBot(name, func() error {
		var e error
		if d, e = m.reg.Create(name, command); e != nil {
			return e
		}
		e = Extract(archive, size, m.reg.Dir(name))
		if e == nil {
			// The archive may carry files of ours; ours win.
			if e = m.reg.RemoveSentinel(name); e == nil {
				e = m.reg.Save(d)
			}
		}
		if e != nil {
			if re := os.RemoveAll(m.reg.Dir(name)); re != nil {
				m.logger.WithField("bot", name).WithError(re).Warn("Failed removing partial deploy")
			} else {
				_ = m.locks.forget(name)
			}
			return e
		}
		return nil
	})
	if err != nil {
		return Descriptor{}, err
	}
	m.logger.WithFields(logrus.Fields{"bot": name, "port": d.Port}).Info("Deployed")
	m.events.Add(name, "deployed")
	return d, nil
}

// Start launches the named bot.  A bot that is already running yields
// ErrAlreadyRunning, so at most one process per bot is ever recorded.
func (m *Manager) Start(name string) (Descriptor, error) {
	var d Descriptor
	err := m.withBot(name, func() error {
		cur, e := m.load(name)
		if e != nil {
			return e
		}
		if cur.Running() {
			return errors.Wrapf(ErrAlreadyRunning, "%s (pid %d)", name, cur.PID)
		}
		d, e = m.ctl.Start(cur)
		return e
	})
	if err == nil {
		m.events.Add(name, fmt.Sprintf("started, pid %d", d.PID))
	}
	return d, err
}

// Stop terminates the named bot, waiting at most the configured stop
// time (or until ctx is done) before escalating to SIGKILL.
func (m *Manager) Stop(ctx context.Context, name string) (Descriptor, error) {
	var d Descriptor
	err := m.withBot(name, func() error {
		cur, e := m.load(name)
		if e != nil {
			return e
		}
		d, e = m.ctl.Stop(ctx, cur)
		return e
	})
	if err == nil {
		m.events.Add(name, "stopped")
	}
	return d, err
}

// Restart stops the named bot if it runs, then starts it.
func (m *Manager) Restart(ctx context.Context, name string) (Descriptor, error) {
	var d Descriptor
	err := m.withBot(name, func() error {
		cur, e := m.load(name)
		if e != nil {
			return e
		}
		if cur, e = m.ctl.Stop(ctx, cur); e != nil && !errors.Is(e, ErrNotRunning) {
			return e
		}
		d, e = m.ctl.Start(cur)
		return e
	})
	if err == nil {
		m.events.Add(name, fmt.Sprintf("restarted, pid %d", d.PID))
	}
	return d, err
}

// Delete stops the named bot, if it can, and removes its directory.  Not
// being able to stop the process does not prevent the removal.
func (m *Manager) Delete(ctx context.Context, name string) error {
	return m.withBot(name, func() error {
		if ok, e := m.reg.Exists(name); e != nil {
			return e
		} else if !ok {
			return errors.Wrapf(ErrNotFound, "%s", name)
		}
		log := m.logger.WithField("bot", name)
		d, e := m.reg.Read(name)
		if e != nil {
			d = Descriptor{Name: name, Status: StatusStopped}
		}
		if _, e := m.ctl.Stop(ctx, d); e != nil && !errors.Is(e, ErrNotRunning) {
			log.WithError(e).Warn("Failed stopping before delete")
		}
		if e := m.reg.Remove(name); e != nil {
			return e
		}
		if e := m.locks.forget(name); e != nil {
			log.WithError(e).Warn("Failed removing lock file")
		}
		log.Info("Deleted")
		m.events.Add(name, "deleted")
		return nil
	})
}

// Logs returns the named bot's captured output: all of it, or the last
// tail lines when tail is positive.  A bot that has never run yields
// NoLogs.
func (m *Manager) Logs(name string, tail int) (string, error) {
	if err := ValidName(name); err != nil {
		return "", err
	}
	if ok, err := m.reg.Exists(name); err != nil {
		return "", err
	} else if !ok {
		return "", errors.Wrapf(ErrNotFound, "%s", name)
	}
	if tail > 0 {
		return m.sink.Tail(name, tail)
	}
	return m.sink.Read(name)
}

// UpdateConfig overlays the given keys onto the named bot's descriptor
// and saves it.  The merged result is not validated.
func (m *Manager) UpdateConfig(name string, patch map[string]json.RawMessage) (Descriptor, error) {
	var d Descriptor
	err := m.withBot(name, func() error {
		cur, e := m.reg.Read(name)
		if e != nil {
			return e
		}
		if d, e = cur.Merge(patch); e != nil {
			return e
		}
		return m.reg.Save(d)
	})
	if err == nil {
		m.events.Add(name, "config updated")
	}
	return d, err
}
