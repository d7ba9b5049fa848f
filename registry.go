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
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// File names inside a bot's directory.
const (
	DescriptorFile = "bot-config.json"
	SentinelFile   = "bot.pid"
	LogFile        = "logs.txt"
)

const (
	lockDirName     = ".locks"
	tempFilePattern = ".bot-config-*.json.tmp"
	descriptorMode  = 0o644
	botDirMode      = 0o755
	portAttempts    = 32
)

// Registry keeps one directory per bot under a storage root.  It only
// deals with what is on disk; it never looks at processes.  All methods
// are safe to call concurrently for different bots, but callers must
// serialize access to a single bot (see Manager).
type Registry struct {
	root    string
	portMin int
	portMax int
}

// NewRegistry opens (creating if needed) a registry rooted at dir.  Ports
// handed out to new bots are drawn from [portMin, portMax).
func NewRegistry(dir string, portMin, portMax int) (*Registry, error) {
	if dir == "" {
		return nil, errors.Wrap(ErrStorage, "storage directory is empty")
	}
	if portMax <= portMin {
		return nil, errors.Errorf("bad port range [%d, %d)", portMin, portMax)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, storageError(err, "resolve %s", dir)
	}
	if err := os.MkdirAll(filepath.Join(abs, lockDirName), botDirMode); err != nil {
		return nil, storageError(err, "create %s", abs)
	}
	return &Registry{root: abs, portMin: portMin, portMax: portMax}, nil
}

// Root returns the absolute storage root.
func (r *Registry) Root() string {
	return r.root
}

// Dir returns the directory of the named bot.  It does not check that
// the bot exists.
func (r *Registry) Dir(name string) string {
	return filepath.Join(r.root, name)
}

func (r *Registry) path(name, file string) string {
	return filepath.Join(r.root, name, file)
}

func (r *Registry) lockPath(name string) string {
	return filepath.Join(r.root, lockDirName, name+".lock")
}

// ValidName checks that name can be used as a bot directory: a single,
// non-hidden path element.
func ValidName(name string) error {
	switch {
	case name == "", len(name) > 255:
	case strings.HasPrefix(name, "."):
	case strings.ContainsAny(name, "/\\\x00"):
	case filepath.Base(name) != name:
	default:
		return nil
	}
	return errors.Wrapf(ErrBadName, "%q", name)
}

// Exists reports whether the bot's directory is present.
func (r *Registry) Exists(name string) (bool, error) {
	fi, err := os.Stat(r.Dir(name))
	switch {
	case err == nil:
		return fi.IsDir(), nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, storageError(err, "stat bot %s", name)
	}
}

// Scan returns the descriptor of every bot, without reconciliation.  A
// bot directory that has no descriptor yields a stopped default.
func (r *Registry) Scan() ([]Descriptor, error) {
	ents, err := os.ReadDir(r.root)
	if err != nil {
		return nil, storageError(err, "read %s", r.root)
	}
	rv := make([]Descriptor, 0, len(ents))
	for _, ent := range ents {
		if !ent.IsDir() || strings.HasPrefix(ent.Name(), ".") {
			continue
		}
		d, err := r.Read(ent.Name())
		if errors.Is(err, ErrNotFound) {
			d = Descriptor{Name: ent.Name(), Status: StatusStopped}
			if fi, e := ent.Info(); e == nil {
				d.CreatedAt = fi.ModTime().UTC()
			}
		} else if err != nil {
			return nil, err
		}
		rv = append(rv, d)
	}
	return rv, nil
}

// Read loads the named descriptor as stored, without reconciliation.
func (r *Registry) Read(name string) (Descriptor, error) {
	b, err := os.ReadFile(r.path(name, DescriptorFile))
	if os.IsNotExist(err) {
		return Descriptor{}, errors.Wrapf(ErrNotFound, "%s", name)
	} else if err != nil {
		return Descriptor{}, storageError(err, "read descriptor %s", name)
	}
	d, err := decodeDescriptor(b)
	if err != nil {
		return Descriptor{}, storageError(err, "decode descriptor %s", name)
	}
	// The directory name is the identity, whatever the file says.
	d.Name = name
	if d.Status == "" {
		d.Status = StatusStopped
	}
	return d, nil
}

// Create makes the bot directory and writes its initial descriptor.
func (r *Registry) Create(name, command string) (Descriptor, error) {
	if err := ValidName(name); err != nil {
		return Descriptor{}, err
	}
	port := r.pickPort()
	if err := os.Mkdir(r.Dir(name), botDirMode); os.IsExist(err) {
		return Descriptor{}, errors.Wrapf(ErrAlreadyExists, "%s", name)
	} else if err != nil {
		return Descriptor{}, storageError(err, "create bot %s", name)
	}
	d := Descriptor{
		Name:           name,
		Status:         StatusStopped,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
		StartupCommand: command,
		Port:           port,
	}
	if err := r.Save(d); err != nil {
		_ = os.RemoveAll(r.Dir(name))
		return Descriptor{}, err
	}
	return d, nil
}

// pickPort draws a random port, preferring one that no other bot has.
// Ports are advisory, so a collision is tolerated when the range is full.
func (r *Registry) pickPort() int {
	used := map[int]bool{}
	if all, err := r.Scan(); err == nil {
		for _, d := range all {
			used[d.Port] = true
		}
	}
	port := r.portMin + rand.IntN(r.portMax-r.portMin)
	for i := 0; i < portAttempts && used[port]; i++ {
		port = r.portMin + rand.IntN(r.portMax-r.portMin)
	}
	return port
}

// Save replaces the descriptor file.  The new content is written to a
// temporary file in the same directory and renamed into place, so readers
// see either the old or the new descriptor.
func (r *Registry) Save(d Descriptor) error {
	if err := ValidName(d.Name); err != nil {
		return err
	}
	dir := r.Dir(d.Name)
	if ok, err := r.Exists(d.Name); err != nil {
		return err
	} else if !ok {
		return errors.Wrapf(ErrNotFound, "%s", d.Name)
	}
	b, err := d.encode()
	if err != nil {
		return storageError(err, "encode descriptor %s", d.Name)
	}

	tmp, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return storageError(err, "create temp descriptor %s", d.Name)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return storageError(err, "write temp descriptor %s", d.Name)
	}
	if err := tmp.Chmod(descriptorMode); err != nil {
		_ = tmp.Close()
		return storageError(err, "chmod temp descriptor %s", d.Name)
	}
	if err := tmp.Close(); err != nil {
		return storageError(err, "close temp descriptor %s", d.Name)
	}
	if err := os.Rename(tmpName, r.path(d.Name, DescriptorFile)); err != nil {
		return storageError(err, "replace descriptor %s", d.Name)
	}
	cleanup = false
	return nil
}

// Remove deletes the bot's directory and everything below it.
func (r *Registry) Remove(name string) error {
	if ok, err := r.Exists(name); err != nil {
		return err
	} else if !ok {
		return errors.Wrapf(ErrNotFound, "%s", name)
	}
	if err := os.RemoveAll(r.Dir(name)); err != nil {
		return storageError(err, "remove bot %s", name)
	}
	return nil
}

// Sentinel is the content of a bot's SentinelFile: the process id, and
// the process start time when it was known at launch.  The file holds
// "<pid> <start>", or just "<pid>".
type Sentinel struct {
	PID   int
	Start uint64
}

func (s Sentinel) String() string {
	if s.Start == 0 {
		return strconv.Itoa(s.PID)
	}
	return strconv.Itoa(s.PID) + " " + strconv.FormatUint(s.Start, 10)
}

func parseSentinel(b []byte) Sentinel {
	var s Sentinel
	f := strings.Fields(string(b))
	if len(f) == 0 {
		return s
	}
	if pid, err := strconv.Atoi(f[0]); err == nil && pid > 0 {
		s.PID = pid
	}
	if len(f) > 1 {
		if st, err := strconv.ParseUint(f[1], 10, 64); err == nil {
			s.Start = st
		}
	}
	return s
}

// ReadSentinel returns what is recorded of the bot's live process.  The
// boolean is false when no sentinel file exists.  A sentinel whose pid is
// not a positive number reports pid 0.
func (r *Registry) ReadSentinel(name string) (Sentinel, bool, error) {
	b, err := os.ReadFile(r.path(name, SentinelFile))
	if os.IsNotExist(err) {
		return Sentinel{}, false, nil
	} else if err != nil {
		return Sentinel{}, false, storageError(err, "read sentinel %s", name)
	}
	return parseSentinel(b), true, nil
}

// WriteSentinel records s as the bot's live process.
func (r *Registry) WriteSentinel(name string, s Sentinel) error {
	err := os.WriteFile(r.path(name, SentinelFile), []byte(s.String()), descriptorMode)
	return storageError(err, "write sentinel %s", name)
}

// RemoveSentinel deletes the sentinel file, if any.
func (r *Registry) RemoveSentinel(name string) error {
	err := os.Remove(r.path(name, SentinelFile))
	if os.IsNotExist(err) {
		return nil
	}
	return storageError(err, "remove sentinel %s", name)
}
