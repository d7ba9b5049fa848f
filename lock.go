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
	"sync"

	"github.com/gofrs/flock"
)

// botLocks hands out per-bot mutual exclusion.  Goroutines in this process
// queue on a mutex; a file lock under the storage root keeps a second
// panel using the same root out as well.  Entries live only while someone
// holds or waits for them.
type botLocks struct {
	reg  *Registry
	mx   sync.Mutex
	bots map[string]*botLock
}

type botLock struct {
	mx   sync.Mutex
	refs int
}

func newBotLocks(reg *Registry) *botLocks {
	return &botLocks{reg: reg, bots: make(map[string]*botLock)}
}

func (l *botLocks) acquire(name string) *botLock {
	l.mx.Lock()
	defer l.mx.Unlock()
	bl, ok := l.bots[name]
	if !ok {
		bl = &botLock{}
		l.bots[name] = bl
	}
	bl.refs++
	return bl
}

func (l *botLocks) release(name string, bl *botLock) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if bl.refs--; bl.refs == 0 {
		delete(l.bots, name)
	}
}

// lock blocks until the named bot is exclusively ours.  The returned
// function releases it and must be called exactly once.
func (l *botLocks) lock(name string) (func(), error) {
	bl := l.acquire(name)
	bl.mx.Lock()
	fl, err := l.lockFile(name)
	if err != nil {
		bl.mx.Unlock()
		l.release(name, bl)
		return nil, storageError(err, "lock bot %s", name)
	}
	return func() {
		_ = fl.Unlock()
		bl.mx.Unlock()
		l.release(name, bl)
	}, nil
}

// lockFile takes the file lock.  The file may be unlinked by a delete
// while we wait on it, in which case we try again on the new file.
func (l *botLocks) lockFile(name string) (*flock.Flock, error) {
	path := l.reg.lockPath(name)
	for {
		fl := flock.New(path)
		if err := fl.Lock(); err != nil {
			return nil, err
		}
		held, err := fl.Stat()
		if err != nil {
			_ = fl.Unlock()
			return nil, err
		}
		cur, err := os.Stat(path)
		if err == nil && os.SameFile(held, cur) {
			return fl, nil
		}
		_ = fl.Unlock()
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
}

// forget removes the named bot's lock file.  Call it with the lock held,
// once the bot itself is gone.
func (l *botLocks) forget(name string) error {
	err := os.Remove(l.reg.lockPath(name))
	if os.IsNotExist(err) {
		return nil
	}
	return storageError(err, "remove lock %s", name)
}
