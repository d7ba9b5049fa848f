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
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Liveness is the outcome of probing a recorded process id.
type Liveness int

const (
	Gone    Liveness = iota // no such process (or only a zombie)
	Alive                   // exists, and is the process we started
	Foreign                 // exists, but we may not signal it
	Reused                  // exists, but started at a different time
)

func (l Liveness) String() string {
	switch l {
	case Alive:
		return "alive"
	case Foreign:
		return "foreign"
	case Reused:
		return "reused"
	default:
		return "gone"
	}
}

// Probe checks whether pid still names the process we launched.  A zero
// signal tests existence; fingerprint, when non-zero, is the start time
// recorded at launch and guards against the kernel recycling the id.
func Probe(pid int, fingerprint uint64) Liveness {
	if pid <= 0 {
		return Gone
	}
	if err := unix.Kill(pid, 0); err != nil {
		if errors.Is(err, unix.EPERM) {
			return Foreign
		}
		return Gone
	}
	st, ok := inspectProcess(pid)
	if !ok {
		return Alive
	}
	if st.zombie {
		return Gone
	}
	if fingerprint != 0 && st.start != fingerprint {
		return Reused
	}
	return Alive
}

// Fingerprint returns the start time of pid as reported by the OS, or 0
// where that is not available.
func Fingerprint(pid int) uint64 {
	if st, ok := inspectProcess(pid); ok {
		return st.start
	}
	return 0
}

type procState struct {
	start  uint64
	zombie bool
}
