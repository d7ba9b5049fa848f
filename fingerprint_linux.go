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
	"strconv"
	"strings"
)

// inspectProcess reads /proc/<pid>/stat.  The command name may contain
// spaces or parentheses, so fields are counted from the last ')'.
func inspectProcess(pid int) (procState, bool) {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return procState{}, false
	}
	s := string(b)
	i := strings.LastIndexByte(s, ')')
	if i < 0 {
		return procState{}, false
	}
	// After the command: state is field 3 and starttime field 22.
	f := strings.Fields(s[i+1:])
	if len(f) < 20 {
		return procState{}, false
	}
	start, err := strconv.ParseUint(f[19], 10, 64)
	if err != nil {
		return procState{}, false
	}
	return procState{start: start, zombie: f[0] == "Z" || f[0] == "X"}, true
}
