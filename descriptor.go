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
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Status is the lifecycle state recorded for a bot.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
)

// Descriptor is the persisted record for a bot.  It lives in the bot's
// directory as DescriptorFile.  Keys that are not fields of the struct
// (added through config updates) are kept and written back unchanged.
type Descriptor struct {
	Name           string     `json:"name"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartupCommand string     `json:"startupCommand"`
	Port           int        `json:"port"`
	PID            int        `json:"pid,omitempty"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	ProcessStart   uint64     `json:"processStart,omitempty"`

	extra map[string]json.RawMessage
}

// descriptorFields is the JSON shape of the struct fields, without the
// custom marshalling methods.
type descriptorFields Descriptor

var knownKeys = map[string]bool{
	"name":           true,
	"status":         true,
	"createdAt":      true,
	"startupCommand": true,
	"port":           true,
	"pid":            true,
	"startedAt":      true,
	"processStart":   true,
}

// Keys a config update may not change; the registry and the process
// controller own them.
var protectedKeys = map[string]bool{
	"name":         true,
	"status":       true,
	"pid":          true,
	"startedAt":    true,
	"processStart": true,
}

func (d Descriptor) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(descriptorFields(d))
	if err != nil || len(d.extra) == 0 {
		return b, err
	}
	m := make(map[string]json.RawMessage, len(knownKeys)+len(d.extra))
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range d.extra {
		m[k] = v
	}
	return json.Marshal(m)
}

func (d *Descriptor) UnmarshalJSON(b []byte) error {
	var f descriptorFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*d = Descriptor(f)
	d.extra = nil
	for k, v := range m {
		if knownKeys[k] {
			continue
		}
		if d.extra == nil {
			d.extra = make(map[string]json.RawMessage)
		}
		d.extra[k] = v
	}
	return nil
}

// Running reports whether the descriptor was last written as running.
func (d Descriptor) Running() bool {
	return d.Status == StatusRunning
}

// Extra returns the raw value of a key that is not a descriptor field.
func (d Descriptor) Extra(key string) (json.RawMessage, bool) {
	v, ok := d.extra[key]
	return v, ok
}

// Clone returns a copy that shares no mutable state with d.
func (d Descriptor) Clone() Descriptor {
	c := d
	if d.StartedAt != nil {
		t := *d.StartedAt
		c.StartedAt = &t
	}
	if d.extra != nil {
		c.extra = make(map[string]json.RawMessage, len(d.extra))
		for k, v := range d.extra {
			c.extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return c
}

// Merge returns a copy of d with the supplied top-level keys overlaid, the
// way a shallow object spread would.  Protected keys are ignored.  A value
// whose type does not fit the field it targets yields ErrBadConfig.
func (d Descriptor) Merge(patch map[string]json.RawMessage) (Descriptor, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return d, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return d, err
	}
	for k, v := range patch {
		if protectedKeys[k] {
			continue
		}
		m[k] = v
	}
	if b, err = json.Marshal(m); err != nil {
		return d, err
	}
	var nd Descriptor
	if err := json.Unmarshal(b, &nd); err != nil {
		return d, errors.Wrapf(ErrBadConfig, "%v", err)
	}
	return nd, nil
}

func (d Descriptor) encode() ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, b, "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func decodeDescriptor(b []byte) (Descriptor, error) {
	var d Descriptor
	err := json.Unmarshal(b, &d)
	return d, err
}

// stopped clears every trace of a process from the descriptor.
func (d *Descriptor) stopped() {
	d.Status = StatusStopped
	d.PID = 0
	d.ProcessStart = 0
	d.StartedAt = nil
}
