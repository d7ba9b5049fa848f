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
	"time"

	"github.com/sirupsen/logrus"
)

// ProbeFunc tells whether a recorded process is still ours.
type ProbeFunc func(pid int, fingerprint uint64) Liveness

// Reconciler brings a descriptor's status in line with what the operating
// system says.  It holds no state of its own.  Note that reconciling
// writes: a stale descriptor is rewritten and a stale sentinel removed.
type Reconciler struct {
	reg    *Registry
	probe  ProbeFunc
	logger logrus.FieldLogger
}

func NewReconciler(reg *Registry, probe ProbeFunc) *Reconciler {
	if probe == nil {
		probe = Probe
	}
	return &Reconciler{reg: reg, probe: probe, logger: logrus.StandardLogger()}
}

func (r *Reconciler) SetLogger(l logrus.FieldLogger) {
	r.logger = l
}

// Reconcile returns d corrected against the sentinel file and a liveness
// probe, and whether anything had to be repaired on disk.
//
// A running descriptor is demoted to stopped when its sentinel is missing
// or its process is no longer ours.  A sentinel left next to a stopped
// descriptor is what a crash between writing the sentinel and saving the
// descriptor leaves behind: if it carries a start time and that process
// is alive, the descriptor is promoted back to running.  Otherwise the
// sentinel is removed, since a bare pid may have been reused by anyone.
// The caller must hold the bot's lock.
func (r *Reconciler) Reconcile(d Descriptor) (Descriptor, bool, error) {
	sn, ok, err := r.reg.ReadSentinel(d.Name)
	if err != nil {
		return d, false, err
	}
	log := r.logger.WithFields(logrus.Fields{"bot": d.Name, "pid": sn.PID})

	if !d.Running() {
		if !ok {
			return d, false, nil
		}
		if sn.Start != 0 {
			if live := r.probe(sn.PID, sn.Start); live == Alive {
				log.Info("Adopting process from sentinel")
				nd := d.Clone()
				nd.Status = StatusRunning
				nd.PID = sn.PID
				nd.ProcessStart = sn.Start
				if nd.StartedAt == nil {
					now := time.Now().UTC().Truncate(time.Millisecond)
					nd.StartedAt = &now
				}
				if err := r.reg.Save(nd); err != nil {
					return d, false, err
				}
				return nd, true, nil
			}
		}
		log.Info("Removing stale sentinel")
		return d, true, r.reg.RemoveSentinel(d.Name)
	}

	if ok {
		fp := sn.fingerprint(d)
		live := r.probe(sn.PID, fp)
		if live == Alive {
			if d.PID == sn.PID && (fp == 0 || d.ProcessStart == fp) {
				return d, false, nil
			}
			// The sentinel is the record of truth.
			nd := d.Clone()
			nd.PID = sn.PID
			nd.ProcessStart = fp
			if fp == 0 {
				nd.ProcessStart = Fingerprint(sn.PID)
			}
			if err := r.reg.Save(nd); err != nil {
				return d, false, err
			}
			return nd, true, nil
		}
		log.WithField("probe", live).Info("Process gone, marking stopped")
		if err := r.reg.RemoveSentinel(d.Name); err != nil {
			return d, false, err
		}
	} else {
		log.Info("No sentinel, marking stopped")
	}
	nd := d.Clone()
	nd.stopped()
	if err := r.reg.Save(nd); err != nil {
		return d, false, err
	}
	return nd, true, nil
}
