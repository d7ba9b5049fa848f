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
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	// DefaultStopTime is how long Stop waits after SIGTERM before it
	// escalates to SIGKILL.
	DefaultStopTime = 10 * time.Second

	killGrace    = 2 * time.Second
	pollInterval = 100 * time.Millisecond
)

// Controller maps bots to operating system processes.  It keeps nothing
// in memory: the sentinel file in the bot directory is the record of a
// live process, so a restarted controller picks up where it left off.
//
// Each bot runs in its own process group, with its working directory set
// to the bot directory.  Callers must hold the bot's lock.
type Controller struct {
	reg  *Registry
	sink *LogSink

	// StopTime bounds the wait for a clean exit.  Zero or less sends
	// SIGTERM and returns at once.
	StopTime time.Duration

	signal func(pid int, sig unix.Signal) error
	logger logrus.FieldLogger
}

func NewController(reg *Registry, sink *LogSink) *Controller {
	return &Controller{
		reg:      reg,
		sink:     sink,
		StopTime: DefaultStopTime,
		signal:   signalGroup,
		logger:   logrus.StandardLogger(),
	}
}

func (c *Controller) SetLogger(l logrus.FieldLogger) {
	c.logger = l
}

// Probe reports whether pid is still the process we started.
func (c *Controller) Probe(pid int, fingerprint uint64) Liveness {
	return Probe(pid, fingerprint)
}

// fingerprintFor returns the recorded start time if it belongs to pid.
func fingerprintFor(d Descriptor, pid int) uint64 {
	if d.PID == pid {
		return d.ProcessStart
	}
	return 0
}

// fingerprint returns the start time to probe the sentinel's pid with,
// preferring the one written alongside it.
func (s Sentinel) fingerprint(d Descriptor) uint64 {
	if s.Start != 0 {
		return s.Start
	}
	return fingerprintFor(d, s.PID)
}

// Start launches the bot's startup command and records the new process.
// The command is split on whitespace; it is not otherwise interpreted.
func (c *Controller) Start(d Descriptor) (Descriptor, error) {
	args := strings.Fields(d.StartupCommand)
	if len(args) == 0 {
		return d, errors.Wrapf(ErrInvalidCommand, "%s", d.Name)
	}
	if sn, ok, err := c.reg.ReadSentinel(d.Name); err != nil {
		return d, err
	} else if ok && Probe(sn.PID, sn.fingerprint(d)) == Alive {
		return d, errors.Wrapf(ErrAlreadyRunning, "%s (pid %d)", d.Name, sn.PID)
	}

	blog, err := c.sink.Open(d.Name)
	if err != nil {
		return d, err
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		_ = blog.Close()
		return d, errors.Wrapf(ErrSpawnFailed, "capture stdout: %v", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = blog.Close()
		closeAll(outR, outW)
		return d, errors.Wrapf(ErrSpawnFailed, "capture stderr: %v", err)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = c.reg.Dir(d.Name)
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	e := cmd.Start()
	// The child holds its own copies of the write ends.
	closeAll(outW, errW)
	if e != nil {
		_ = blog.Close()
		closeAll(outR, errR)
		return d, errors.Wrapf(ErrSpawnFailed, "%s: %v", args[0], e)
	}

	pid := cmd.Process.Pid
	log := c.logger.WithFields(logrus.Fields{"bot": d.Name, "pid": pid})
	done := blog.Attach(outR, errR)
	go c.doWait(log, cmd, blog, done, outR, errR)

	now := time.Now().UTC().Truncate(time.Millisecond)
	nd := d.Clone()
	nd.Status = StatusRunning
	nd.PID = pid
	nd.StartedAt = &now
	nd.ProcessStart = Fingerprint(pid)

	// The sentinel goes first; a crash before the save leaves a
	// sentinel the reconciler can adopt by its start time.
	err = c.reg.WriteSentinel(d.Name, Sentinel{PID: pid, Start: nd.ProcessStart})
	if err == nil {
		err = c.reg.Save(nd)
	}
	if err != nil {
		log.WithError(err).Error("Failed recording process, killing it")
		_ = c.signal(pid, unix.SIGKILL)
		_ = c.reg.RemoveSentinel(d.Name)
		return d, err
	}
	log.Infof("Started: %s", d.StartupCommand)
	return nd, nil
}

// doWait reaps the process as soon as it exits, so that probes stop
// seeing it, and then drains what is left of its output.  It does not
// touch the descriptor; reconciliation takes care of that.
func (c *Controller) doWait(log logrus.FieldLogger, cmd *exec.Cmd, blog *BotLog, done <-chan struct{}, pipes ...*os.File) {
	e := cmd.Wait()
	<-done
	closeAll(pipes...)
	if e != nil {
		log.Infof("Exited: %v", e)
		blog.Note(fmt.Sprintf("process %d exited: %v", cmd.Process.Pid, e))
	} else {
		log.Info("Exited")
		blog.Note(fmt.Sprintf("process %d exited", cmd.Process.Pid))
	}
	if err := blog.Close(); err != nil {
		log.WithError(err).Warn("Failed closing log")
	}
}

// Stop terminates the bot's process and clears the record of it.  A
// process that is already gone, or that we are not permitted to signal,
// counts as stopped.  If the process outlives SIGKILL, or cannot be
// signalled while still ours, the record is kept and ErrStillRunning is
// returned.
func (c *Controller) Stop(ctx context.Context, d Descriptor) (Descriptor, error) {
	sn, ok, err := c.reg.ReadSentinel(d.Name)
	if err != nil {
		return d, err
	}
	if !ok {
		return d, errors.Wrapf(ErrNotRunning, "%s", d.Name)
	}
	pid, fp := sn.PID, sn.fingerprint(d)
	log := c.logger.WithFields(logrus.Fields{"bot": d.Name, "pid": pid})

	if Probe(pid, fp) == Alive && !c.terminate(ctx, log, pid, fp) {
		return d, errors.Wrapf(ErrStillRunning, "%s (pid %d)", d.Name, pid)
	}

	nd := d.Clone()
	nd.stopped()
	if err := c.reg.RemoveSentinel(d.Name); err != nil {
		return d, err
	}
	if err := c.reg.Save(nd); err != nil {
		return d, err
	}
	log.Info("Stopped")
	return nd, nil
}

// terminate sends SIGTERM, then SIGKILL once StopTime has passed, and
// reports whether the process is gone.  With StopTime at zero or less a
// delivered SIGTERM is taken as success.
func (c *Controller) terminate(ctx context.Context, log logrus.FieldLogger, pid int, fp uint64) bool {
	if e := c.signal(pid, unix.SIGTERM); e != nil {
		log.WithError(e).Warn("Failed sending SIGTERM")
		if Probe(pid, fp) != Alive {
			return true
		}
	} else if c.StopTime <= 0 || c.waitExit(ctx, pid, fp, c.StopTime) {
		return true
	} else {
		log.Warn("Graceful shutdown timed out")
	}
	if e := c.signal(pid, unix.SIGKILL); e != nil {
		log.WithError(e).Warn("Failed killing")
	}
	return c.waitExit(context.Background(), pid, fp, killGrace)
}

// waitExit polls until the process is gone, the duration passes, or ctx
// is done.  It reports whether the process is gone.
func (c *Controller) waitExit(ctx context.Context, pid int, fp uint64, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for {
		if Probe(pid, fp) != Alive {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return Probe(pid, fp) != Alive
		case <-tick.C:
		}
	}
}

// signalGroup signals the process group led by pid, falling back to the
// process alone if it has left its group.
func signalGroup(pid int, sig unix.Signal) error {
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	return unix.Kill(pid, sig)
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
