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
	"bufio"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// NoLogs is returned in place of the log of a bot that never wrote one.
	NoLogs = "No logs available"

	logTimeFormat = "2006-01-02T15:04:05.000Z07:00"
	stderrTag     = "ERROR: "
	noteTag       = "PANEL: "
	tailWindow    = 256 * 1024
)

// LogSink stores the output of bot processes in each bot's LogFile.
// With MaxSizeMB set the file is rotated by size, otherwise it only grows.
type LogSink struct {
	reg        *Registry
	MaxSizeMB  int
	MaxBackups int
}

// NewLogSink returns a sink writing below reg's bot directories.
func NewLogSink(reg *Registry) *LogSink {
	return &LogSink{reg: reg}
}

// BotLog is the open log of one running bot.  Every line is stamped with
// the time it was read; stderr lines are tagged so both streams can share
// the file.
type BotLog struct {
	w   io.WriteCloser
	mx  sync.Mutex
	now func() time.Time
}

// Open opens the named bot's log for appending.
func (s *LogSink) Open(name string) (*BotLog, error) {
	path := s.reg.path(name, LogFile)
	var w io.WriteCloser
	if s.MaxSizeMB > 0 {
		w = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    s.MaxSizeMB,
			MaxBackups: s.MaxBackups,
		}
	} else {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, descriptorMode)
		if err != nil {
			return nil, storageError(err, "open log %s", name)
		}
		w = f
	}
	return &BotLog{w: w, now: time.Now}, nil
}

func (l *BotLog) writeLine(tag, line string) {
	ts := l.now().UTC().Format(logTimeFormat)
	l.mx.Lock()
	_, _ = io.WriteString(l.w, "["+ts+"] "+tag+line+"\n")
	l.mx.Unlock()
}

func (l *BotLog) capture(r io.Reader, tag string) {
	// Gather output in chunks of lines
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) != 0 {
			l.writeLine(tag, strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			return
		}
	}
}

// Attach copies both streams into the log until they are closed.  The
// returned channel is closed once both have been drained.
func (l *BotLog) Attach(stdout, stderr io.Reader) <-chan struct{} {
	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, s := range []struct {
		r   io.Reader
		tag string
	}{{stdout, ""}, {stderr, stderrTag}} {
		if s.r == nil {
			continue
		}
		wg.Add(1)
		go func(r io.Reader, tag string) {
			defer wg.Done()
			l.capture(r, tag)
		}(s.r, s.tag)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// Note writes a line of our own, rather than the bot's, into the log.
// It is tagged so it cannot be mistaken for the bot's stdout.
func (l *BotLog) Note(line string) {
	l.writeLine(noteTag, line)
}

func (l *BotLog) Close() error {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.w.Close()
}

// Read returns the whole log of the named bot, or NoLogs.
func (s *LogSink) Read(name string) (string, error) {
	b, err := os.ReadFile(s.reg.path(name, LogFile))
	if os.IsNotExist(err) {
		return NoLogs, nil
	} else if err != nil {
		return "", storageError(err, "read log %s", name)
	}
	return string(b), nil
}

// Tail returns at most the last n lines of the named bot's log, looking
// no further back than the final tailWindow bytes.
func (s *LogSink) Tail(name string, n int) (string, error) {
	if n <= 0 {
		return s.Read(name)
	}
	f, err := os.Open(s.reg.path(name, LogFile))
	if os.IsNotExist(err) {
		return NoLogs, nil
	} else if err != nil {
		return "", storageError(err, "open log %s", name)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", storageError(err, "stat log %s", name)
	}
	start := int64(0)
	if st.Size() > tailWindow {
		start = st.Size() - tailWindow
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return "", storageError(err, "seek log %s", name)
	}

	r := bufio.NewReader(f)
	if start > 0 {
		// Drop the partial first line.
		if _, err := r.ReadString('\n'); err != nil {
			return "", nil
		}
	}
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			lines = append(lines, line)
			if len(lines) > n {
				lines = lines[len(lines)-n:]
			}
		}
		if err == io.EOF {
			break
		} else if err != nil {
			return "", storageError(err, "read log %s", name)
		}
	}
	return strings.Join(lines, ""), nil
}
