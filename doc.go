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

// Package botvisor manages "bots": programs uploaded as zip archives,
// each kept in a directory of its own under a storage root, and run as
// child processes of the panel.
//
// The pieces are small.  A Registry owns the on-disk layout and the
// descriptor of every bot.  A Controller starts and stops processes, and
// records the process id and start time of a running bot in a sentinel
// file, so that a restarted panel can find its bots again.  A LogSink
// captures the output of each process into the bot's log file.  The
// capture runs through pipes held by the panel, so a bot that writes
// output does not survive the panel's exit; a silent one does.  A Reconciler compares
// what the registry believes against what the operating system reports,
// and repairs the registry when a process has gone away behind our back.
//
// Applications normally use a Manager, which ties these together and
// serializes the operations done to any one bot.  It also keeps a short
// EventLog of what it did, which clients can watch.  The rest package wraps
// a Manager in an http.Handler.
//
// Only POSIX systems are supported.
package botvisor
