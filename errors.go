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
)

var (
	ErrNotFound         = errors.New("Bot not found")
	ErrAlreadyExists    = errors.New("Bot already exists")
	ErrBadName          = errors.New("Bad bot name")
	ErrInvalidCommand   = errors.New("Startup command is empty")
	ErrSpawnFailed      = errors.New("Failed to start bot process")
	ErrNotRunning       = errors.New("Bot is not running")
	ErrAlreadyRunning   = errors.New("Bot is already running")
	ErrStillRunning     = errors.New("Bot did not exit after kill")
	ErrExtractionFailed = errors.New("Archive extraction failed")
	ErrStorage          = errors.New("Storage error")
	ErrBadConfig        = errors.New("Bad config value")
)

// storageError classifies a filesystem failure as ErrStorage, keeping the
// underlying message.
func storageError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(ErrStorage, format+": %v", append(args, err)...)
}
