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
	"archive/zip"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Extract unpacks a zip archive into dir, keeping the relative paths of
// its entries.  Entries that would land outside dir, and symbolic links,
// are refused.  Any failure is reported as ErrExtractionFailed; files
// written before the failure are left in place.
func Extract(r io.ReaderAt, size int64, dir string) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return errors.Wrapf(ErrExtractionFailed, "%v", err)
	}
	for _, f := range zr.File {
		if err := extractFile(f, dir); err != nil {
			return errors.Wrapf(ErrExtractionFailed, "%s: %v", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, dir string) error {
	name := filepath.FromSlash(f.Name)
	if !filepath.IsLocal(name) {
		return errors.New("path escapes target directory")
	}
	target := filepath.Join(dir, name)
	mode := f.Mode()

	switch {
	case mode&os.ModeSymlink != 0:
		return errors.New("symbolic links are not supported")
	case mode.IsDir():
		return os.MkdirAll(target, botDirMode)
	}

	if err := os.MkdirAll(filepath.Dir(target), botDirMode); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	perm := mode.Perm() | 0o600
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}
