// This file is part of Gopher2600.
//
// Gopher2600 is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Gopher2600 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Gopher2600.  If not, see <https://www.gnu.org/licenses/>.

package module

import (
	"debug/elf"
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/dwarfscope/dwarfscope/errors"
)

// fileKey identifies a physical file by (device, inode, ctime), the same
// most-important-shared-resource policy: many modules
// may share the same backing debug-info file, and the cache ensures at most
// one open *elf.File per physical file.
type fileKey struct {
	dev   uint64
	ino   uint64
	ctime int64
}

func statKey(path string) (fileKey, os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileKey{}, nil, err
	}
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fileKey{}, info, nil
	}
	return fileKey{dev: uint64(sys.Dev), ino: sys.Ino, ctime: sys.Ctim.Sec}, info, nil
}

// cachedELF is one physical file's open *elf.File, reference counted across
// every module that shares it.
type cachedELF struct {
	path string
	ef   *elf.File
	refs int
}

// fileCache is a process-wide (well: Registry-wide) reference-counted cache
// of open ELF files. Released only when the last referring module is
// destroyed.
type fileCache struct {
	mu    sync.Mutex
	byKey map[fileKey]*cachedELF
}

func newFileCache() *fileCache {
	return &fileCache{byKey: map[fileKey]*cachedELF{}}
}

// Open returns the cached *elf.File for path, opening and parsing it if this
// is the first reference. Callers must call the returned release function
// exactly once for every successful Open.
func (c *fileCache) Open(path string) (*elf.File, func(), error) {
	key, _, err := statKey(path)
	if err != nil {
		return nil, nil, errors.Errorf(errors.Canon, fmt.Sprintf("stat %s: %v", path, err))
	}

	c.mu.Lock()
	if entry, ok := c.byKey[key]; ok {
		entry.refs++
		c.mu.Unlock()
		return entry.ef, c.releaseFunc(key), nil
	}
	c.mu.Unlock()

	ef, err := elf.Open(path)
	if err != nil {
		return nil, nil, errors.Errorf(errors.Canon, fmt.Sprintf("opening %s: %v", path, err))
	}

	entry := &cachedELF{path: path, ef: ef, refs: 1}

	c.mu.Lock()
	// another goroutine may have raced us to the same key; prefer the
	// winner and close our redundant open.
	if existing, ok := c.byKey[key]; ok {
		existing.refs++
		c.mu.Unlock()
		ef.Close()
		return existing.ef, c.releaseFunc(key), nil
	}
	c.byKey[key] = entry
	c.mu.Unlock()

	return ef, c.releaseFunc(key), nil
}

func (c *fileCache) releaseFunc(key fileKey) func() {
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		entry, ok := c.byKey[key]
		if !ok {
			return
		}
		entry.refs--
		if entry.refs <= 0 {
			entry.ef.Close()
			delete(c.byKey, key)
		}
	}
}
