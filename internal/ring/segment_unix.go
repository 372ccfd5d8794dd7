//go:build unix

package ring

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// mapping is a file-backed MAP_SHARED region.
type mapping struct {
	f   *os.File
	mem []byte
}

// mapShared maps size bytes of path. With create the file is made (or resized)
// as needed; without it the file must already exist at exactly size bytes.
func mapShared(path string, size int, create bool) (*mapping, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.Size() != int64(size) {
		if !create {
			_ = f.Close()
			return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrBadSegment, path, fi.Size(), size)
		}
		if err := f.Truncate(int64(size)); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("resize %s: %w", path, err)
		}
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &mapping{f: f, mem: mem}, nil
}

func (m *mapping) close() error {
	if m == nil {
		return nil
	}
	return errors.Join(unix.Munmap(m.mem), m.f.Close())
}

// fileLock is the ring's named mutex. flock excludes other open file
// descriptions; the sync.Mutex excludes goroutines sharing this one.
type fileLock struct {
	mu sync.Mutex
	f  *os.File
}

func openLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock %s: %w", path, err)
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) lock() error {
	l.mu.Lock()
	for {
		err := unix.Flock(int(l.f.Fd()), unix.LOCK_EX)
		if err == nil {
			return nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		l.mu.Unlock()
		return fmt.Errorf("flock: %w", err)
	}
}

func (l *fileLock) unlock() {
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	l.mu.Unlock()
}

func (l *fileLock) close() error {
	if l == nil {
		return nil
	}
	return l.f.Close()
}
