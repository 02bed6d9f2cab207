//go:build linux || darwin

package secret

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// lockedAlloc maps anonymous memory outside the Go heap and locks it against swap.
func lockedAlloc(size int) ([]byte, func([]byte), error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, fmt.Errorf("secret: mmap: %w", err)
	}

	if err := unix.Mlock(data); err != nil {
		_ = unix.Munmap(data)
		return nil, nil, fmt.Errorf("secret: mlock: %w", err)
	}

	release := func(b []byte) {
		_ = unix.Munlock(b)
		_ = unix.Munmap(b)
	}

	return data, release, nil
}
