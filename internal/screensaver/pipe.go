package screensaver

import (
	"fmt"
	"os"
	"syscall"
)

// Transport creates and removes the named pipe an encoder writes into.
// A fake implementation backs the resource-exclusivity tests.
type Transport interface {
	Create(path string) error
	Remove(path string) error
}

// FIFOTransport is the real transport: a filesystem FIFO, unbuffered
// and durable across the encoder process's lifetime.
type FIFOTransport struct{}

func (FIFOTransport) Create(path string) error {
	// A leftover pipe from a previous run is replaced, not reused.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale pipe %s: %w", path, err)
	}
	if err := syscall.Mkfifo(path, 0o666); err != nil {
		return fmt.Errorf("create pipe %s: %w", path, err)
	}
	return nil
}

func (FIFOTransport) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pipe %s: %w", path, err)
	}
	return nil
}
