package klog

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	errWriterAlreadyLoaded = errors.New("io.Writer already loaded")
	errWriterNotFound      = errors.New("io.Writer not found")
)

// multiWriter fans a single Write out to every registered sink, the way the
// teacher's log package does, minus the job-pool scheduling this library has
// no need for.
type multiWriter struct {
	mu      sync.RWMutex
	writers []io.Writer
}

// Add appends a new writer to the multiwriter.
func (mw *multiWriter) Add(w io.Writer) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	for i := range mw.writers {
		if mw.writers[i] == w {
			return errWriterAlreadyLoaded
		}
	}
	mw.writers = append(mw.writers, w)
	return nil
}

// Remove drops a writer from the multiwriter.
func (mw *multiWriter) Remove(w io.Writer) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	for i := range mw.writers {
		if mw.writers[i] != w {
			continue
		}
		mw.writers[i] = mw.writers[len(mw.writers)-1]
		mw.writers[len(mw.writers)-1] = nil
		mw.writers = mw.writers[:len(mw.writers)-1]
		return nil
	}
	return errWriterNotFound
}

// Write writes p to every registered sink, failing on the first short write
// or error encountered.
func (mw *multiWriter) Write(p []byte) (int, error) {
	mw.mu.RLock()
	defer mw.mu.RUnlock()
	for _, w := range mw.writers {
		n, err := w.Write(p)
		if err != nil {
			return n, fmt.Errorf("%T: %w", w, err)
		}
		if n != len(p) {
			return n, fmt.Errorf("%T: %w", w, io.ErrShortWrite)
		}
	}
	return len(p), nil
}

// newMultiWriter builds a multiWriter over the given sinks.
func newMultiWriter(writers ...io.Writer) *multiWriter {
	mw := &multiWriter{}
	for _, w := range writers {
		_ = mw.Add(w)
	}
	return mw
}
