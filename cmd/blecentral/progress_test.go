//go:build test

package main

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// lockedBuffer lets the test read what the printer goroutine writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressPrinter(t *testing.T) {
	t.Run("phases and clear", func(t *testing.T) {
		var out lockedBuffer
		p := NewProgressPrinter(&out, "Reading 2a19", "Connecting", 0)
		p.Start()
		assert.Contains(t, out.String(), "\rReading 2a19 (Connecting...)")

		p.Callback()("Discovering")
		assert.Eventually(t, func() bool {
			return strings.Contains(out.String(), "(Discovering...)")
		}, time.Second, 10*time.Millisecond, "phase change MUST be rendered")

		p.Stop()
		p.Stop()
		assert.True(t, strings.HasSuffix(out.String(), clearLineSequence), "Stop MUST clear the line once")
		assert.Equal(t, 1, strings.Count(out.String(), clearLineSequence))
	})

	t.Run("countdown", func(t *testing.T) {
		p := NewProgressPrinter(&lockedBuffer{}, "Scanning", "Scanning", 10*time.Second)
		assert.Equal(t, 10, p.seconds(0))
		assert.Equal(t, 8, p.seconds(2200*time.Millisecond))
		assert.Equal(t, 0, p.seconds(11*time.Second))
	})

	t.Run("stop without start", func(t *testing.T) {
		var out lockedBuffer
		p := NewProgressPrinter(&out, "Idle", "Waiting", 0)
		p.Stop()
		assert.Equal(t, clearLineSequence, out.String())
	})

	t.Run("start twice panics", func(t *testing.T) {
		p := NewProgressPrinter(&lockedBuffer{}, "x", "y", 0)
		p.Start()
		defer p.Stop()
		assert.Panics(t, p.Start)
	})
}
