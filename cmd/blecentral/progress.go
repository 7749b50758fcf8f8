package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter keeps one status line updated on w while a command waits on the radio.
//
//	p := NewProgressPrinter(os.Stderr, "Reading 2a19", "Connecting", 0)
//	p.Start()
//	defer p.Stop()
//
// With a positive duration the line counts down, otherwise it shows elapsed time.
// A ProgressPrinter is single-use; Stop may be called any number of times.
type ProgressPrinter struct {
	w        io.Writer
	prefix   string
	duration time.Duration
	phase    atomic.Value // string

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewProgressPrinter(w io.Writer, prefix, phase string, duration time.Duration) *ProgressPrinter {
	p := &ProgressPrinter{
		w:        w,
		prefix:   prefix,
		duration: duration,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// Start begins updating the line in a background goroutine.
// Panics if called more than once.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	start := time.Now()
	p.print(p.phase.Load().(string), 0)

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.print(p.phase.Load().(string), p.seconds(time.Since(start)))
			}
		}
	}()
}

func (p *ProgressPrinter) seconds(elapsed time.Duration) int {
	if p.duration <= 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// round to the nearest second
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
		return
	}
	fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, phase)
}

// Callback returns a phase setter suitable for openSession.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) { p.phase.Store(phase) }
}

// Stop ends the updates and clears the line.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		if p.started.Load() {
			<-p.done
		}
		fmt.Fprint(p.w, clearLineSequence)
	})
}
