// Package spinning shows a spinning symbol followed by a status line while the training program is
// busy, and handles interruptions (Ctrl+C).
package spinning

import (
	"context"
	"fmt"
	"k8s.io/klog/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

var (
	ThemeAscii = []rune(`|/-\`)
	ThemeDots  = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

	// Theme used by New.
	Theme = ThemeDots
)

// SafeInterrupt captures SIGINT (Ctrl+C) and SIGTERM and calls onInterrupt. If the program hasn't exited
// after gracePeriod, it resets the terminal and exits.
func SafeInterrupt(onInterrupt func(), gracePeriod time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigChan
		fmt.Println()
		klog.Errorf("Interrupted (signal %q), finishing the current step... (%s)", s, gracePeriod)
		if onInterrupt != nil {
			go onInterrupt()
		}
		time.Sleep(gracePeriod)
		Reset()
		klog.Fatalf("Grace period of %s expired, exiting.", gracePeriod)
	}()
}

// Reset terminal: make cursor visible, restore default colors.
func Reset() {
	fmt.Print("\033[?25h\033[39;49;0m\n")
}

// Spinning displays the spinning symbol and status until Done is called.
type Spinning struct {
	wg     sync.WaitGroup
	cancel func()

	mu     sync.Mutex
	status string
}

// New starts the spinning display in a separate goroutine. It stops when ctx is cancelled or Done is called.
func New(ctx context.Context) *Spinning {
	s := &Spinning{}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		fmt.Print("\033[?25l")       // Hide cursor.
		defer fmt.Print("\033[?25h") // Restore cursor.
		for idx := 0; ; idx = (idx + 1) % len(Theme) {
			s.mu.Lock()
			fmt.Printf("\r%c %s\033[0K", Theme[idx], s.status)
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				fmt.Print("\r\033[0K")
				return
			case <-ticker.C:
			}
		}
	}()
	return s
}

// SetStatus changes the status displayed after the spinning symbol.
func (s *Spinning) SetStatus(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = fmt.Sprintf(format, args...)
}

// Done stops the display and waits for it to clear the line.
func (s *Spinning) Done() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
}
