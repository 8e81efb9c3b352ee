package cli

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// ─── Wait Indicator ─────────────────────────────────────────────────────────
// Shown on stderr while an async query's report is polled:
// [⠹] waiting for SmartCampusEnergyAgent │ peak_load_forecasting │ 1.4s

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type waitIndicator struct {
	started time.Time
	label   string
	stop    chan struct{}
	done    chan struct{}
}

// startWait begins redrawing the indicator every 100ms until finish.
func startWait(agent, capability string) *waitIndicator {
	w := &waitIndicator{
		started: time.Now(),
		label:   fmt.Sprintf("waiting for %s │ %s", agent, capability),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *waitIndicator) loop() {
	defer close(w.done)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for i := 0; ; i++ {
		clearLine()
		fmt.Fprintf(os.Stderr, "[%s] %s │ %s", spinnerFrames[i%len(spinnerFrames)], w.label, formatElapsed(time.Since(w.started)))
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		}
	}
}

// finish stops the indicator and prints a final status line.
func (w *waitIndicator) finish(status string) {
	close(w.stop)
	<-w.done
	clearLine()
	fmt.Fprintf(os.Stderr, "[%s] %s │ %s\n", status, w.label, formatElapsed(time.Since(w.started)))
}

func formatElapsed(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

// clearLine clears the current terminal line.
func clearLine() {
	fmt.Fprintf(os.Stderr, "\r%s\r", strings.Repeat(" ", 80))
}
