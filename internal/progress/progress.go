package progress

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Indicator displays per-architecture pipeline progress for long-running
// runs. Interactive terminals get an animated status line; CI environments
// get one plain line per stage transition.
type Indicator struct {
	writer      io.Writer
	startTime   time.Time
	mu          sync.Mutex
	stages      map[string]string
	failures    map[string]error
	showSpinner bool
	started     bool
	spinnerIdx  int
	stopChan    chan struct{}
	doneChan    chan struct{}
	stopOnce    sync.Once
	isCI        bool
}

// Config holds configuration for the progress indicator.
type Config struct {
	Writer      io.Writer
	ShowSpinner bool
	// IsCI disables the animated status line; auto-detected from the
	// environment when unset.
	IsCI bool
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// NewIndicator creates a progress indicator.
func NewIndicator(cfg Config) *Indicator {
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}

	if !cfg.IsCI {
		cfg.IsCI = os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
	}

	return &Indicator{
		writer:      cfg.Writer,
		startTime:   time.Now(),
		stages:      make(map[string]string),
		failures:    make(map[string]error),
		showSpinner: cfg.ShowSpinner && !cfg.IsCI,
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
		isCI:        cfg.IsCI,
	}
}

// Start begins the animated display.
func (p *Indicator) Start() {
	if p.showSpinner && !p.started {
		p.started = true
		go p.spinnerLoop()
	}
}

// Stop stops the animated display and clears its line.
func (p *Indicator) Stop() {
	p.stopOnce.Do(func() {
		if p.showSpinner && p.started {
			close(p.stopChan)
			<-p.doneChan
			fmt.Fprintf(p.writer, "\r%s\r", strings.Repeat(" ", 100))
		}
	})
}

// Update records an architecture entering a stage. In CI mode the transition
// is printed immediately.
func (p *Indicator) Update(architecture, stage string) {
	p.UpdateWithError(architecture, stage, nil)
}

// UpdateWithError records a stage transition, carrying the failure cause for
// terminal failed stages.
func (p *Indicator) UpdateWithError(architecture, stage string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stages[architecture] = stage
	if err != nil {
		p.failures[architecture] = err
	}

	if p.isCI || !p.showSpinner {
		p.printTransition(architecture, stage, err)
	}
}

func (p *Indicator) printTransition(architecture, stage string, err error) {
	symbol := "▶"
	switch stage {
	case "done":
		symbol = "✓"
	case "failed":
		symbol = "✗"
	}

	msg := fmt.Sprintf("%s %s: %s", symbol, architecture, stage)
	if err != nil {
		msg += fmt.Sprintf(" - %v", err)
	}
	fmt.Fprintln(p.writer, msg)
}

func (p *Indicator) spinnerLoop() {
	defer close(p.doneChan)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.mu.Lock()
			p.renderStatusLine()
			p.spinnerIdx = (p.spinnerIdx + 1) % len(spinnerFrames)
			p.mu.Unlock()
		}
	}
}

// renderStatusLine renders one line with all architectures in a stable order.
func (p *Indicator) renderStatusLine() {
	if len(p.stages) == 0 {
		return
	}

	archs := make([]string, 0, len(p.stages))
	for arch := range p.stages {
		archs = append(archs, arch)
	}
	sort.Strings(archs)

	parts := make([]string, len(archs))
	done := 0
	for i, arch := range archs {
		stage := p.stages[arch]
		parts[i] = fmt.Sprintf("%s: %s", arch, stage)
		if stage == "done" || stage == "failed" {
			done++
		}
	}

	fmt.Fprintf(p.writer, "\r%s %s | %d/%d finished | %s",
		spinnerFrames[p.spinnerIdx],
		strings.Join(parts, " | "),
		done,
		len(archs),
		formatDuration(time.Since(p.startTime)),
	)
}

// PrintSummary prints the final per-architecture outcome table.
func (p *Indicator) PrintSummary() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.stages) == 0 {
		return
	}

	archs := make([]string, 0, len(p.stages))
	for arch := range p.stages {
		archs = append(archs, arch)
	}
	sort.Strings(archs)

	succeeded := 0
	for _, arch := range archs {
		if p.stages[arch] == "done" {
			succeeded++
		}
	}

	fmt.Fprintln(p.writer)
	fmt.Fprintf(p.writer, "%d/%d architectures succeeded in %s\n",
		succeeded, len(archs), formatDuration(time.Since(p.startTime)))

	for _, arch := range archs {
		if err, ok := p.failures[arch]; ok {
			fmt.Fprintf(p.writer, "  ✗ %s - %v\n", arch, err)
		}
	}
}

// StreamWriter prefixes each line written through it, used to interleave
// subprocess output from concurrent builds.
type StreamWriter struct {
	writer io.Writer
	prefix string
	mu     sync.Mutex
	buffer []byte
}

// NewStreamWriter creates a stream writer with a prefix.
func NewStreamWriter(w io.Writer, prefix string) *StreamWriter {
	return &StreamWriter{
		writer: w,
		prefix: prefix,
		buffer: make([]byte, 0, 4096),
	}
}

// Write implements io.Writer.
func (sw *StreamWriter) Write(p []byte) (n int, err error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	n = len(p)
	sw.buffer = append(sw.buffer, p...)

	for {
		idx := strings.IndexByte(string(sw.buffer), '\n')
		if idx == -1 {
			break
		}

		line := sw.buffer[:idx]
		sw.buffer = sw.buffer[idx+1:]

		if _, err = fmt.Fprintf(sw.writer, "%s %s\n", sw.prefix, string(line)); err != nil {
			return
		}
	}

	return
}

// Flush writes any remaining buffered content.
func (sw *StreamWriter) Flush() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if len(sw.buffer) > 0 {
		_, err := fmt.Fprintf(sw.writer, "%s %s\n", sw.prefix, string(sw.buffer))
		sw.buffer = sw.buffer[:0]
		return err
	}
	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
