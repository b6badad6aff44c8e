package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// TotalBundles is the number of bundles expected, including
	// dependencies. Zero disables percentage display.
	TotalBundles int

	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// Label identifies the request being reported (bundle name or host).
	Label string
}

// Reporter outputs human-readable progress for a set of bundle downloads.
type Reporter struct {
	opts Options

	mu               sync.Mutex
	completedBytes   atomic.Int64
	completedBundles atomic.Int32
	failedBundles    atomic.Int32
	inProgress       atomic.Int32
	startTime        time.Time
	lastUpdate       time.Time
	lastBytes        int64
	stopCh           chan struct{}
	stopped          bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.startTime = time.Now()
	r.lastUpdate = r.startTime

	fmt.Fprintf(r.opts.Output, "[bundler] Fetching: %s\n", r.opts.Label)
	if r.opts.TotalBundles > 0 {
		fmt.Fprintf(r.opts.Output, "[bundler] Bundles: %d (including dependencies)\n", r.opts.TotalBundles)
	}

	go r.updateLoop()
}

// Stop stops the progress reporter.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
}

// BundleStarted marks a bundle download as in progress.
func (r *Reporter) BundleStarted() {
	r.inProgress.Add(1)
}

// BundleCompleted marks a bundle download as completed.
func (r *Reporter) BundleCompleted(size int64) {
	r.completedBytes.Add(size)
	r.completedBundles.Add(1)
	r.inProgress.Add(-1)
}

// BundleFailed marks a bundle download as terminally failed.
func (r *Reporter) BundleFailed() {
	r.failedBundles.Add(1)
	r.inProgress.Add(-1)
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	completed := r.completedBytes.Load()
	completedBundles := int(r.completedBundles.Load())
	inProgress := int(r.inProgress.Load())

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed

	r.lastUpdate = now
	r.lastBytes = completed

	var pct string
	if r.opts.TotalBundles > 0 {
		pct = fmt.Sprintf("%.0f%% | ", float64(completedBundles)/float64(r.opts.TotalBundles)*100)
	}

	fmt.Fprintf(r.opts.Output, "\r[bundler] %s%d done | %d fetching | %s | %s/s    ",
		pct,
		completedBundles,
		inProgress,
		formatBytes(completed),
		formatBytes(int64(speed)),
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	completed := r.completedBytes.Load()
	completedBundles := int(r.completedBundles.Load())
	failed := int(r.failedBundles.Load())
	duration := time.Since(r.startTime)
	avgSpeed := float64(completed) / duration.Seconds()

	fmt.Fprintf(r.opts.Output, "\r[bundler] %d bundles | %s | %s/s avg | %s total    \n",
		completedBundles,
		formatBytes(completed),
		formatBytes(int64(avgSpeed)),
		formatDuration(duration),
	)
	if failed > 0 {
		fmt.Fprintf(r.opts.Output, "[bundler] Failed: %d\n", failed)
	}
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes is exported for use by other packages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}

// ParseBytes parses a human-readable byte string (e.g., "512MB").
func ParseBytes(s string) (int64, error) {
	var multiplier int64 = 1
	s = trimSuffix(s, " ")

	switch {
	case hasSuffix(s, "TB"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "KB"):
		multiplier = 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "B"):
		s = s[:len(s)-1]
	}

	var value float64
	_, err := fmt.Sscanf(s, "%f", &value)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}

	return int64(value * float64(multiplier)), nil
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func trimSuffix(s, suffix string) string {
	for hasSuffix(s, suffix) {
		s = s[:len(s)-len(suffix)]
	}
	return s
}
