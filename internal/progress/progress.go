package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Ning0612/reprefix/internal/domain"
)

// Reporter receives extraction progress, one call per staged entry
type Reporter interface {
	// SetTotal sets the expected totals; zero means unknown
	SetTotal(entries int, bytes int64)
	// Entry reports one staged entry with its verdict
	Entry(path string, verdict domain.Verdict, size int64)
	// Error reports the failure that stopped extraction
	Error(path string, err error)
	// Done marks extraction finished
	Done()
}

// Callback is a function that receives progress updates
type Callback func(update Update)

// Update represents a progress update
type Update struct {
	Type           UpdateType
	Path           string
	Verdict        domain.Verdict
	Size           int64
	EntriesDone    int
	EntriesTotal   int
	BytesDone      int64
	BytesTotal     int64
	BytesPerSecond float64
	Rewritten      int
	Native         int
	Error          error
}

// UpdateType indicates the type of progress update
type UpdateType int

const (
	UpdateEntry UpdateType = iota
	UpdateError
	UpdateDone
)

// CallbackReporter implements Reporter with a callback function.
// Safe for concurrent use; the callback always runs outside the lock.
type CallbackReporter struct {
	callback Callback

	mu           sync.Mutex
	entriesTotal int
	bytesTotal   int64
	entriesDone  int
	bytesDone    int64
	rewritten    int
	native       int
	startTime    time.Time
}

// NewCallbackReporter creates a new CallbackReporter
func NewCallbackReporter(callback Callback) *CallbackReporter {
	return &CallbackReporter{
		callback:  callback,
		startTime: time.Now(),
	}
}

// SetTotal sets the expected number of entries and bytes
func (r *CallbackReporter) SetTotal(entries int, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entriesTotal = entries
	r.bytesTotal = bytes
}

// snapshot builds an update from the current counters; caller holds mu
func (r *CallbackReporter) snapshot(t UpdateType) Update {
	var rate float64
	if elapsed := time.Since(r.startTime).Seconds(); elapsed > 0 {
		rate = float64(r.bytesDone) / elapsed
	}
	return Update{
		Type:           t,
		EntriesDone:    r.entriesDone,
		EntriesTotal:   r.entriesTotal,
		BytesDone:      r.bytesDone,
		BytesTotal:     r.bytesTotal,
		BytesPerSecond: rate,
		Rewritten:      r.rewritten,
		Native:         r.native,
	}
}

func (r *CallbackReporter) fire(u Update) {
	if r.callback != nil {
		r.callback(u)
	}
}

// Entry records one staged entry
func (r *CallbackReporter) Entry(path string, verdict domain.Verdict, size int64) {
	r.mu.Lock()
	r.entriesDone++
	r.bytesDone += size
	switch verdict {
	case domain.TextArtifact:
		r.rewritten++
	case domain.NativeExecutable:
		r.native++
	}
	u := r.snapshot(UpdateEntry)
	r.mu.Unlock()

	u.Path = path
	u.Verdict = verdict
	u.Size = size
	r.fire(u)
}

// Error reports the failure that stopped extraction
func (r *CallbackReporter) Error(path string, err error) {
	r.mu.Lock()
	u := r.snapshot(UpdateError)
	r.mu.Unlock()

	u.Path = path
	u.Error = err
	r.fire(u)
}

// Done marks extraction finished
func (r *CallbackReporter) Done() {
	r.mu.Lock()
	u := r.snapshot(UpdateDone)
	r.mu.Unlock()

	r.fire(u)
}

// NullReporter is a no-op reporter
type NullReporter struct{}

func (NullReporter) SetTotal(entries int, bytes int64)                     {}
func (NullReporter) Entry(path string, verdict domain.Verdict, size int64) {}
func (NullReporter) Error(path string, err error)                          {}
func (NullReporter) Done()                                                 {}

// ThrottledWriter renders updates as status lines on w, at most once per
// interval. Errors and the final update are always written.
type ThrottledWriter struct {
	w        io.Writer
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewThrottledWriter creates a ThrottledWriter
func NewThrottledWriter(w io.Writer, interval time.Duration) *ThrottledWriter {
	return &ThrottledWriter{w: w, interval: interval}
}

// Callback returns a Callback suitable for NewCallbackReporter
func (t *ThrottledWriter) Callback() Callback {
	return t.handle
}

func (t *ThrottledWriter) handle(u Update) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if u.Type == UpdateEntry && now.Sub(t.last) < t.interval {
		return
	}
	t.last = now

	switch u.Type {
	case UpdateError:
		fmt.Fprintf(t.w, "error at %s: %v\n", u.Path, u.Error)
	case UpdateDone:
		fmt.Fprintf(t.w, "staged %d entries (%s), %d rewritten, %d native\n",
			u.EntriesDone, FormatBytes(u.BytesDone), u.Rewritten, u.Native)
	default:
		if u.EntriesTotal > 0 {
			fmt.Fprintf(t.w, "%s %d/%d %s\n", FormatProgress(int64(u.EntriesDone), int64(u.EntriesTotal), 30),
				u.EntriesDone, u.EntriesTotal, u.Path)
			return
		}
		fmt.Fprintf(t.w, "%d entries, %s (%s) %s\n", u.EntriesDone, FormatBytes(u.BytesDone),
			FormatSpeed(u.BytesPerSecond), u.Path)
	}
}

// FormatBytes formats bytes into human-readable string
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatSpeed formats bytes per second into human-readable string
func FormatSpeed(bytesPerSecond float64) string {
	return FormatBytes(int64(bytesPerSecond)) + "/s"
}

// FormatProgress returns a progress bar string
func FormatProgress(current, total int64, width int) string {
	if total == 0 {
		return ""
	}

	percent := float64(current) / float64(total)
	filled := int(percent * float64(width))
	if filled > width {
		filled = width
	}

	bar := make([]byte, width)
	for i := 0; i < width; i++ {
		switch {
		case i < filled:
			bar[i] = '='
		case i == filled:
			bar[i] = '>'
		default:
			bar[i] = ' '
		}
	}

	return fmt.Sprintf("[%s] %5.1f%%", string(bar), percent*100)
}
