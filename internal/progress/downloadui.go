package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// DownloadUI manages concurrent artifact download bars using mpb.
type DownloadUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool
	totalFiles int
}

// DownloadFileBar is one artifact's bar.
type DownloadFileBar struct {
	bar       *mpb.Bar
	ui        *DownloadUI
	index     int
	name      string
	localPath string
	size      int64

	mu        sync.Mutex
	written   int64
	retries   atomic.Int32
	startTime time.Time
	lastTick  time.Time
}

var _ DownloadProgress = (*DownloadUI)(nil)

// NewDownloadUI creates a UI for totalFiles downloads. Bars are only drawn
// when stderr is a terminal; otherwise one line per file is printed.
func NewDownloadUI(totalFiles int) *DownloadUI {
	isTerminal := IsTerminal(os.Stderr)

	var p *mpb.Progress
	if isTerminal {
		enableANSIOnWindows(os.Stderr)
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(80),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &DownloadUI{
		progress:   p,
		out:        os.Stdout,
		isTerminal: isTerminal,
		totalFiles: totalFiles,
	}
}

// AddFileBar creates a new progress bar for an artifact download.
func (u *DownloadUI) AddFileBar(index int, name, localPath string, size int64) FileBarHandle {
	destPath := truncatePath(localPath, 2)
	now := time.Now()

	fb := &DownloadFileBar{
		ui:        u,
		index:     index,
		name:      name,
		localPath: localPath,
		size:      size,
		startTime: now,
		lastTick:  now,
	}

	total := size
	if total < 0 {
		total = 0
	}

	if u.isTerminal {
		fb.bar = u.progress.New(total,
			mpb.BarStyle().
				Lbound("[").
				Filler("█").
				Tip("█").
				Padding("░").
				Rbound("]"),
			mpb.PrependDecorators(
				decor.Any(func(s decor.Statistics) string {
					base := fmt.Sprintf("[%d/%d] %s → %s", fb.index, u.totalFiles, name, destPath)
					if r := fb.retries.Load(); r > 0 {
						return fmt.Sprintf("%s (retry %d)", base, r)
					}
					return base
				}, decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
				decor.Name("  "),
				decor.Any(func(s decor.Statistics) string {
					if s.Total <= 0 {
						return "   ?  %"
					}
					return fmt.Sprintf("%6.2f%%", float64(s.Current)/float64(s.Total)*100)
				}, decor.WCSyncSpace),
				decor.Name("  "),
				decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 60, decor.WCSyncSpace),
			),
			mpb.BarRemoveOnComplete(),
		)
	} else {
		fmt.Fprintf(u.out, "Downloading [%d/%d]: %s → %s\n", index, u.totalFiles, name, destPath)
	}

	return fb
}

// Wrap advances the bar as r is read.
func (f *DownloadFileBar) Wrap(r io.Reader) io.Reader {
	return &barReader{r: r, f: f}
}

type barReader struct {
	r io.Reader
	f *DownloadFileBar
}

func (br *barReader) Read(p []byte) (int, error) {
	n, err := br.r.Read(p)
	if n > 0 {
		br.f.advance(n)
	}
	return n, err
}

func (f *DownloadFileBar) advance(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.written += int64(n)
	if f.bar != nil {
		f.bar.EwmaIncrBy(n, now.Sub(f.lastTick))
	}
	f.lastTick = now
}

// SetRetry updates the retry counter and resets the bar to zero; a retried
// download rewrites the file from the start.
func (f *DownloadFileBar) SetRetry(count int) {
	f.retries.Store(int32(count))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = 0
	if f.bar != nil && count > 0 {
		f.bar.SetCurrent(0)
	}
}

// Complete marks the download as finished and prints a summary
func (f *DownloadFileBar) Complete(err error) {
	f.mu.Lock()
	written := f.written
	f.mu.Unlock()

	elapsed := time.Since(f.startTime)
	var msg string
	if err == nil {
		if f.bar != nil {
			f.bar.SetTotal(written, true)
		}
		speed := 0.0
		if elapsed > 0 {
			speed = float64(written) / elapsed.Seconds() / (1024 * 1024)
		}
		msg = fmt.Sprintf("✓ %s → %s (%.1f KiB, %s, %.1f MiB/s)\n",
			f.name, truncatePath(f.localPath, 2), float64(written)/1024, elapsed.Round(time.Millisecond), speed)
	} else {
		if f.bar != nil {
			f.bar.Abort(false)
		}
		msg = fmt.Sprintf("✗ %s: %v (after %d retries)\n", f.name, err, f.retries.Load())
	}

	// Write through mpb's writer so the bars are not torn.
	if f.ui.isTerminal {
		_, _ = f.ui.progress.Write([]byte(msg))
	} else {
		fmt.Fprint(f.ui.out, msg)
	}
}

// Wait blocks until all progress bars complete
func (u *DownloadUI) Wait() {
	if u.progress != nil {
		u.progress.Wait()
	}
}
