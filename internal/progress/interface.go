package progress

import "io"

// DownloadProgress tracks a batch of concurrent artifact downloads.
type DownloadProgress interface {
	// AddFileBar creates a bar for one artifact. size may be -1 when the
	// server sent no Content-Length.
	AddFileBar(index int, name, localPath string, size int64) FileBarHandle

	// Wait blocks until all progress bars complete
	Wait()
}

// FileBarHandle represents a handle to a single file's progress bar
type FileBarHandle interface {
	// Wrap returns a reader that advances the bar as r is consumed.
	Wrap(r io.Reader) io.Reader

	// SetRetry updates the retry counter and visually marks the bar
	SetRetry(count int)

	// Complete marks the operation as finished and prints a summary
	Complete(err error)
}

// Discard is a DownloadProgress that renders nothing.
var Discard DownloadProgress = discardUI{}

type discardUI struct{}

func (discardUI) AddFileBar(int, string, string, int64) FileBarHandle { return discardBar{} }
func (discardUI) Wait()                                               {}

type discardBar struct{}

func (discardBar) Wrap(r io.Reader) io.Reader { return r }
func (discardBar) SetRetry(int)               {}
func (discardBar) Complete(error)             {}
