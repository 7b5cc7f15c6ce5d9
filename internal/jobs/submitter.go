// Package jobs submits exam uploads and tracks them to a terminal state.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/examlytics/examctl/internal/api"
	"github.com/examlytics/examctl/internal/constants"
	"github.com/examlytics/examctl/internal/grading"
	"github.com/examlytics/examctl/internal/logging"
	"github.com/examlytics/examctl/internal/models"
)

const submitOp = "submit exam"

// Uploader creates jobs. *api.Client implements it.
type Uploader interface {
	CreateExamUpload(ctx context.Context, req api.UploadRequest) (*models.ExamUpload, error)
}

// SubmitRequest describes one new analysis job. Either FilePath or File with
// FileName must be set.
type SubmitRequest struct {
	Title         string
	FilePath      string
	File          io.Reader
	FileName      string
	IgnoreColumns string
	// Scheme defaults to a fresh scheme from the default preset.
	Scheme *grading.Scheme
}

// BodyWrapper wraps the encoded upload body, typically with a progress bar.
type BodyWrapper func(r io.Reader, size int64) io.Reader

// Submitter validates a request and dispatches it exactly once.
type Submitter struct {
	api    Uploader
	logger *logging.Logger
	wrap   BodyWrapper
}

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter)

// WithSubmitLogger sets the logger.
func WithSubmitLogger(l *logging.Logger) SubmitterOption {
	return func(s *Submitter) { s.logger = l }
}

// WithUploadProgress reports upload progress through wrap.
func WithUploadProgress(wrap BodyWrapper) SubmitterOption {
	return func(s *Submitter) { s.wrap = wrap }
}

// NewSubmitter returns a Submitter that sends through u.
func NewSubmitter(u Uploader, opts ...SubmitterOption) *Submitter {
	s := &Submitter{api: u, logger: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates req and creates the job. Validation failures are
// api.KindValidation errors and no request is sent. The call is never retried.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*models.ExamUpload, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, api.Validation(submitOp, "title is required")
	}

	name, data, err := readFile(req)
	if err != nil {
		return nil, err
	}

	scheme := req.Scheme
	if scheme == nil {
		scheme = grading.New()
	}
	schemeJSON, err := json.Marshal(scheme)
	if err != nil {
		return nil, api.Validation(submitOp, "grading scheme could not be encoded: "+err.Error())
	}

	upload := api.UploadRequest{
		Title:         title,
		FileName:      name,
		File:          bytes.NewReader(data),
		IgnoreColumns: req.IgnoreColumns,
		GradingScheme: schemeJSON,
	}
	if s.wrap != nil {
		upload.WrapBody = s.wrap
	}

	s.logger.Debug().
		Str("title", title).
		Str("file", name).
		Int("bytes", len(data)).
		Str("scheme", scheme.Tag()).
		Msg("submitting exam")

	job, err := s.api.CreateExamUpload(ctx, upload)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("job_id", job.ID.String()).Str("status", string(job.Status)).Msg("exam submitted")
	return job, nil
}

// readFile loads the exam file into memory, enforcing the server's size limit
// before anything is sent.
func readFile(req SubmitRequest) (string, []byte, error) {
	var (
		r    io.Reader
		name = req.FileName
	)

	switch {
	case req.File != nil:
		if name == "" {
			return "", nil, api.Validation(submitOp, "file name is required")
		}
		r = req.File
	case req.FilePath != "":
		info, err := os.Stat(req.FilePath)
		if err != nil {
			return "", nil, &api.Error{Kind: api.KindValidation, Op: submitOp, Detail: "cannot read exam file", Err: err}
		}
		if info.IsDir() {
			return "", nil, api.Validation(submitOp, fmt.Sprintf("%s is a directory", req.FilePath))
		}
		if info.Size() > constants.MaxUploadSize {
			return "", nil, tooLarge()
		}
		f, err := os.Open(req.FilePath)
		if err != nil {
			return "", nil, &api.Error{Kind: api.KindValidation, Op: submitOp, Detail: "cannot read exam file", Err: err}
		}
		defer f.Close()
		r = f
		if name == "" {
			name = filepath.Base(req.FilePath)
		}
	default:
		return "", nil, api.Validation(submitOp, "an exam file is required")
	}

	data, err := io.ReadAll(io.LimitReader(r, constants.MaxUploadSize+1))
	if err != nil {
		return "", nil, &api.Error{Kind: api.KindValidation, Op: submitOp, Detail: "cannot read exam file", Err: err}
	}
	if len(data) == 0 {
		return "", nil, api.Validation(submitOp, "exam file is empty")
	}
	if int64(len(data)) > constants.MaxUploadSize {
		return "", nil, tooLarge()
	}
	return name, data, nil
}

func tooLarge() error {
	return api.Validation(submitOp, fmt.Sprintf("file too large: size should not exceed %d MB", constants.MaxUploadSize/(1024*1024)))
}
