package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"net/url"
	"strings"

	"github.com/examlytics/examctl/internal/constants"
	"github.com/examlytics/examctl/internal/models"
)

// UploadRequest is the multipart payload for POST /api/analytics/exam-uploads/.
type UploadRequest struct {
	Title         string
	FileName      string
	File          io.Reader
	IgnoreColumns string          // free text, sent unparsed
	GradingScheme json.RawMessage // JSON array of rules
	// WrapBody, when set, wraps the encoded body (upload progress).
	WrapBody func(r io.Reader, size int64) io.Reader
}

func examPath(id models.ID) string {
	return constants.ExamUploadsPath + url.PathEscape(id.String()) + "/"
}

// CreateExamUpload submits a new analysis job. The call is never retried.
func (c *Client) CreateExamUpload(ctx context.Context, req UploadRequest) (*models.ExamUpload, error) {
	const op = "submit exam"

	if strings.TrimSpace(req.Title) == "" {
		return nil, Validation(op, "title is required")
	}
	if req.File == nil || req.FileName == "" {
		return nil, Validation(op, "an exam file is required")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("title", strings.TrimSpace(req.Title)); err != nil {
		return nil, &Error{Kind: KindSubmission, Op: op, Err: err}
	}
	part, err := mw.CreateFormFile("file", req.FileName)
	if err != nil {
		return nil, &Error{Kind: KindSubmission, Op: op, Err: err}
	}
	if _, err := io.Copy(part, req.File); err != nil {
		return nil, &Error{Kind: KindValidation, Op: op, Detail: "could not read exam file", Err: err}
	}
	if req.IgnoreColumns != "" {
		if err := mw.WriteField("custom_ignore_columns", req.IgnoreColumns); err != nil {
			return nil, &Error{Kind: KindSubmission, Op: op, Err: err}
		}
	}
	scheme := req.GradingScheme
	if len(scheme) == 0 {
		scheme = json.RawMessage("[]")
	}
	if err := mw.WriteField("grading_scheme", string(scheme)); err != nil {
		return nil, &Error{Kind: KindSubmission, Op: op, Err: err}
	}
	if err := mw.Close(); err != nil {
		return nil, &Error{Kind: KindSubmission, Op: op, Err: err}
	}

	r := request{
		op:          op,
		method:      nethttp.MethodPost,
		path:        constants.ExamUploadsPath,
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
		kind:        KindSubmission,
	}
	if req.WrapBody != nil {
		size := int64(buf.Len())
		r.wrapBody = func(body io.Reader) io.Reader { return req.WrapBody(body, size) }
	}

	var job models.ExamUpload
	if err := c.doJSON(ctx, r, &job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, &Error{Kind: KindSubmission, Op: op, Detail: "server did not return a job id"}
	}
	return &job, nil
}

// GetExamUpload fetches the current snapshot of one job.
func (c *Client) GetExamUpload(ctx context.Context, id models.ID) (*models.ExamUpload, error) {
	if id == "" {
		return nil, Validation("get exam", "job id is required")
	}

	var job models.ExamUpload
	err := c.doJSON(ctx, request{
		op:     "get exam " + id.String(),
		method: nethttp.MethodGet,
		path:   examPath(id),
		kind:   KindQuery,
	}, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// page is the envelope used when the server paginates list responses.
type page struct {
	Next    *string             `json:"next"`
	Results []models.ExamUpload `json:"results"`
}

// ListExamUploads returns all jobs in the order the server returns them.
// Both a bare JSON array and a paginated {"results", "next"} envelope are accepted.
func (c *Client) ListExamUploads(ctx context.Context) ([]models.ExamUpload, error) {
	const op = "list exams"

	path := constants.ExamUploadsPath
	var all []models.ExamUpload

	for pages := 0; path != ""; pages++ {
		if pages >= 100 {
			return nil, &Error{Kind: KindQuery, Op: op, Detail: "too many result pages"}
		}

		var raw json.RawMessage
		if err := c.doJSON(ctx, request{op: op, method: nethttp.MethodGet, path: path, kind: KindQuery}, &raw); err != nil {
			return nil, err
		}

		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			var items []models.ExamUpload
			if err := json.Unmarshal(trimmed, &items); err != nil {
				return nil, &Error{Kind: KindQuery, Op: op, Detail: "unexpected response from server", Err: err}
			}
			return append(all, items...), nil
		}

		var p page
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, &Error{Kind: KindQuery, Op: op, Detail: "unexpected response from server", Err: err}
		}
		all = append(all, p.Results...)

		path = ""
		if p.Next != nil && *p.Next != "" {
			next, err := c.relativePath(*p.Next)
			if err != nil {
				return nil, &Error{Kind: KindQuery, Op: op, Err: err}
			}
			path = next
		}
	}

	if all == nil {
		all = []models.ExamUpload{}
	}
	return all, nil
}

// relativePath converts an absolute "next" link on the API host into a path
// that do() can append to the base URL.
func (c *Client) relativePath(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("invalid pagination link %q: %w", link, err)
	}
	if u.IsAbs() && !c.SameOrigin(link) {
		return "", fmt.Errorf("pagination link %q leaves the API host", link)
	}
	p := strings.TrimPrefix(u.EscapedPath(), strings.TrimRight(c.baseURL.EscapedPath(), "/"))
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p, nil
}

// DeleteExamUpload removes a job on the server.
func (c *Client) DeleteExamUpload(ctx context.Context, id models.ID) error {
	if id == "" {
		return Validation("delete exam", "job id is required")
	}
	return c.doJSON(ctx, request{
		op:     "delete exam " + id.String(),
		method: nethttp.MethodDelete,
		path:   examPath(id),
		kind:   KindQuery,
	}, nil)
}
