package chatapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// FileStatus is the processing state of an uploaded file.
type FileStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Done reports whether processing has finished, successfully or not.
func (s FileStatus) Done() bool {
	return s.Status == "completed" || s.Status == "failed"
}

// UploadFile stores a file in the backend's content store and returns its id.
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish multipart body: %w", err)
	}

	const path = "/api/v1/files/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.session.BaseURL+path, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	data, err := c.send(req, path)
	if err != nil {
		return "", err
	}
	var resp map[string]interface{}
	if err := decode(data, &resp); err != nil {
		return "", err
	}
	fields := []string{"id", "_id", "file_id", "data.id"}
	id := firstString(resp, fields...)
	if id == "" {
		return "", &ExtractionError{Op: "upload file", Fields: fields}
	}
	return id, nil
}

// FileStatus reports the processing state of an uploaded file.
func (c *Client) FileStatus(ctx context.Context, fileID string) (FileStatus, error) {
	var status FileStatus
	data, err := c.doJSON(ctx, http.MethodGet, "/api/v1/files/"+url.PathEscape(fileID)+"/process/status", nil)
	if err != nil {
		return status, err
	}
	if err := decode(data, &status); err != nil {
		return status, err
	}
	return status, nil
}
