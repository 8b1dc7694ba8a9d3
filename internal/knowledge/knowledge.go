// Package knowledge uploads local files and attaches them to a knowledge
// collection on the remote chat service.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/chatsync/internal/chatapi"
	"github.com/chatsync/internal/logging"
	"github.com/chatsync/internal/retry"
)

// Service is the slice of the chat API the attach flow needs.
type Service interface {
	CreateKnowledge(ctx context.Context, req chatapi.KnowledgeRequest) (string, error)
	UploadFile(ctx context.Context, name string, r io.Reader) (string, error)
	FileStatus(ctx context.Context, fileID string) (chatapi.FileStatus, error)
	AttachFile(ctx context.Context, knowledgeID, fileID string) error
}

// Options tunes retries and status polling.
type Options struct {
	UploadRetries int           // extra upload attempts on retryable errors
	RetryDelay    time.Duration // base delay between upload attempts
	PollAttempts  int           // status checks per file
	PollInterval  time.Duration
}

// DefaultOptions mirrors the completion poll defaults.
func DefaultOptions() Options {
	return Options{
		UploadRetries: 2,
		RetryDelay:    time.Second,
		PollAttempts:  30,
		PollInterval:  2 * time.Second,
	}
}

// FileResult is the outcome for one local file.
type FileResult struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	FileID   string `json:"file_id,omitempty"`
	Status   string `json:"status,omitempty"`
	Attached bool   `json:"attached"`
	Error    string `json:"error,omitempty"`
}

// Outcome summarises an attach run.
type Outcome struct {
	KnowledgeID string       `json:"knowledge_id"`
	Files       []FileResult `json:"files"`
}

// Attached counts files that made it into the collection.
func (o *Outcome) Attached() int {
	n := 0
	for _, f := range o.Files {
		if f.Attached {
			n++
		}
	}
	return n
}

// Attacher runs the create, upload, wait, attach flow.
type Attacher struct {
	client Service
	opts   Options
	logger *logging.RunLogger
}

// NewAttacher creates an attacher. Zero option fields take the defaults.
func NewAttacher(client Service, opts Options, logger *logging.RunLogger) *Attacher {
	def := DefaultOptions()
	if opts.UploadRetries < 0 {
		opts.UploadRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = def.PollAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	return &Attacher{client: client, opts: opts, logger: logger}
}

// Attach creates a collection and attaches every path to it. A file that
// fails to upload or process is reported in its FileResult and skipped; the
// run fails only when the collection cannot be created or nothing attached.
func (a *Attacher) Attach(ctx context.Context, req chatapi.KnowledgeRequest, paths []string) (*Outcome, error) {
	if len(paths) == 0 {
		return nil, errors.New("no files to attach")
	}

	a.logger.LogSection("KNOWLEDGE: " + req.Name)
	knowledgeID, err := a.client.CreateKnowledge(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create knowledge collection %q: %w", req.Name, err)
	}
	a.logger.Log("Created knowledge collection %s", knowledgeID)

	out := &Outcome{KnowledgeID: knowledgeID}
	for _, path := range paths {
		result := a.attachOne(ctx, knowledgeID, path)
		if result.Error != "" {
			log.Warn().Str("path", path).Str("error", result.Error).Msg("File not attached")
		}
		out.Files = append(out.Files, result)
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
	}

	if out.Attached() == 0 {
		return out, fmt.Errorf("none of %d files were attached to %s", len(paths), knowledgeID)
	}
	return out, nil
}

func (a *Attacher) attachOne(ctx context.Context, knowledgeID, path string) FileResult {
	result := FileResult{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if info.IsDir() {
		result.Error = "is a directory"
		return result
	}
	result.Size = info.Size()
	a.logger.Log("Uploading %s (%s)", filepath.Base(path), humanize.Bytes(uint64(info.Size())))

	fileID, err := a.upload(ctx, path)
	if err != nil {
		result.Error = fmt.Sprintf("upload failed: %v", err)
		return result
	}
	result.FileID = fileID

	status, err := a.waitProcessed(ctx, fileID)
	result.Status = status.Status
	if err != nil {
		result.Error = err.Error()
		return result
	}

	if err := a.client.AttachFile(ctx, knowledgeID, fileID); err != nil {
		result.Error = fmt.Sprintf("attach failed: %v", err)
		return result
	}
	result.Attached = true
	a.logger.Log("Attached %s as %s", filepath.Base(path), fileID)
	return result
}

func (a *Attacher) upload(ctx context.Context, path string) (string, error) {
	cfg := retry.DefaultRetryConfig()
	cfg.MaxRetries = a.opts.UploadRetries
	cfg.BaseDelay = a.opts.RetryDelay

	var fileID string
	res := retry.RetryWithBackoff(ctx, cfg, func() error {
		f, err := os.Open(path)
		if err != nil {
			return retry.Stop(err)
		}
		defer f.Close()

		id, err := a.client.UploadFile(ctx, filepath.Base(path), f)
		if err != nil {
			if retry.IsRetryableError(err) {
				return err
			}
			return retry.Stop(err)
		}
		fileID = id
		return nil
	}, a.logger)
	if !res.Success {
		return "", res.LastError
	}
	return fileID, nil
}

// waitProcessed polls until the backend finishes extracting the file.
// Status request errors consume attempts like an unfinished status.
func (a *Attacher) waitProcessed(ctx context.Context, fileID string) (chatapi.FileStatus, error) {
	var last chatapi.FileStatus
	res := retry.RetryWithBackoff(ctx, retry.PollConfig(a.opts.PollAttempts, a.opts.PollInterval), func() error {
		status, err := a.client.FileStatus(ctx, fileID)
		if err != nil {
			log.Debug().Err(err).Str("file_id", fileID).Msg("File status request failed")
			return err
		}
		last = status
		if !status.Done() {
			return retry.ErrNotReady
		}
		return nil
	}, a.logger)

	if !res.Success {
		if ctx.Err() != nil {
			return last, ctx.Err()
		}
		return last, fmt.Errorf("file %s not processed after %d checks: %w", fileID, res.Attempts, res.LastError)
	}
	if last.Status == "failed" {
		msg := last.Error
		if msg == "" {
			msg = "no reason given"
		}
		return last, fmt.Errorf("processing of file %s failed: %s", fileID, msg)
	}
	return last, nil
}
