package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/sessions"
	"github.com/aura-live/backend/internal/telemetry"
	"github.com/aura-live/backend/pkg/queue"
	"github.com/aura-live/backend/pkg/storage"
)

// Uploader stores a recording object under key.
type Uploader interface {
	UploadRecording(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) error
}

// JobSource is the queue side the worker consumes.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// RecordingProcessor archives finished recordings: it reads the local recorder
// output or the provider's file, uploads it, and records the storage key on the session.
type RecordingProcessor struct {
	store    sessions.Store
	uploader Uploader
	queue    JobSource
	http     *http.Client
	backoff  time.Duration
	logger   *zap.Logger
}

// NewRecordingProcessor creates a recording upload processor.
func NewRecordingProcessor(store sessions.Store, uploader Uploader, q JobSource, logger *zap.Logger) *RecordingProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordingProcessor{
		store:    store,
		uploader: uploader,
		queue:    q,
		http:     &http.Client{Timeout: 30 * time.Minute},
		backoff:  queue.RetryBackoff,
		logger:   logger,
	}
}

// SetHTTPClient replaces the client used to download provider files.
func (p *RecordingProcessor) SetHTTPClient(c *http.Client) { p.http = c }

// Process executes one recording upload job.
func (p *RecordingProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeRecordingUpload {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.RecordingUploadPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	log := p.logger.With(
		zap.String("session_id", payload.SessionID.String()),
		zap.String("recording_id", payload.ExternalID))

	s, err := p.store.GetSession(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if s.Recording.ExternalID != "" && s.Recording.ExternalID != payload.ExternalID {
		log.Info("recording superseded, dropping upload", zap.String("current", s.Recording.ExternalID))
		p.discard(payload)
		return nil
	}
	if s.Recording.StorageKey != "" {
		log.Info("recording already archived", zap.String("s3_key", s.Recording.StorageKey))
		p.discard(payload)
		return nil
	}

	body, size, contentType, err := p.open(ctx, payload)
	if err != nil {
		return err
	}
	defer body.Close()

	key := storage.RecordingKey(payload.SessionID.String(), payload.ExternalID)
	if err := p.uploader.UploadRecording(ctx, key, contentType, body, size); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	if _, err := sessions.AttachRecordingStorageRef(ctx, p.store, payload.SessionID, key); err != nil {
		return fmt.Errorf("attach storage ref: %w", err)
	}
	p.discard(payload)
	telemetry.Success("recording_upload")
	log.Info("recording upload completed", zap.String("s3_key", key), zap.Int64("bytes", size))
	return nil
}

func (p *RecordingProcessor) open(ctx context.Context, payload queue.RecordingUploadPayload) (io.ReadCloser, int64, string, error) {
	if payload.LocalPath != "" {
		f, err := os.Open(payload.LocalPath)
		if err != nil {
			return nil, 0, "", fmt.Errorf("open recording: %w", err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, "", fmt.Errorf("stat recording: %w", err)
		}
		return f, info.Size(), storage.ContentTypeFor(payload.LocalPath), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.SourceURL, nil)
	if err != nil {
		return nil, 0, "", fmt.Errorf("create request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, 0, "", fmt.Errorf("download: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, "", fmt.Errorf("download status: %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	return resp.Body, resp.ContentLength, contentType, nil
}

// discard removes the recorder's local output once it is no longer needed.
func (p *RecordingProcessor) discard(payload queue.RecordingUploadPayload) {
	if payload.LocalPath == "" {
		return
	}
	if err := os.Remove(filepath.Clean(payload.LocalPath)); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("remove local recording", zap.String("path", payload.LocalPath), zap.Error(err))
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *RecordingProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("recording worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			telemetry.Failure("recording_upload", "job")
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *RecordingProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
