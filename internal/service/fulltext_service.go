package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/libsync-api/internal/models"
	"github.com/noah-isme/libsync-api/pkg/jobs"
)

const (
	jobIndexItem  = "fulltext.index"
	jobRemoveItem = "fulltext.remove"
)

type fullTextJob struct {
	Library models.Library
	Key     string
	Text    string
}

// FullTextConfig configures the indexing workers.
type FullTextConfig struct {
	Workers    int
	MaxRetries int
}

// FullTextService is an eventually consistent in-process word index over item text.
// Updates flow through a job queue, so searches may briefly miss the newest writes.
type FullTextService struct {
	mu     sync.RWMutex
	docs   map[string]map[string]string
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewFullTextService builds the index and its queue. Call Start before use.
func NewFullTextService(cfg FullTextConfig, logger *zap.Logger) *FullTextService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FullTextService{docs: map[string]map[string]string{}, logger: logger}
	s.queue = jobs.NewQueue("fulltext", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	return s
}

// Start launches the indexing workers.
func (s *FullTextService) Start(ctx context.Context) { s.queue.Start(ctx) }

// Stop halts the workers. Pending jobs are dropped.
func (s *FullTextService) Stop() { s.queue.Stop() }

// Wait blocks until queued updates are applied.
func (s *FullTextService) Wait(ctx context.Context) error { return s.queue.Wait(ctx) }

// IndexItems queues the searchable text of items.
func (s *FullTextService) IndexItems(lib models.Library, items []*models.Object) {
	for _, item := range items {
		text := itemFullText(item)
		jobType := jobIndexItem
		if text == "" || item.Deleted {
			jobType = jobRemoveItem
		}
		s.enqueue(jobType, fullTextJob{Library: lib, Key: item.Key, Text: text})
	}
}

// RemoveItems queues removal of deleted items.
func (s *FullTextService) RemoveItems(lib models.Library, keys []string) {
	for _, key := range keys {
		s.enqueue(jobRemoveItem, fullTextJob{Library: lib, Key: key})
	}
}

func (s *FullTextService) enqueue(jobType string, payload fullTextJob) {
	job := jobs.Job{ID: uuid.NewString(), Type: jobType, Partition: payload.Library.String(), Payload: payload}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("full-text update dropped",
			zap.String("library", payload.Library.String()),
			zap.String("key", payload.Key),
			zap.Error(err),
		)
	}
}

func (s *FullTextService) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(fullTextJob)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	lib := payload.Library.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	switch job.Type {
	case jobIndexItem:
		if s.docs[lib] == nil {
			s.docs[lib] = map[string]string{}
		}
		s.docs[lib][payload.Key] = strings.ToLower(payload.Text)
	case jobRemoveItem:
		delete(s.docs[lib], payload.Key)
	default:
		return fmt.Errorf("unknown job type %s", job.Type)
	}
	return nil
}

// Search returns keys of items whose text contains every word.
func (s *FullTextService) Search(lib models.Library, words []string) map[string]struct{} {
	out := map[string]struct{}{}
	if len(words) == 0 {
		return out
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, text := range s.docs[lib.String()] {
		matched := true
		for _, w := range words {
			if !strings.Contains(text, strings.ToLower(w)) {
				matched = false
				break
			}
		}
		if matched {
			out[key] = struct{}{}
		}
	}
	return out
}

// itemFullText is the text indexed for an item: note bodies and annotation text/comments.
func itemFullText(item *models.Object) string {
	var parts []string
	if note := item.Field("note"); note != "" {
		parts = append(parts, noteText(note))
	}
	for _, field := range []string{"annotationText", "annotationComment"} {
		if v := item.Field(field); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n")
}
