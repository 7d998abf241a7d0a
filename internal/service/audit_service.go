package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GoPolymarket/polysignal/internal/model"
	"github.com/GoPolymarket/polysignal/internal/pkg/logger"
)

const (
	auditQueueSize  = 1000
	auditBufferSize = 1000
	subscriberQueue = 64
)

// AuditService fans governance audit entries out to a ring buffer, a daily JSONL file,
// an optional repository and any live stream subscribers. Log never blocks.
type AuditService struct {
	logChan chan *model.AuditEntry
	logFile *os.File
	buffer  *auditBuffer
	repo    AuditRepo
	log     *slog.Logger

	subMu  sync.RWMutex
	subs   map[int]chan *model.AuditEntry
	nextID int

	// closeMu orders Log against Close so nothing is sent on a closed channel
	closeMu   sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

type AuditRepo interface {
	Insert(ctx context.Context, entry *model.AuditEntry) error
	List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error)
}

// NewAuditService opens today's JSONL file under logDir. An empty logDir disables the file.
func NewAuditService(logDir string, repo AuditRepo) (*AuditService, error) {
	var f *os.File
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, err
		}
		// 按日轮转文件
		filename := filepath.Join(logDir, "audit-"+time.Now().Format("2006-01-02")+".jsonl")
		var err error
		f, err = os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
	}

	svc := &AuditService{
		logChan: make(chan *model.AuditEntry, auditQueueSize),
		logFile: f,
		buffer:  newAuditBuffer(auditBufferSize),
		repo:    repo,
		log:     logger.Component("audit"),
		subs:    make(map[int]chan *model.AuditEntry),
		done:    make(chan struct{}),
	}

	go svc.processLogs()

	return svc, nil
}

// Log satisfies governance.AuditSink.
func (s *AuditService) Log(entry *model.AuditEntry) {
	if entry == nil {
		return
	}
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		s.log.Warn("audit service closed, dropping entry", "evaluation_id", entry.EvaluationID, "event", entry.Event)
		return
	}
	s.buffer.Add(entry)
	s.broadcast(entry)
	select {
	case s.logChan <- entry:
	default:
		// 缓冲区满，丢弃以保护主流程
		s.log.Warn("audit queue full, dropping entry", "evaluation_id", entry.EvaluationID)
	}
}

// List prefers the repository and falls back to the in-memory buffer, newest first.
func (s *AuditService) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	if s.repo != nil {
		records, err := s.repo.List(ctx, filter)
		if err == nil {
			return records, nil
		}
		logger.LogError(ctx, err, "audit repo list failed, serving from buffer")
	}
	return s.buffer.List(filter), nil
}

// Subscribe registers a live listener. Slow listeners miss entries rather than stall Log.
func (s *AuditService) Subscribe() (<-chan *model.AuditEntry, func()) {
	ch := make(chan *model.AuditEntry, subscriberQueue)
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
			s.subMu.Unlock()
		})
	}
}

func (s *AuditService) broadcast(entry *model.AuditEntry) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

func (s *AuditService) processLogs() {
	defer close(s.done)
	var encoder *json.Encoder
	if s.logFile != nil {
		encoder = json.NewEncoder(s.logFile)
	}
	for entry := range s.logChan {
		if s.repo != nil {
			if err := s.repo.Insert(context.Background(), entry); err != nil {
				logger.LogError(context.Background(), err, "failed to write audit entry to repo",
					"evaluation_id", entry.EvaluationID)
			}
		}
		if encoder != nil {
			if err := encoder.Encode(entry); err != nil {
				s.log.Error("failed to write audit file", "error", err)
			}
		}
	}
}

// Close drains the queue, then closes the file and every subscriber.
func (s *AuditService) Close() {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		close(s.logChan)
		s.closeMu.Unlock()

		<-s.done
		if s.logFile != nil {
			s.logFile.Close()
		}
		s.subMu.Lock()
		for id, ch := range s.subs {
			delete(s.subs, id)
			close(ch)
		}
		s.subMu.Unlock()
	})
}

type auditBuffer struct {
	mu        sync.Mutex
	maxSize   int
	records   []*model.AuditEntry
	nextIndex int
}

func newAuditBuffer(maxSize int) *auditBuffer {
	if maxSize <= 0 {
		maxSize = auditBufferSize
	}
	return &auditBuffer{
		maxSize: maxSize,
		records: make([]*model.AuditEntry, 0, maxSize),
	}
}

func (b *auditBuffer) Add(entry *model.AuditEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, entry)
		return
	}
	b.records[b.nextIndex] = entry
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
}

func (b *auditBuffer) List(filter model.AuditFilter) []*model.AuditEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	limit := filter.Limit
	if limit <= 0 || limit > b.maxSize {
		limit = b.maxSize
	}
	results := make([]*model.AuditEntry, 0, limit)
	total := len(b.records)
	for i := 0; i < total; i++ {
		idx := (b.nextIndex + total - 1 - i) % total
		entry := b.records[idx]
		if !filter.Match(entry) {
			continue
		}
		results = append(results, entry)
		if len(results) >= limit {
			break
		}
	}
	return results
}
