package audit

/*
Файл agentfs.go — асинхронная персистентность журнала решений.

- Горячий путь не ждет базу: записи уходят в буферизованный канал.
- Пакетная запись (Bulk Insert) по таймеру или при достижении размера пачки.
- Drain Pattern: Stop закрывает вход, воркер вычитывает остаток и делает финальный flush.
- Журнал решений нельзя терять молча: при переполнении буфера Log ждет место
  в пределах контекста вызывающего и только потом отказывает с ошибкой.
*/

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"go.uber.org/zap"
)

var ErrStopped = errors.New("audit: writer is stopped")

// Storage определяет, куда физически сохраняется журнал
type Storage interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, entries []domain.DecisionLogEntry) error
}

type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration

	// Метрики (опционально)
	BufferFill prometheus.Gauge
	Overflows  prometheus.Counter
	FlushFails prometheus.Counter
}

func (o *Options) withDefaults() {
	if o.BufferSize <= 0 {
		o.BufferSize = 10000
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 500 * time.Millisecond
	}
}

type AgentFS struct {
	ch     chan domain.DecisionLogEntry
	repo   Storage
	opts   Options
	logger *zap.Logger
	wg     sync.WaitGroup

	// mu защищает закрытие канала: Log держит RLock на время отправки, Stop берет Lock
	mu     sync.RWMutex
	closed bool
}

func NewAgentFS(repo Storage, opts Options, logger *zap.Logger) *AgentFS {
	opts.withDefaults()
	return &AgentFS{
		ch:     make(chan domain.DecisionLogEntry, opts.BufferSize),
		repo:   repo,
		opts:   opts,
		logger: logger.Named("agentfs"),
	}
}

func (fs *AgentFS) Start() {
	fs.wg.Add(1)
	go fs.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (fs *AgentFS) Stop() {
	fs.mu.Lock()
	if fs.closed {
		fs.mu.Unlock()
		return
	}
	fs.closed = true
	fs.logger.Info("stopping decision log writer: closing channel and flushing buffer...")
	close(fs.ch)
	fs.mu.Unlock()

	fs.wg.Wait()
	fs.logger.Info("decision log writer stopped gracefully")
}

// Log ставит запись в очередь на запись.
func (fs *AgentFS) Log(ctx context.Context, entry domain.DecisionLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.closed {
		fs.logger.Warn("decision log entry dropped: writer is stopping", zap.String("situation_id", entry.SituationID))
		return ErrStopped
	}

	select {
	case fs.ch <- entry:
		fs.observeFill()
		return nil
	default:
	}

	// Буфер переполнен (Backpressure)
	if fs.opts.Overflows != nil {
		fs.opts.Overflows.Inc()
	}
	fs.logger.Warn("decision_log_buffer_overflow", zap.String("situation_id", entry.SituationID))

	select {
	case fs.ch <- entry:
		fs.observeFill()
		return nil
	case <-ctx.Done():
		fs.logger.Error("decision log entry not persisted",
			zap.String("situation_id", entry.SituationID), zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

func (fs *AgentFS) observeFill() {
	if fs.opts.BufferFill != nil {
		fs.opts.BufferFill.Set(float64(len(fs.ch)))
	}
}

func (fs *AgentFS) worker() {
	defer fs.wg.Done()

	batch := make([]domain.DecisionLogEntry, 0, fs.opts.BatchSize)
	ticker := time.NewTicker(fs.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Используем Background, так как основной контекст может быть уже закрыт
		if err := fs.repo.WriteBatch(context.Background(), batch); err != nil {
			if fs.opts.FlushFails != nil {
				fs.opts.FlushFails.Inc()
			}
			fs.logger.Error("decision log flush failed", zap.Int("size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		fs.observeFill()
	}

	for {
		select {
		case entry, ok := <-fs.ch:
			if !ok {
				// Канал закрыт в Stop(): остаток уже вычитан, делаем финальный сброс
				flush()
				fs.logger.Info("decision log worker finished")
				return
			}
			batch = append(batch, entry)
			if len(batch) >= fs.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
