package history

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"go.uber.org/zap"
)

// Sink: долговременное хранение записей (AgentFS -> Postgres).
type Sink interface {
	Log(ctx context.Context, entry domain.DecisionLogEntry) error
}

// Loader: источник записей для прогрева индекса при старте.
type Loader interface {
	LoadRecent(ctx context.Context, limit int) ([]domain.DecisionLogEntry, error)
}

const defaultRetention = 1000

// Store: журнал решений. Чтение идет из RAM-индекса по типу задачи,
// запись добавляется в индекс и асинхронно уходит в Sink.
type Store struct {
	mu     sync.RWMutex
	seen   map[string]struct{}                  // ID записей в индексе (повтор той же записи от ретрая)
	byType map[string][]domain.DecisionLogEntry // в порядке добавления

	limit     int // сколько похожих записей отдает FindSimilar
	retention int // сколько записей хранить на тип задачи

	sink   Sink
	logger *zap.Logger
}

type Option func(*Store)

// WithRetention ограничивает число записей в RAM на один тип задачи.
func WithRetention(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retention = n
		}
	}
}

func NewStore(limit int, sink Sink, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		seen:      make(map[string]struct{}),
		byType:    make(map[string][]domain.DecisionLogEntry),
		limit:     limit,
		retention: defaultRetention,
		sink:      sink,
		logger:    logger.Named("history"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Append добавляет запись. Повтор записи с тем же ID игнорируется; разные циклы одной
// ситуации пишутся все, чтобы каждое исполнение осталось в журнале.
// Ошибка возвращается только если запись не удалось передать в Sink; в индексе она уже есть.
func (s *Store) Append(ctx context.Context, entry domain.DecisionLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if !s.insert(entry) {
		s.logger.Debug("duplicate decision log entry ignored",
			zap.String("entry_id", entry.ID), zap.String("situation_id", entry.SituationID))
		return nil
	}
	if s.sink == nil {
		return nil
	}
	return s.sink.Log(ctx, entry)
}

func (s *Store) insert(entry domain.DecisionLogEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[entry.ID]; dup {
		return false
	}
	s.seen[entry.ID] = struct{}{}

	list := append(s.byType[entry.TaskType], entry)
	if over := len(list) - s.retention; over > 0 {
		for _, old := range list[:over] {
			delete(s.seen, old.ID)
		}
		list = append([]domain.DecisionLogEntry(nil), list[over:]...)
	}
	s.byType[entry.TaskType] = list
	return true
}

// FindSimilar: записи того же типа задачи с пересекающимися ключами контекста, новые первыми.
// Если у ситуации нет ключей контекста, похожесть определяется только типом.
// Каждая ситуация попадает в выборку один раз (последний цикл), чтобы повторы не считались дважды.
func (s *Store) FindSimilar(ctx context.Context, sit *domain.Situation) ([]domain.DecisionLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := make(map[string]struct{})
	for _, k := range sit.ContextKeys() {
		keys[k] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byType[sit.Task.Type]
	res := make([]domain.DecisionLogEntry, 0, min(len(list), s.limit))
	taken := make(map[string]struct{})
	for i := len(list) - 1; i >= 0 && len(res) < s.limit; i-- {
		e := list[i]
		if e.SituationID == sit.ID {
			continue
		}
		if _, dup := taken[e.SituationID]; dup {
			continue
		}
		if len(keys) > 0 && !overlaps(keys, e.ContextKeys) {
			continue
		}
		taken[e.SituationID] = struct{}{}
		res = append(res, e)
	}
	return res, nil
}

// Warmup загружает последние записи из хранилища в индекс (без повторной записи в Sink).
func (s *Store) Warmup(ctx context.Context, loader Loader, limit int) error {
	entries, err := loader.LoadRecent(ctx, limit)
	if err != nil {
		return err
	}
	loaded := 0
	for _, e := range entries {
		if s.insert(e) {
			loaded++
		}
	}
	s.logger.Info("history index warmed up", zap.Int("entries", loaded))
	return nil
}

// Len: число записей в индексе.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

func overlaps(keys map[string]struct{}, other []string) bool {
	for _, k := range other {
		if _, ok := keys[k]; ok {
			return true
		}
	}
	return false
}
