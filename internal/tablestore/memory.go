package tablestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kursadbilgin/notification-dispatch/internal/predicate"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps tables in process and evaluates predicates with predicate.Match.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]*memoryTable
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]*memoryTable),
		now:    time.Now,
	}
}

func (s *MemoryStore) GetTable(name string) (Table, error) {
	if !validTableName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[name]
	if !ok {
		t = &memoryTable{name: name, rows: make(map[continuationKey]Entity), now: s.now}
		s.tables[name] = t
	}
	return t, nil
}

type memoryTable struct {
	name string
	now  func() time.Time

	mu   sync.RWMutex
	rows map[continuationKey]Entity
}

func (t *memoryTable) Name() string { return t.name }

func (t *memoryTable) SubmitTransaction(ctx context.Context, actions []Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	staged := make(map[continuationKey]Entity, len(actions))
	for i, action := range actions {
		key := continuationKey{PartitionKey: action.Entity.PartitionKey, RowKey: action.Entity.RowKey}
		if key.PartitionKey == "" || key.RowKey == "" {
			return fmt.Errorf("%w: action %d has an empty key", ErrTransactionFailed, i)
		}
		if _, dup := staged[key]; dup {
			return fmt.Errorf("%w: action %d repeats key %s/%s", ErrTransactionFailed, i, key.PartitionKey, key.RowKey)
		}
		if action.Kind == ActionInsert {
			if _, exists := t.rows[key]; exists {
				return fmt.Errorf("%w: entity %s/%s already exists", ErrTransactionFailed, key.PartitionKey, key.RowKey)
			}
		}

		e := action.Entity
		e.ETag = uuid.NewString()
		e.Timestamp = t.now().UTC()
		staged[key] = e
	}

	for key, e := range staged {
		t.rows[key] = e
	}
	return nil
}

func (t *memoryTable) Query(ctx context.Context, filter predicate.Predicate, pageSize int, token string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	if pageSize <= 0 {
		return Page{}, fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	var (
		after    continuationKey
		hasAfter bool
	)
	if token != "" {
		key, err := decodeToken(token)
		if err != nil {
			return Page{}, err
		}
		after, hasAfter = key, true
	}

	t.mu.RLock()
	matched := make([]Entity, 0)
	for _, e := range t.rows {
		if hasAfter && !after.before(e) {
			continue
		}
		if predicate.Match(filter, e) {
			matched = append(matched, e)
		}
	}
	t.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].PartitionKey != matched[j].PartitionKey {
			return matched[i].PartitionKey < matched[j].PartitionKey
		}
		return matched[i].RowKey < matched[j].RowKey
	})

	if len(matched) <= pageSize {
		return Page{Entities: matched}, nil
	}

	page := Page{Entities: matched[:pageSize]}
	next, err := encodeToken(page.Entities[pageSize-1])
	if err != nil {
		return Page{}, err
	}
	page.ContinuationToken = next
	return page, nil
}

func (t *memoryTable) GetEntity(ctx context.Context, partitionKey, rowKey string) (*Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.rows[continuationKey{PartitionKey: partitionKey, RowKey: rowKey}]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return &e, nil
}
