package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/liftoff-labs/gymcore/pkg/storage"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	cfg := storage.DefaultConfig()
	cfg.Driver = storage.DialectSQLite
	cfg.DatabaseURL = ":memory:"

	cm, err := storage.NewConnectionManager(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { cm.Close() })
	require.NoError(t, storage.Migrate(context.Background(), cm.Primary(), storage.DialectSQLite))

	return NewSQLStore(cm, nil)
}

// stepClock returns a clock that advances one second per call from start.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Second)
		return t
	}
}

// seqIDs returns a generator of zero-padded ids so id order matches
// creation order.
func seqIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("00000000-0000-0000-0000-%012d", n)
	}
}

var errStoreDown = errors.New("store down")

// memStore is an in-memory Store for pipeline tests.
type memStore struct {
	mu        sync.Mutex
	entries   []Entry
	insertErr error
	queryErr  error
	panicOn   bool
	inserted  chan struct{}
}

func newMemStore() *memStore {
	return &memStore{inserted: make(chan struct{}, 16)}
}

func (m *memStore) Insert(_ context.Context, e *Entry) error {
	if m.panicOn {
		panic("insert exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.entries = append(m.entries, *e)
	select {
	case m.inserted <- struct{}{}:
	default:
	}
	return nil
}

func (m *memStore) all() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *memStore) forGym(gymID string) []Entry {
	var out []Entry
	for _, e := range m.all() {
		if e.GymID == gymID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *memStore) Query(_ context.Context, gymID string, f Filter) (*Page, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if gymID == "" {
		return nil, ErrGymRequired
	}
	f, err := f.Normalize()
	if err != nil {
		return nil, err
	}
	var matched []Entry
	for _, e := range m.forGym(gymID) {
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		matched = append(matched, e)
	}
	start := f.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + f.Limit
	if end > len(matched) {
		end = len(matched)
	}
	logs := append([]Entry{}, matched[start:end]...)
	return &Page{Logs: logs, Pagination: NewPagination(f.Page, f.Limit, len(matched))}, nil
}

func (m *memStore) ActionCounts(_ context.Context, gymID string) ([]ActionCount, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	counts := map[Action]int{}
	for _, e := range m.forGym(gymID) {
		counts[e.Action]++
	}
	out := []ActionCount{}
	for a, n := range counts {
		out = append(out, ActionCount{Action: a, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Action < out[j].Action
	})
	return out, nil
}

func (m *memStore) EntityTypeCounts(_ context.Context, gymID string) ([]EntityTypeCount, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	counts := map[EntityType]int{}
	for _, e := range m.forGym(gymID) {
		counts[e.EntityType]++
	}
	out := []EntityTypeCount{}
	for et, n := range counts {
		out = append(out, EntityTypeCount{EntityType: et, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].EntityType < out[j].EntityType
	})
	return out, nil
}

func (m *memStore) Recent(_ context.Context, gymID string, limit int) ([]Entry, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if limit < 1 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	out := m.forGym(gymID)
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []Entry{}
	}
	return out, nil
}
