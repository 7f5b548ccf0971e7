package todos

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("todo not found")
	// ErrConflict means the row changed or vanished since its version was read.
	ErrConflict = errors.New("todo version conflict")
)

// Repository is the store handle handlers are built with. Every mutating
// method is a single write against the backing store.
type Repository interface {
	List(ctx context.Context) ([]Todo, error)
	Get(ctx context.Context, id int64) (Todo, error)
	Create(ctx context.Context, t Todo) (Todo, error)
	// Update overwrites every mutable field of t.ID, provided the stored
	// version still equals t.Version.
	Update(ctx context.Context, t Todo) (Todo, error)
	Delete(ctx context.Context, id int64) error
	Exists(ctx context.Context, id int64) (bool, error)
}

// prepareCreate applies the defaults shared by every store: the client id is
// discarded, the creation time is filled in and a fresh version is issued.
func prepareCreate(t Todo) Todo {
	t.ID = 0
	if t.CreatedDate.IsZero() {
		t.CreatedDate = time.Now().UTC()
	}
	t.Version = newVersion()
	return t
}

func newVersion() string {
	return uuid.NewString()
}

type InMemoryRepo struct {
	mu    sync.Mutex
	seq   int64
	store map[int64]Todo
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		store: make(map[int64]Todo),
	}
}

func (r *InMemoryRepo) List(_ context.Context) ([]Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Todo, 0, len(r.store))
	for _, t := range r.store {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InMemoryRepo) Get(_ context.Context, id int64) (Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.store[id]
	if !ok {
		return Todo{}, ErrNotFound
	}
	return t, nil
}

func (r *InMemoryRepo) Create(_ context.Context, t Todo) (Todo, error) {
	t = prepareCreate(t)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	t.ID = r.seq
	r.store[t.ID] = t
	return t, nil
}

func (r *InMemoryRepo) Update(_ context.Context, t Todo) (Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.store[t.ID]
	if !ok || cur.Version != t.Version {
		return Todo{}, ErrConflict
	}
	t.CreatedDate = cur.CreatedDate
	t.Version = newVersion()
	r.store[t.ID] = t
	return t, nil
}

func (r *InMemoryRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.store[id]; !ok {
		return ErrNotFound
	}
	delete(r.store, id)
	return nil
}

func (r *InMemoryRepo) Exists(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.store[id]
	return ok, nil
}
