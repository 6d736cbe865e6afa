package projects

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps projects in process memory. FailWrites, when set, makes
// every write fail without touching the data.
type MemoryStore struct {
	mu         sync.Mutex
	docs       map[string]map[string]memDoc
	seq        uint64
	subs       map[string]map[chan Snapshot]struct{}
	now        func() time.Time
	FailWrites error
}

type memDoc struct {
	project Project
	seq     uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]map[string]memDoc),
		subs: make(map[string]map[chan Snapshot]struct{}),
		now:  time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, uid string, p Project) (Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return Project{}, m.FailWrites
	}
	if m.docs[uid] == nil {
		m.docs[uid] = make(map[string]memDoc)
	}
	p.ID = uuid.NewString()
	p.CreatedAt = m.now()
	p.UpdatedAt = p.CreatedAt
	m.seq++
	m.docs[uid][p.ID] = memDoc{project: p, seq: m.seq}
	m.publishLocked(uid)
	return p, nil
}

func (m *MemoryStore) Update(_ context.Context, uid string, p Project) (Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return Project{}, m.FailWrites
	}
	old, ok := m.docs[uid][p.ID]
	if !ok {
		return Project{}, ErrNotFound
	}
	p.CreatedAt = old.project.CreatedAt
	p.UpdatedAt = m.now()
	m.docs[uid][p.ID] = memDoc{project: p, seq: old.seq}
	m.publishLocked(uid)
	return p, nil
}

func (m *MemoryStore) Delete(_ context.Context, uid, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	if _, ok := m.docs[uid][id]; !ok {
		return ErrNotFound
	}
	delete(m.docs[uid], id)
	m.publishLocked(uid)
	return nil
}

func (m *MemoryStore) SubscribeAll(ctx context.Context, uid string) (<-chan Snapshot, error) {
	ch := make(chan Snapshot, 1)
	m.mu.Lock()
	if m.subs[uid] == nil {
		m.subs[uid] = make(map[chan Snapshot]struct{})
	}
	m.subs[uid][ch] = struct{}{}
	ch <- Snapshot{Projects: m.listLocked(uid)}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs[uid], ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *MemoryStore) listLocked(uid string) []Project {
	docs := make([]memDoc, 0, len(m.docs[uid]))
	for _, d := range m.docs[uid] {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].seq > docs[j].seq })
	list := make([]Project, len(docs))
	for i, d := range docs {
		list[i] = d.project
	}
	return list
}

// publishLocked hands every subscriber the latest list. A subscriber that
// has not read the previous snapshot only gets the newest one.
func (m *MemoryStore) publishLocked(uid string) {
	snap := Snapshot{Projects: m.listLocked(uid)}
	for ch := range m.subs[uid] {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
