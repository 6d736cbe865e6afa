package projects

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"webforge/generator"
)

// Dashboard caches the signed-in user's projects and tracks the project
// currently open in the editor. Every snapshot replaces the cache in full.
type Dashboard struct {
	adapter *Adapter
	logger  *zap.Logger

	mu       sync.RWMutex
	projects []Project
	current  *Project
	ready    bool
	lastErr  error
	watchers map[chan []Project]struct{}
}

func NewDashboard(adapter *Adapter, logger *zap.Logger) *Dashboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dashboard{
		adapter:  adapter,
		logger:   logger.Named("dashboard"),
		watchers: make(map[chan []Project]struct{}),
	}
}

// Watch streams the cached list after every change, starting with the
// current one once the first snapshot arrived. A slow reader only sees the
// newest list. The channel is closed when ctx is done.
func (d *Dashboard) Watch(ctx context.Context) <-chan []Project {
	ch := make(chan []Project, 1)
	d.mu.Lock()
	d.watchers[ch] = struct{}{}
	if d.ready {
		ch <- append([]Project(nil), d.projects...)
	}
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.mu.Lock()
		delete(d.watchers, ch)
		close(ch)
		d.mu.Unlock()
	}()
	return ch
}

func (d *Dashboard) notifyLocked() {
	for ch := range d.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- append([]Project(nil), d.projects...)
	}
}

// Run subscribes to the store and applies snapshots until ctx is done or
// the subscription breaks.
func (d *Dashboard) Run(ctx context.Context) error {
	ch, err := d.adapter.Subscribe(ctx)
	if err != nil {
		return err
	}
	for snap := range ch {
		if snap.Err != nil {
			d.mu.Lock()
			d.lastErr = snap.Err
			d.mu.Unlock()
			d.logger.Error("project subscription failed", zap.Error(snap.Err))
			return snap.Err
		}
		d.Apply(snap)
	}
	return ctx.Err()
}

// Apply replaces the cached list. The current project follows its latest
// stored version; only Delete closes it.
func (d *Dashboard) Apply(snap Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.projects = append([]Project(nil), snap.Projects...)
	d.ready = true
	d.lastErr = nil
	d.notifyLocked()
	if d.current == nil {
		return
	}
	for _, p := range d.projects {
		if p.ID == d.current.ID {
			cp := p
			d.current = &cp
			return
		}
	}
}

// Projects returns the cached list, newest first.
func (d *Dashboard) Projects() []Project {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Project(nil), d.projects...)
}

// Ready reports whether the first snapshot has arrived.
func (d *Dashboard) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ready
}

func (d *Dashboard) Err() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr
}

func (d *Dashboard) Current() (Project, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.current == nil {
		return Project{}, false
	}
	return *d.current, true
}

// NewProject closes the current project; the next save creates a new one.
func (d *Dashboard) NewProject() {
	d.mu.Lock()
	d.current = nil
	d.mu.Unlock()
}

// Open makes a cached project current.
func (d *Dashboard) Open(id string) (Project, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.projects {
		if p.ID == id {
			cp := p
			d.current = &cp
			return p, nil
		}
	}
	return Project{}, ErrNotFound
}

// SaveResult writes res into the current project, or creates one named
// after the prompt when none is open. Local state only changes after the
// store accepted the write.
func (d *Dashboard) SaveResult(ctx context.Context, res generator.GenerationResult) (Project, error) {
	d.mu.RLock()
	var cur *Project
	if d.current != nil {
		cp := *d.current
		cur = &cp
	}
	d.mu.RUnlock()

	if cur == nil {
		created, err := d.adapter.CreateFromResult(ctx, "", res)
		if err != nil {
			return Project{}, err
		}
		d.mu.Lock()
		d.current = &created
		d.projects = upsert(d.projects, created)
		d.notifyLocked()
		d.mu.Unlock()
		return created, nil
	}

	cur.PromptText = res.Request.PromptText
	cur.HTML = res.Text
	updated, err := d.adapter.Update(ctx, *cur)
	if err != nil {
		return Project{}, err
	}
	d.mu.Lock()
	d.current = &updated
	d.projects = upsert(d.projects, updated)
	d.notifyLocked()
	d.mu.Unlock()
	return updated, nil
}

// Rename changes the name of the current project.
func (d *Dashboard) Rename(ctx context.Context, name string) (Project, error) {
	cur, ok := d.Current()
	if !ok {
		return Project{}, ErrNotFound
	}
	cur.Name = name
	if cur.Name == "" {
		cur.Name = UntitledName
	}
	updated, err := d.adapter.Update(ctx, cur)
	if err != nil {
		return Project{}, err
	}
	d.mu.Lock()
	d.current = &updated
	d.projects = upsert(d.projects, updated)
	d.notifyLocked()
	d.mu.Unlock()
	return updated, nil
}

// Delete removes a confirmed project from the store and the cache, and
// closes it if it was open.
func (d *Dashboard) Delete(ctx context.Context, c ConfirmedDelete) error {
	if err := d.adapter.Delete(ctx, c); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.projects[:0:0]
	for _, p := range d.projects {
		if p.ID != c.ID() {
			kept = append(kept, p)
		}
	}
	d.projects = kept
	d.notifyLocked()
	if d.current != nil && d.current.ID == c.ID() {
		d.current = nil
	}
	return nil
}

// upsert replaces p in list or puts it at the head.
func upsert(list []Project, p Project) []Project {
	out := make([]Project, 0, len(list)+1)
	found := false
	for _, q := range list {
		if q.ID == p.ID {
			out = append(out, p)
			found = true
			continue
		}
		out = append(out, q)
	}
	if !found {
		out = append([]Project{p}, out...)
	}
	return out
}
