package projects

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"webforge/generator"
	"webforge/metrics"
)

// Adapter binds a Store to the signed-in identity and turns every failed
// write into a StoreWriteError.
type Adapter struct {
	store   Store
	owner   Identity
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewAdapter(store Store, owner Identity, logger *zap.Logger, m *metrics.Metrics) (*Adapter, error) {
	if store == nil {
		return nil, errors.New("project store required")
	}
	if owner.UID == "" {
		return nil, ErrNotSignedIn
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		store:   store,
		owner:   owner,
		logger:  logger.Named("projects").With(zap.String("uid", owner.UID)),
		metrics: m,
	}, nil
}

// Owner returns the identity the adapter writes for.
func (a *Adapter) Owner() Identity { return a.owner }

// CreateFromResult stores res as a new project. An empty name falls back to
// the start of the prompt.
func (a *Adapter) CreateFromResult(ctx context.Context, name string, res generator.GenerationResult) (Project, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultName(res.Request.PromptText)
	}
	return a.Create(ctx, Project{Name: name, PromptText: res.Request.PromptText, HTML: res.Text})
}

func (a *Adapter) Create(ctx context.Context, p Project) (Project, error) {
	p.ID = ""
	if p.Name == "" {
		p.Name = UntitledName
	}
	created, err := a.store.Create(ctx, a.owner.UID, p)
	a.metrics.ObserveProjectWrite("create", err)
	if err != nil {
		a.logger.Error("create project failed", zap.Error(err))
		return Project{}, &StoreWriteError{Op: "create", Err: err}
	}
	a.logger.Info("project created", zap.String("project_id", created.ID))
	return created, nil
}

func (a *Adapter) Update(ctx context.Context, p Project) (Project, error) {
	if p.ID == "" {
		return Project{}, &StoreWriteError{Op: "update", Err: ErrNotFound}
	}
	updated, err := a.store.Update(ctx, a.owner.UID, p)
	a.metrics.ObserveProjectWrite("update", err)
	if err != nil {
		a.logger.Error("update project failed", zap.String("project_id", p.ID), zap.Error(err))
		return Project{}, &StoreWriteError{Op: "update", ProjectID: p.ID, Err: err}
	}
	return updated, nil
}

// Delete removes a project the user confirmed deleting.
func (a *Adapter) Delete(ctx context.Context, c ConfirmedDelete) error {
	if !c.confirmed {
		return ErrDeleteNotConfirmed
	}
	err := a.store.Delete(ctx, a.owner.UID, c.id)
	a.metrics.ObserveProjectWrite("delete", err)
	if err != nil {
		a.logger.Error("delete project failed", zap.String("project_id", c.id), zap.Error(err))
		return &StoreWriteError{Op: "delete", ProjectID: c.id, Err: err}
	}
	a.logger.Info("project deleted", zap.String("project_id", c.id))
	return nil
}

func (a *Adapter) Subscribe(ctx context.Context) (<-chan Snapshot, error) {
	return a.store.SubscribeAll(ctx, a.owner.UID)
}
