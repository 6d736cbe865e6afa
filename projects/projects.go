// Package projects persists named generation results per signed-in user and
// keeps a live, ordered view of them for the dashboard.
package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UntitledName is used for projects created without a prompt.
const UntitledName = "Untitled Project"

// nameLength is how many characters of the prompt become the default name.
const nameLength = 30

// Project is one saved artifact. ID is assigned by the store on creation and
// never changes afterwards.
type Project struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PromptText string    `json:"prompt"`
	HTML       string    `json:"html"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// Snapshot is the full list of a user's projects, newest first. Err is set
// when the live query broke; the channel is closed right after.
type Snapshot struct {
	Projects []Project
	Err      error
}

// Identity is the signed-in owner of the projects.
type Identity struct {
	UID       string `json:"uid"`
	Anonymous bool   `json:"anonymous"`
}

// Authenticator resolves an identity. An empty token asks for an anonymous
// sign-in.
type Authenticator interface {
	SignIn(ctx context.Context, token string) (Identity, error)
}

// Store is the durable per-user document store.
type Store interface {
	Create(ctx context.Context, uid string, p Project) (Project, error)
	Update(ctx context.Context, uid string, p Project) (Project, error)
	Delete(ctx context.Context, uid, id string) error
	// SubscribeAll delivers the current list immediately and again after
	// every change. The channel is closed when ctx is done.
	SubscribeAll(ctx context.Context, uid string) (<-chan Snapshot, error)
}

var (
	// ErrStoreWrite matches every StoreWriteError.
	ErrStoreWrite         = errors.New("project store write failed")
	ErrNotFound           = errors.New("project not found")
	ErrNotSignedIn        = errors.New("not signed in")
	ErrDeleteNotConfirmed = errors.New("delete not confirmed")
)

// StoreWriteError wraps a failed create, update or delete.
type StoreWriteError struct {
	Op        string
	ProjectID string
	Err       error
}

func (e *StoreWriteError) Error() string {
	if e.ProjectID != "" {
		return fmt.Sprintf("project %s %s: %v", e.Op, e.ProjectID, e.Err)
	}
	return fmt.Sprintf("project %s: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

func (e *StoreWriteError) Is(target error) bool { return target == ErrStoreWrite }

// ConfirmedDelete is proof that the user confirmed deleting one project.
// Only ConfirmDelete produces a usable value.
type ConfirmedDelete struct {
	id        string
	confirmed bool
}

// ConfirmDelete is called once the user has agreed to delete id.
func ConfirmDelete(id string) ConfirmedDelete {
	return ConfirmedDelete{id: id, confirmed: id != ""}
}

// ID returns the project the confirmation is for.
func (c ConfirmedDelete) ID() string { return c.id }

// DefaultName derives a project name from the first characters of the prompt.
func DefaultName(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return UntitledName
	}
	r := []rune(prompt)
	if len(r) > nameLength {
		r = r[:nameLength]
	}
	return string(r)
}
