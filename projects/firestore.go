package projects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirebaseConfig selects the Firebase project. CredentialsFile may be empty
// when application default credentials or the emulator are used.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// NewFirebaseApp initialises the Admin SDK app shared by the store and the
// authenticator.
func NewFirebaseApp(ctx context.Context, cfg FirebaseConfig) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	var fbCfg *firebase.Config
	if cfg.ProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	return app, nil
}

// projectDoc is the stored document shape.
type projectDoc struct {
	Name      string    `firestore:"name"`
	Prompt    string    `firestore:"prompt"`
	HTML      string    `firestore:"html"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt,omitempty"`
}

// FirestoreStore keeps projects under artifacts/{appID}/users/{uid}/projects.
type FirestoreStore struct {
	client *firestore.Client
	appID  string
	logger *zap.Logger
}

// NewFirestoreStore opens the Firestore client of app.
func NewFirestoreStore(ctx context.Context, app *firebase.App, appID string, logger *zap.Logger) (*FirestoreStore, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open firestore: %w", err)
	}
	return NewFirestoreStoreFromClient(client, appID, logger), nil
}

func NewFirestoreStoreFromClient(client *firestore.Client, appID string, logger *zap.Logger) *FirestoreStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if appID == "" {
		appID = "default-app-id"
	}
	return &FirestoreStore{client: client, appID: appID, logger: logger.Named("firestore")}
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) collection(uid string) *firestore.CollectionRef {
	return s.client.Collection("artifacts").Doc(s.appID).
		Collection("users").Doc(uid).
		Collection("projects")
}

func (s *FirestoreStore) Create(ctx context.Context, uid string, p Project) (Project, error) {
	ref, wr, err := s.collection(uid).Add(ctx, map[string]any{
		"name":      p.Name,
		"prompt":    p.PromptText,
		"html":      p.HTML,
		"createdAt": firestore.ServerTimestamp,
	})
	if err != nil {
		return Project{}, err
	}
	p.ID = ref.ID
	p.CreatedAt = wr.UpdateTime
	p.UpdatedAt = time.Time{}
	return p, nil
}

func (s *FirestoreStore) Update(ctx context.Context, uid string, p Project) (Project, error) {
	ref := s.collection(uid).Doc(p.ID)
	wr, err := ref.Update(ctx, []firestore.Update{
		{Path: "name", Value: p.Name},
		{Path: "prompt", Value: p.PromptText},
		{Path: "html", Value: p.HTML},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Project{}, ErrNotFound
		}
		return Project{}, err
	}
	p.UpdatedAt = wr.UpdateTime
	return p, nil
}

func (s *FirestoreStore) Delete(ctx context.Context, uid, id string) error {
	_, err := s.collection(uid).Doc(id).Delete(ctx)
	return err
}

// SubscribeAll runs a live query ordered by creation time, newest first.
func (s *FirestoreStore) SubscribeAll(ctx context.Context, uid string) (<-chan Snapshot, error) {
	it := s.collection(uid).OrderBy("createdAt", firestore.Desc).Snapshots(ctx)
	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
					return
				}
				s.logger.Error("project snapshot failed", zap.String("uid", uid), zap.Error(err))
				sendLatest(ctx, out, Snapshot{Err: err})
				return
			}
			docs, err := qs.Documents.GetAll()
			if err != nil {
				sendLatest(ctx, out, Snapshot{Err: err})
				return
			}
			list := make([]Project, 0, len(docs))
			for _, d := range docs {
				var pd projectDoc
				if err := d.DataTo(&pd); err != nil {
					s.logger.Warn("skip undecodable project", zap.String("project_id", d.Ref.ID), zap.Error(err))
					continue
				}
				list = append(list, Project{
					ID:         d.Ref.ID,
					Name:       pd.Name,
					PromptText: pd.Prompt,
					HTML:       pd.HTML,
					CreatedAt:  pd.CreatedAt,
					UpdatedAt:  pd.UpdatedAt,
				})
			}
			sendLatest(ctx, out, Snapshot{Projects: list})
		}
	}()
	return out, nil
}

// sendLatest replaces an unread snapshot so slow readers only see the newest.
func sendLatest(ctx context.Context, out chan Snapshot, snap Snapshot) {
	select {
	case <-out:
	default:
	}
	select {
	case out <- snap:
	case <-ctx.Done():
	}
}
