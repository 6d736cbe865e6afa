package projects

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FirebaseAuthenticator verifies client ID tokens, or creates a fresh
// anonymous account when no token is given.
type FirebaseAuthenticator struct {
	client *auth.Client
	logger *zap.Logger
}

func NewFirebaseAuthenticator(ctx context.Context, app *firebase.App, logger *zap.Logger) (*FirebaseAuthenticator, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("open firebase auth: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirebaseAuthenticator{client: client, logger: logger.Named("auth")}, nil
}

func (a *FirebaseAuthenticator) SignIn(ctx context.Context, token string) (Identity, error) {
	if token != "" {
		tok, err := a.client.VerifyIDToken(ctx, token)
		if err != nil {
			return Identity{}, fmt.Errorf("verify id token: %w", err)
		}
		return Identity{UID: tok.UID, Anonymous: tok.Firebase.SignInProvider == "anonymous"}, nil
	}
	u, err := a.client.CreateUser(ctx, &auth.UserToCreate{})
	if err != nil {
		return Identity{}, fmt.Errorf("create anonymous user: %w", err)
	}
	a.logger.Info("anonymous user created", zap.String("uid", u.UID))
	return Identity{UID: u.UID, Anonymous: true}, nil
}

// StaticAuthenticator signs every caller in as one fixed user. It backs the
// memory and redis stores where no identity service exists.
type StaticAuthenticator struct {
	UID string
}

func (a StaticAuthenticator) SignIn(_ context.Context, token string) (Identity, error) {
	switch {
	case token != "":
		return Identity{UID: token}, nil
	case a.UID != "":
		return Identity{UID: a.UID}, nil
	default:
		return Identity{UID: uuid.NewString(), Anonymous: true}, nil
	}
}
