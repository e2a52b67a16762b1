package port

import "context"

// SessionProvider is the external identity collaborator that owns the
// authenticated session once the login flow completes.
type SessionProvider interface {
	EstablishSession(ctx context.Context, userID string) (sessionID string, err error)
	CurrentUser(ctx context.Context, sessionID string) (userID string, err error)
}
