// Package identity resolves a session id to its session and applies capture
// status already achieved by the same visitor in another session.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"example.com/planwidget/internal/ledger"
)

// Ledger is the subset of the session store the resolver needs.
type Ledger interface {
	GetSession(ctx context.Context, id string) (ledger.Session, error)
	FindCapturedSibling(ctx context.Context, anonymousID, builderSlug, excludeID string) (ledger.Session, bool, error)
	MarkCaptured(ctx context.Context, sessionID, contactID string, capturedAt time.Time) (bool, error)
}

// Resolver looks up sessions and performs cross-session capture discovery.
type Resolver struct {
	ledger Ledger
	logger *slog.Logger
}

func NewResolver(l Ledger, logger *slog.Logger) *Resolver {
	return &Resolver{ledger: l, logger: logger}
}

// ResolveSession returns the session for id. An uncaptured session whose
// visitor already captured on the same builder in another session is marked
// captured with that sibling's contact before it is returned.
// ledger.ErrSessionNotFound is returned for unknown ids.
func (r *Resolver) ResolveSession(ctx context.Context, id string) (ledger.Session, error) {
	session, err := r.ledger.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrSessionNotFound) {
			return ledger.Session{}, err
		}
		return ledger.Session{}, fmt.Errorf("resolve session: %w", err)
	}
	if session.IsCaptured {
		return session, nil
	}

	sibling, found, err := r.ledger.FindCapturedSibling(ctx, session.AnonymousID, session.BuilderSlug, session.ID)
	if err != nil {
		return ledger.Session{}, fmt.Errorf("discover sibling capture: %w", err)
	}
	if !found {
		return session, nil
	}

	capturedAt := time.Now().UTC()
	if sibling.CapturedAt != nil {
		capturedAt = *sibling.CapturedAt
	}
	changed, err := r.ledger.MarkCaptured(ctx, session.ID, sibling.ContactID, capturedAt)
	if err != nil {
		return ledger.Session{}, fmt.Errorf("apply sibling capture: %w", err)
	}
	if !changed {
		// captured concurrently; reload to pick up the winning contact
		return r.ledger.GetSession(ctx, id)
	}

	r.logger.Info("capture discovered from sibling session",
		"session_id", session.ID,
		"sibling_session_id", sibling.ID,
		"anonymous_id", session.AnonymousID,
		"builder_slug", session.BuilderSlug,
		"contact_id", sibling.ContactID,
	)
	session.IsCaptured = true
	session.ContactID = sibling.ContactID
	session.CapturedAt = &capturedAt
	return session, nil
}
