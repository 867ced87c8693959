// Package capture turns an anonymous visitor into a lead: it validates the
// contact form, marks the visitor captured on every session for the builder
// and hands the lead to the CRM forwarder.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"example.com/planwidget/internal/ledger"
)

// ErrSessionNotFound is returned when the capture targets an unknown session.
var ErrSessionNotFound = ledger.ErrSessionNotFound

// SessionResolver resolves a session id, applying sibling capture discovery.
type SessionResolver interface {
	ResolveSession(ctx context.Context, id string) (ledger.Session, error)
}

// Ledger is the subset of the session store capture writes to.
// RecordCapture must store the contact, mark the session and back-fill its
// siblings atomically.
type Ledger interface {
	RecordCapture(ctx context.Context, c ledger.Contact, capturedAt time.Time) (ledger.CaptureOutcome, error)
}

// LeadForwarder delivers a captured lead to downstream systems. Failures are
// logged by the coordinator and never fail a capture.
type LeadForwarder interface {
	ForwardLead(ctx context.Context, lead Lead) error
}

// Lead is the payload handed to the forwarder after a successful capture.
type Lead struct {
	ContactID     string                `json:"contact_id"`
	SessionID     string                `json:"session_id"`
	AnonymousID   string                `json:"anonymous_id"`
	BuilderSlug   string                `json:"builder_slug"`
	PlanID        string                `json:"plan_id"`
	FirstName     string                `json:"first_name"`
	LastName      string                `json:"last_name"`
	Email         string                `json:"email"`
	Phone         string                `json:"phone"`
	CapturedAt    time.Time             `json:"captured_at"`
	Modifications []ledger.Modification `json:"modifications"`
}

// Result describes the outcome of a Capture call.
type Result struct {
	ContactID       string
	CapturedAt      time.Time
	AlreadyCaptured bool
	Backfilled      int
	Session         ledger.Session
}

// Coordinator runs the capture state transition.
type Coordinator struct {
	resolver  SessionResolver
	ledger    Ledger
	forwarder LeadForwarder
	logger    *slog.Logger
	now       func() time.Time
}

// NewCoordinator wires a coordinator. forwarder may be nil to skip delivery.
func NewCoordinator(resolver SessionResolver, l Ledger, forwarder LeadForwarder, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		resolver:  resolver,
		ledger:    l,
		forwarder: forwarder,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Capture validates info and marks the session's visitor captured for the
// builder. Capturing an already-captured session is a successful no-op that
// reports AlreadyCaptured and keeps the original contact and timestamp.
func (c *Coordinator) Capture(ctx context.Context, sessionID string, info ContactInfo) (Result, error) {
	info = info.Normalize()
	if err := info.Validate(); err != nil {
		return Result{}, err
	}

	session, err := c.resolver.ResolveSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ledger.ErrSessionNotFound) {
			return Result{}, ErrSessionNotFound
		}
		return Result{}, fmt.Errorf("load session: %w", err)
	}
	if session.IsCaptured {
		res := Result{ContactID: session.ContactID, AlreadyCaptured: true, Session: session}
		if session.CapturedAt != nil {
			res.CapturedAt = *session.CapturedAt
		}
		return res, nil
	}

	capturedAt := c.now()
	contact := ledger.Contact{
		ID:          ulid.Make().String(),
		AnonymousID: session.AnonymousID,
		BuilderSlug: session.BuilderSlug,
		SessionID:   session.ID,
		FirstName:   info.FirstName,
		LastName:    info.LastName,
		Email:       info.Email,
		Phone:       info.Phone,
		CreatedAt:   capturedAt,
	}
	outcome, err := c.ledger.RecordCapture(ctx, contact, capturedAt)
	if err != nil {
		return Result{}, fmt.Errorf("record capture: %w", err)
	}
	if !outcome.Captured {
		// lost a race with a concurrent capture; the earlier one stands
		latest, err := c.resolver.ResolveSession(ctx, session.ID)
		if err != nil {
			return Result{}, fmt.Errorf("reload session: %w", err)
		}
		res := Result{ContactID: latest.ContactID, AlreadyCaptured: true, Session: latest}
		if latest.CapturedAt != nil {
			res.CapturedAt = *latest.CapturedAt
		}
		return res, nil
	}

	session.IsCaptured = true
	session.ContactID = contact.ID
	session.CapturedAt = &capturedAt

	c.logger.Info("visitor captured",
		"session_id", session.ID,
		"anonymous_id", session.AnonymousID,
		"builder_slug", session.BuilderSlug,
		"contact_id", contact.ID,
		"backfilled", outcome.Backfilled,
	)

	c.forward(ctx, Lead{
		ContactID:     contact.ID,
		SessionID:     session.ID,
		AnonymousID:   session.AnonymousID,
		BuilderSlug:   session.BuilderSlug,
		PlanID:        session.PlanID,
		FirstName:     contact.FirstName,
		LastName:      contact.LastName,
		Email:         contact.Email,
		Phone:         contact.Phone,
		CapturedAt:    capturedAt,
		Modifications: session.Modifications,
	})

	return Result{
		ContactID:  contact.ID,
		CapturedAt: capturedAt,
		Backfilled: outcome.Backfilled,
		Session:    session,
	}, nil
}

func (c *Coordinator) forward(ctx context.Context, lead Lead) {
	if c.forwarder == nil {
		return
	}
	if err := c.forwarder.ForwardLead(ctx, lead); err != nil {
		c.logger.Warn("lead forwarding failed",
			"contact_id", lead.ContactID,
			"session_id", lead.SessionID,
			"builder_slug", lead.BuilderSlug,
			"error", err,
		)
	}
}
