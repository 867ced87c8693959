// Package gateway runs metered AI operations against a session: it resolves
// the session, consults the metering policy on the visitor's aggregate usage,
// calls the image generator and records the result in the ledger.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"example.com/planwidget/internal/generator"
	"example.com/planwidget/internal/ledger"
	"example.com/planwidget/internal/metering"
)

var (
	ErrSessionNotFound  = ledger.ErrSessionNotFound
	ErrCaptureRequired  = errors.New("contact capture required")
	ErrLimitReached     = errors.New("interaction limit reached")
	ErrGenerationFailed = errors.New("image generation failed")
	ErrInvalidOperation = errors.New("invalid operation")
)

// Ledger is the subset of the session store the gateway reads and writes.
type Ledger interface {
	SumInteractionCount(ctx context.Context, anonymousID, builderSlug string) (int, error)
	AppendModificationAndIncrement(ctx context.Context, sessionID string, mod ledger.Modification) (ledger.Session, error)
	AppendModification(ctx context.Context, sessionID string, mod ledger.Modification) (ledger.Modification, error)
}

type SessionResolver interface {
	ResolveSession(ctx context.Context, id string) (ledger.Session, error)
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, req generator.Request) (generator.Result, error)
}

// Policies returns the metering policy in force for a builder.
type Policies interface {
	For(builderSlug string) metering.Policy
}

// OperationRequest is one metered AI operation on a session.
type OperationRequest struct {
	Kind           string
	Target         string
	Preset         string
	Prompt         string
	SourceImageURL string
}

// OperationResult is returned for a successful operation.
type OperationResult struct {
	Modification   ledger.Modification
	RemainingFree  int
	AggregateCount int
	Session        ledger.Session
}

// Status is the authoritative metering view of a session.
type Status struct {
	Session        ledger.Session
	AggregateCount int
	RemainingFree  int
	Decision       metering.Decision
}

type Gateway struct {
	resolver  SessionResolver
	ledger    Ledger
	generator ImageGenerator
	policies  Policies
	logger    *slog.Logger
	tracer    trace.Tracer
}

func New(resolver SessionResolver, l Ledger, gen ImageGenerator, policies Policies, logger *slog.Logger) *Gateway {
	return &Gateway{
		resolver:  resolver,
		ledger:    l,
		generator: gen,
		policies:  policies,
		logger:    logger,
		tracer:    otel.Tracer("example.com/planwidget/internal/gateway"),
	}
}

// PerformOperation meters and executes one style swap or floor-plan edit.
// The ledger is only touched after the generator returns a usable image.
func (g *Gateway) PerformOperation(ctx context.Context, sessionID string, req OperationRequest) (OperationResult, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.PerformOperation",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("operation.kind", req.Kind),
		))
	defer span.End()

	session, err := g.resolver.ResolveSession(ctx, sessionID)
	if err != nil {
		return OperationResult{}, err
	}

	req.SourceImageURL = strings.TrimSpace(req.SourceImageURL)
	if req.SourceImageURL == "" {
		return OperationResult{}, fmt.Errorf("%w: source image url is required", ErrInvalidOperation)
	}
	prompt, err := generator.BuildPrompt(req.Kind, req.Target, req.Preset, req.Prompt)
	if err != nil {
		return OperationResult{}, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	count, err := g.ledger.SumInteractionCount(ctx, session.AnonymousID, session.BuilderSlug)
	if err != nil {
		return OperationResult{}, fmt.Errorf("sum interaction count: %w", err)
	}

	policy := g.policies.For(session.BuilderSlug)
	decision := policy.Decide(count, session.IsCaptured)
	span.SetAttributes(
		attribute.Int("metering.aggregate_count", count),
		attribute.Bool("metering.captured", session.IsCaptured),
		attribute.String("metering.decision", decision.String()),
	)
	switch decision {
	case metering.RequireCapture:
		return OperationResult{}, ErrCaptureRequired
	case metering.Deny:
		return OperationResult{}, ErrLimitReached
	}

	result, err := g.generate(ctx, session, req, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		g.logger.Warn("generation failed",
			"session_id", session.ID,
			"builder_slug", session.BuilderSlug,
			"kind", req.Kind,
			"error", err,
		)
		return OperationResult{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	mod := ledger.Modification{
		Type:        ledger.ModificationType(req.Kind),
		Prompt:      prompt,
		StylePreset: req.Preset,
		ResultURL:   result.URL,
		OriginalURL: req.SourceImageURL,
	}
	// the image already exists upstream; a cancelled caller must not drop the record
	updated, err := g.ledger.AppendModificationAndIncrement(context.WithoutCancel(ctx), session.ID, mod)
	if err != nil {
		g.logger.Error("generated image not recorded",
			"session_id", session.ID,
			"anonymous_id", session.AnonymousID,
			"builder_slug", session.BuilderSlug,
			"result_url", result.URL,
			"error", err,
		)
		return OperationResult{}, fmt.Errorf("record modification: %w", err)
	}

	if n := len(updated.Modifications); n > 0 {
		mod = updated.Modifications[n-1]
	}
	newCount := count + 1
	g.logger.Info("operation completed",
		"session_id", session.ID,
		"builder_slug", session.BuilderSlug,
		"kind", req.Kind,
		"aggregate_count", newCount,
	)
	return OperationResult{
		Modification:   mod,
		RemainingFree:  policy.Remaining(newCount, updated.IsCaptured),
		AggregateCount: newCount,
		Session:        updated,
	}, nil
}

func (g *Gateway) generate(ctx context.Context, session ledger.Session, req OperationRequest, prompt string) (generator.Result, error) {
	ctx, span := g.tracer.Start(ctx, "generator.GenerateImage")
	defer span.End()

	res, err := g.generator.GenerateImage(ctx, generator.Request{
		Kind:           req.Kind,
		Target:         req.Target,
		Prompt:         prompt,
		StylePreset:    req.Preset,
		SourceImageURL: req.SourceImageURL,
		SessionID:      session.ID,
		BuilderSlug:    session.BuilderSlug,
		PlanID:         session.PlanID,
	})
	if err != nil {
		span.RecordError(err)
		return generator.Result{}, err
	}
	if strings.TrimSpace(res.URL) == "" {
		return generator.Result{}, generator.ErrNoResult
	}
	return res, nil
}

// AddWishlistItem records a free-form wishlist note. Wishlist items are not
// metered.
func (g *Gateway) AddWishlistItem(ctx context.Context, sessionID, note string) (ledger.Modification, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return ledger.Modification{}, fmt.Errorf("%w: wishlist note is required", ErrInvalidOperation)
	}
	session, err := g.resolver.ResolveSession(ctx, sessionID)
	if err != nil {
		return ledger.Modification{}, err
	}
	mod, err := g.ledger.AppendModification(ctx, session.ID, ledger.Modification{
		Type:   ledger.WishlistItem,
		Prompt: note,
	})
	if err != nil {
		return ledger.Modification{}, fmt.Errorf("append wishlist item: %w", err)
	}
	return mod, nil
}

// Status resolves the session and reports where the visitor stands against
// the builder's quota.
func (g *Gateway) Status(ctx context.Context, sessionID string) (Status, error) {
	session, err := g.resolver.ResolveSession(ctx, sessionID)
	if err != nil {
		return Status{}, err
	}
	count, err := g.ledger.SumInteractionCount(ctx, session.AnonymousID, session.BuilderSlug)
	if err != nil {
		return Status{}, fmt.Errorf("sum interaction count: %w", err)
	}
	policy := g.policies.For(session.BuilderSlug)
	return Status{
		Session:        session,
		AggregateCount: count,
		RemainingFree:  policy.Remaining(count, session.IsCaptured),
		Decision:       policy.Decide(count, session.IsCaptured),
	}, nil
}
