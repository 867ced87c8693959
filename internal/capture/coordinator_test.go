package capture

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"example.com/planwidget/internal/identity"
	"example.com/planwidget/internal/ledger"
	"example.com/planwidget/internal/sqliteutil"
)

type recordingForwarder struct {
	mu    sync.Mutex
	leads []Lead
	err   error
}

func (f *recordingForwarder) ForwardLead(_ context.Context, lead Lead) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads = append(f.leads, lead)
	return f.err
}

type fixture struct {
	db        *sql.DB
	store     *ledger.Store
	resolver  *identity.Resolver
	forwarder *recordingForwarder
	coord     *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqliteutil.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := ledger.NewStore(db)
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := identity.NewResolver(store, logger)
	fwd := &recordingForwarder{}
	return &fixture{
		db:        db,
		store:     store,
		resolver:  resolver,
		forwarder: fwd,
		coord:     NewCoordinator(resolver, store, fwd, logger),
	}
}

func (f *fixture) session(t *testing.T, anon, plan string) ledger.Session {
	t.Helper()
	s, err := f.store.CreateSession(context.Background(), ledger.NewSession{AnonymousID: anon, BuilderSlug: "oak-ridge", PlanID: plan})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func (f *fixture) contactCount(t *testing.T) int {
	t.Helper()
	var n int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&n); err != nil {
		t.Fatalf("count contacts: %v", err)
	}
	return n
}

var validContact = ContactInfo{FirstName: "Ada", LastName: "Lovelace", Email: "Ada@Example.com", Phone: "555-123-4567"}

func TestCaptureRejectsInvalidContact(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, "anon-1", "plan-a")

	info := validContact
	info.Phone = "555-123"
	_, err := f.coord.Capture(context.Background(), s.ID, info)

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Capture() error = %v, want ValidationError", err)
	}
	if verr.Fields["phone"] == "" {
		t.Errorf("fields = %v, want phone error", verr.Fields)
	}

	got, _ := f.store.GetSession(context.Background(), s.ID)
	if got.IsCaptured {
		t.Error("invalid capture must not mark the session")
	}
	if len(f.forwarder.leads) != 0 {
		t.Error("invalid capture must not forward a lead")
	}
}

func TestCaptureUnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Capture(context.Background(), "missing", validContact)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Capture() error = %v, want ErrSessionNotFound", err)
	}
}

func TestCaptureBackfillsSiblings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.session(t, "anon-1", "plan-a")
	b := f.session(t, "anon-1", "plan-b")
	stranger := f.session(t, "anon-2", "plan-a")

	res, err := f.coord.Capture(ctx, a.ID, validContact)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if res.AlreadyCaptured || res.ContactID == "" {
		t.Fatalf("Capture() = %+v", res)
	}
	if res.Backfilled != 1 {
		t.Errorf("Backfilled = %d, want 1", res.Backfilled)
	}

	resolvedB, err := f.resolver.ResolveSession(ctx, b.ID)
	if err != nil {
		t.Fatalf("ResolveSession(b) error = %v", err)
	}
	if !resolvedB.IsCaptured || resolvedB.ContactID != res.ContactID {
		t.Errorf("b = %+v, want captured with %s", resolvedB, res.ContactID)
	}

	other, _ := f.store.GetSession(ctx, stranger.ID)
	if other.IsCaptured {
		t.Error("another visitor must not be captured")
	}

	contact, err := f.store.GetContact(ctx, res.ContactID)
	if err != nil {
		t.Fatalf("GetContact() error = %v", err)
	}
	if contact.Email != "ada@example.com" {
		t.Errorf("stored email = %q, want normalized", contact.Email)
	}

	if len(f.forwarder.leads) != 1 {
		t.Fatalf("forwarded leads = %d, want 1", len(f.forwarder.leads))
	}
	lead := f.forwarder.leads[0]
	if lead.ContactID != res.ContactID || lead.PlanID != "plan-a" || lead.BuilderSlug != "oak-ridge" {
		t.Errorf("lead = %+v", lead)
	}
}

func TestCaptureIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, "anon-1", "plan-a")

	first, err := f.coord.Capture(ctx, s.ID, validContact)
	if err != nil {
		t.Fatalf("first Capture() error = %v", err)
	}

	f.coord.now = func() time.Time { return first.CapturedAt.Add(time.Hour) }
	other := ContactInfo{FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com", Phone: "5559876543"}
	second, err := f.coord.Capture(ctx, s.ID, other)
	if err != nil {
		t.Fatalf("second Capture() error = %v", err)
	}
	if !second.AlreadyCaptured {
		t.Error("second capture should report AlreadyCaptured")
	}
	if second.ContactID != first.ContactID {
		t.Errorf("ContactID = %s, want %s", second.ContactID, first.ContactID)
	}
	if !second.CapturedAt.Equal(first.CapturedAt) {
		t.Errorf("CapturedAt changed: %v -> %v", first.CapturedAt, second.CapturedAt)
	}
	if len(f.forwarder.leads) != 1 {
		t.Errorf("forwarded leads = %d, want 1", len(f.forwarder.leads))
	}
}

func TestCaptureOnSiblingAfterCaptureIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.session(t, "anon-1", "plan-a")
	b := f.session(t, "anon-1", "plan-b")

	first, err := f.coord.Capture(ctx, a.ID, validContact)
	if err != nil {
		t.Fatalf("Capture(a) error = %v", err)
	}
	second, err := f.coord.Capture(ctx, b.ID, validContact)
	if err != nil {
		t.Fatalf("Capture(b) error = %v", err)
	}
	if !second.AlreadyCaptured || second.ContactID != first.ContactID {
		t.Errorf("Capture(b) = %+v, want already captured by %s", second, first.ContactID)
	}
}

func TestCaptureSucceedsWhenForwardingFails(t *testing.T) {
	f := newFixture(t)
	f.forwarder.err = errors.New("crm down")
	s := f.session(t, "anon-1", "plan-a")

	res, err := f.coord.Capture(context.Background(), s.ID, validContact)
	if err != nil {
		t.Fatalf("Capture() error = %v, want success despite forwarding failure", err)
	}
	if !res.Session.IsCaptured {
		t.Error("session should be captured")
	}
}

func TestCaptureFailedBackfillLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.session(t, "anon-1", "plan-a")
	b := f.session(t, "anon-1", "plan-b")

	block := `CREATE TRIGGER block_backfill BEFORE UPDATE OF is_captured ON sessions
		WHEN OLD.id = '` + b.ID + `' BEGIN SELECT RAISE(ABORT, 'disk full'); END;`
	if _, err := f.db.Exec(block); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	if _, err := f.coord.Capture(ctx, a.ID, validContact); err == nil {
		t.Fatal("Capture() succeeded, want backfill error")
	}
	got, _ := f.store.GetSession(ctx, a.ID)
	if got.IsCaptured {
		t.Error("session marked captured although the capture failed")
	}
	if n := f.contactCount(t); n != 0 {
		t.Errorf("contacts = %d after failed capture, want 0", n)
	}

	if _, err := f.db.Exec(`DROP TRIGGER block_backfill`); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	res, err := f.coord.Capture(ctx, a.ID, validContact)
	if err != nil {
		t.Fatalf("retried Capture() error = %v", err)
	}
	if res.AlreadyCaptured || res.Backfilled != 1 {
		t.Errorf("retried Capture() = %+v, want fresh capture with one back-fill", res)
	}
	if len(f.forwarder.leads) != 1 || f.forwarder.leads[0].ContactID != res.ContactID {
		t.Errorf("forwarded leads = %+v, want the retried capture", f.forwarder.leads)
	}
}

// racingLedger lets another capture win the session between the resolve and
// the write.
type racingLedger struct {
	*ledger.Store
	rivalContactID string
}

func (l *racingLedger) RecordCapture(ctx context.Context, c ledger.Contact, capturedAt time.Time) (ledger.CaptureOutcome, error) {
	if _, err := l.Store.MarkCaptured(ctx, c.SessionID, l.rivalContactID, capturedAt.Add(-time.Second)); err != nil {
		return ledger.CaptureOutcome{}, err
	}
	return l.Store.RecordCapture(ctx, c, capturedAt)
}

func TestCaptureLosingRaceStoresNoContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, "anon-1", "plan-a")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := NewCoordinator(f.resolver, &racingLedger{Store: f.store, rivalContactID: "01HRIVAL"}, f.forwarder, logger)

	res, err := coord.Capture(ctx, s.ID, validContact)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if !res.AlreadyCaptured || res.ContactID != "01HRIVAL" {
		t.Errorf("Capture() = %+v, want already captured by the rival", res)
	}
	if n := f.contactCount(t); n != 0 {
		t.Errorf("contacts = %d, losing capture must not store its contact", n)
	}
	if len(f.forwarder.leads) != 0 {
		t.Errorf("forwarded leads = %d, losing capture must not forward", len(f.forwarder.leads))
	}
}

func TestCaptureWhileSiblingBackfillPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.session(t, "anon-1", "plan-a")
	b := f.session(t, "anon-1", "plan-b")
	capturedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// only the originating session carries the capture
	if _, err := f.store.MarkCaptured(ctx, a.ID, "01HEARLIER", capturedAt); err != nil {
		t.Fatalf("MarkCaptured(a): %v", err)
	}

	resolved, err := f.resolver.ResolveSession(ctx, b.ID)
	if err != nil {
		t.Fatalf("ResolveSession(b) error = %v", err)
	}
	if !resolved.IsCaptured || resolved.ContactID != "01HEARLIER" {
		t.Fatalf("b = %+v, want captured through its sibling", resolved)
	}

	res, err := f.coord.Capture(ctx, b.ID, validContact)
	if err != nil {
		t.Fatalf("Capture(b) error = %v", err)
	}
	if !res.AlreadyCaptured || res.ContactID != "01HEARLIER" || !res.CapturedAt.Equal(capturedAt) {
		t.Errorf("Capture(b) = %+v, want the sibling's capture", res)
	}
	if len(f.forwarder.leads) != 0 || f.contactCount(t) != 0 {
		t.Error("capture of a session captured through a sibling must be a no-op")
	}
}
