// Package ledger persists browsing sessions, their append-only modification
// history and captured contacts in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when a session id does not resolve to a row.
var ErrSessionNotFound = errors.New("session not found")

// ErrContactNotFound is returned when a contact id does not resolve to a row.
var ErrContactNotFound = errors.New("contact not found")

// Store encapsulates access to the session ledger database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore constructs a ledger data access object.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Init applies schema changes for the session, modification and contact tables.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			anonymous_id TEXT NOT NULL,
			builder_slug TEXT NOT NULL,
			plan_id TEXT NOT NULL,
			interaction_count INTEGER NOT NULL DEFAULT 0 CHECK (interaction_count >= 0),
			is_captured INTEGER NOT NULL DEFAULT 0,
			contact_id TEXT,
			captured_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_visitor ON sessions(anonymous_id, builder_slug);`,
		`CREATE TABLE IF NOT EXISTS modifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			type TEXT NOT NULL,
			prompt TEXT,
			style_preset TEXT,
			result_url TEXT NOT NULL DEFAULT '',
			original_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_modifications_session ON modifications(session_id, id);`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			anonymous_id TEXT NOT NULL,
			builder_slug TEXT NOT NULL,
			session_id TEXT NOT NULL,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			email TEXT NOT NULL,
			phone TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_visitor ON contacts(anonymous_id, builder_slug);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply ledger schema: %w", err)
		}
	}
	return nil
}

// CreateSession opens a new, uncaptured session with a zero interaction count.
func (s *Store) CreateSession(ctx context.Context, in NewSession) (Session, error) {
	if strings.TrimSpace(in.PlanID) == "" ||
		strings.TrimSpace(in.BuilderSlug) == "" ||
		strings.TrimSpace(in.AnonymousID) == "" {
		return Session{}, errors.New("plan_id, builder_slug, and anonymous_id are required")
	}
	now := s.now()
	session := Session{
		ID:            uuid.NewString(),
		AnonymousID:   in.AnonymousID,
		BuilderSlug:   in.BuilderSlug,
		PlanID:        in.PlanID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Modifications: []Modification{},
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, anonymous_id, builder_slug, plan_id, interaction_count, is_captured, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, 0, ?, ?)`,
		session.ID, session.AnonymousID, session.BuilderSlug, session.PlanID, now, now,
	); err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const sessionColumns = `id, anonymous_id, builder_slug, plan_id, interaction_count, is_captured,
	contact_id, captured_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		session    Session
		contactID  sql.NullString
		capturedAt sql.NullTime
	)
	if err := row.Scan(
		&session.ID,
		&session.AnonymousID,
		&session.BuilderSlug,
		&session.PlanID,
		&session.InteractionCount,
		&session.IsCaptured,
		&contactID,
		&capturedAt,
		&session.CreatedAt,
		&session.UpdatedAt,
	); err != nil {
		return Session{}, err
	}
	session.ContactID = contactID.String
	if capturedAt.Valid {
		ts := capturedAt.Time.UTC()
		session.CapturedAt = &ts
	}
	return session, nil
}

// GetSession fetches a session and its modifications in append order.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	return getSession(ctx, s.db, id)
}

func getSession(ctx context.Context, q queryer, id string) (Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	mods, err := listModifications(ctx, q, id)
	if err != nil {
		return Session{}, err
	}
	session.Modifications = mods
	return session, nil
}

// ListModifications returns a session's modifications oldest first.
func (s *Store) ListModifications(ctx context.Context, sessionID string) ([]Modification, error) {
	return listModifications(ctx, s.db, sessionID)
}

func listModifications(ctx context.Context, q queryer, sessionID string) ([]Modification, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, session_id, type, prompt, style_preset, result_url, original_url, created_at
		 FROM modifications WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list modifications: %w", err)
	}
	defer rows.Close()

	mods := []Modification{}
	for rows.Next() {
		var (
			m      Modification
			prompt sql.NullString
			preset sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Type, &prompt, &preset, &m.ResultURL, &m.OriginalURL, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan modification: %w", err)
		}
		m.Prompt = prompt.String
		m.StylePreset = preset.String
		mods = append(mods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter modifications: %w", err)
	}
	return mods, nil
}

// SumInteractionCount totals interaction_count over every session sharing the
// visitor and builder. Concurrent writers may make the total momentarily stale.
func (s *Store) SumInteractionCount(ctx context.Context, anonymousID, builderSlug string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(interaction_count), 0) FROM sessions WHERE anonymous_id = ? AND builder_slug = ?`,
		anonymousID, builderSlug,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum interaction count: %w", err)
	}
	return total, nil
}

// AppendModificationAndIncrement appends mod and bumps interaction_count by
// one in a single transaction, returning the updated session.
func (s *Store) AppendModificationAndIncrement(ctx context.Context, sessionID string, mod Modification) (Session, error) {
	if !mod.Type.Metered() {
		return Session{}, fmt.Errorf("modification type %q is not metered", mod.Type)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET interaction_count = interaction_count + 1, updated_at = ? WHERE id = ?`,
		now, sessionID)
	if err != nil {
		return Session{}, fmt.Errorf("increment interaction count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Session{}, ErrSessionNotFound
	}
	if _, err := insertModification(ctx, tx, sessionID, mod, now); err != nil {
		return Session{}, err
	}
	session, err := getSession(ctx, tx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return Session{}, fmt.Errorf("commit modification: %w", err)
	}
	return session, nil
}

// AppendModification records an unmetered modification such as a wishlist
// entry without touching interaction_count.
func (s *Store) AppendModification(ctx context.Context, sessionID string, mod Modification) (Modification, error) {
	if mod.Type.Metered() {
		return Modification{}, fmt.Errorf("modification type %q must be recorded with an increment", mod.Type)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Modification{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Modification{}, ErrSessionNotFound
		}
		return Modification{}, fmt.Errorf("check session: %w", err)
	}
	now := s.now()
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return Modification{}, fmt.Errorf("touch session: %w", err)
	}
	stored, err := insertModification(ctx, tx, sessionID, mod, now)
	if err != nil {
		return Modification{}, err
	}
	if err := tx.Commit(); err != nil {
		return Modification{}, fmt.Errorf("commit modification: %w", err)
	}
	return stored, nil
}

func insertModification(ctx context.Context, tx *sql.Tx, sessionID string, mod Modification, now time.Time) (Modification, error) {
	if !mod.Type.Valid() {
		return Modification{}, fmt.Errorf("unknown modification type %q", mod.Type)
	}
	if mod.Timestamp.IsZero() {
		mod.Timestamp = now
	}
	mod.SessionID = sessionID
	res, err := tx.ExecContext(ctx,
		`INSERT INTO modifications(session_id, type, prompt, style_preset, result_url, original_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID,
		string(mod.Type),
		nullIfEmpty(mod.Prompt),
		nullIfEmpty(mod.StylePreset),
		mod.ResultURL,
		mod.OriginalURL,
		mod.Timestamp.UTC(),
	)
	if err != nil {
		return Modification{}, fmt.Errorf("insert modification: %w", err)
	}
	mod.ID, _ = res.LastInsertId()
	return mod, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// MarkCaptured flags one session as captured. It reports false without error
// when the session was already captured; the first capture always wins.
func (s *Store) MarkCaptured(ctx context.Context, sessionID, contactID string, capturedAt time.Time) (bool, error) {
	return markCaptured(ctx, s.db, sessionID, contactID, capturedAt, s.now())
}

func markCaptured(ctx context.Context, ex execer, sessionID, contactID string, capturedAt, now time.Time) (bool, error) {
	res, err := ex.ExecContext(ctx,
		`UPDATE sessions SET is_captured = 1, contact_id = ?, captured_at = ?, updated_at = ?
		 WHERE id = ? AND is_captured = 0`,
		contactID, capturedAt.UTC(), now, sessionID)
	if err != nil {
		return false, fmt.Errorf("mark captured: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	var exists int
	if err := ex.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrSessionNotFound
		}
		return false, fmt.Errorf("check session: %w", err)
	}
	return false, nil
}

// BackfillCaptured copies capture status onto every not-yet-captured session
// of the visitor on the builder site and returns how many rows changed.
func (s *Store) BackfillCaptured(ctx context.Context, anonymousID, builderSlug, contactID string, capturedAt time.Time) (int, error) {
	return backfillCaptured(ctx, s.db, anonymousID, builderSlug, contactID, capturedAt, s.now())
}

func backfillCaptured(ctx context.Context, ex execer, anonymousID, builderSlug, contactID string, capturedAt, now time.Time) (int, error) {
	res, err := ex.ExecContext(ctx,
		`UPDATE sessions SET is_captured = 1, contact_id = ?, captured_at = ?, updated_at = ?
		 WHERE anonymous_id = ? AND builder_slug = ? AND is_captured = 0`,
		contactID, capturedAt.UTC(), now, anonymousID, builderSlug)
	if err != nil {
		return 0, fmt.Errorf("backfill captured: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CaptureOutcome reports what RecordCapture changed.
type CaptureOutcome struct {
	// Captured is false when the session had already been captured; nothing
	// was written in that case.
	Captured   bool
	Backfilled int
}

// RecordCapture stores the contact, marks its session captured and back-fills
// every other uncaptured session of the visitor for the builder in a single
// transaction. Either all three writes land or none do, so a failed capture
// can simply be retried. A session that is already captured leaves the
// ledger untouched and the contact unstored.
func (s *Store) RecordCapture(ctx context.Context, c Contact, capturedAt time.Time) (CaptureOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CaptureOutcome{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	changed, err := markCaptured(ctx, tx, c.SessionID, c.ID, capturedAt, now)
	if err != nil {
		return CaptureOutcome{}, err
	}
	if !changed {
		return CaptureOutcome{}, nil
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if err := insertContact(ctx, tx, c); err != nil {
		return CaptureOutcome{}, err
	}
	n, err := backfillCaptured(ctx, tx, c.AnonymousID, c.BuilderSlug, c.ID, capturedAt, now)
	if err != nil {
		return CaptureOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return CaptureOutcome{}, fmt.Errorf("commit capture: %w", err)
	}
	return CaptureOutcome{Captured: true, Backfilled: n}, nil
}

// FindCapturedSibling returns the earliest captured session for the visitor
// and builder other than excludeID.
func (s *Store) FindCapturedSibling(ctx context.Context, anonymousID, builderSlug, excludeID string) (Session, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE anonymous_id = ? AND builder_slug = ? AND id != ? AND is_captured = 1
		 ORDER BY captured_at, id LIMIT 1`,
		anonymousID, builderSlug, excludeID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, fmt.Errorf("find captured sibling: %w", err)
	}
	return session, true, nil
}

// InsertContact stores the contact details submitted at capture.
func (s *Store) InsertContact(ctx context.Context, c Contact) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	return insertContact(ctx, s.db, c)
}

func insertContact(ctx context.Context, ex execer, c Contact) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO contacts(id, anonymous_id, builder_slug, session_id, first_name, last_name, email, phone, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AnonymousID, c.BuilderSlug, c.SessionID, c.FirstName, c.LastName, c.Email, c.Phone, c.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

// GetContact fetches a contact by id.
func (s *Store) GetContact(ctx context.Context, id string) (Contact, error) {
	var c Contact
	err := s.db.QueryRowContext(ctx,
		`SELECT id, anonymous_id, builder_slug, session_id, first_name, last_name, email, phone, created_at
		 FROM contacts WHERE id = ?`, id,
	).Scan(&c.ID, &c.AnonymousID, &c.BuilderSlug, &c.SessionID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, ErrContactNotFound
		}
		return Contact{}, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

func nullIfEmpty(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
