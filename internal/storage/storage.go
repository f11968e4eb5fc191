// Package storage persists user accounts and invite codes in sqlite. The
// workspace state itself lives on the filesystem; this database only
// answers who a user is and whether their gallery is public.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrInviteNotFound = errors.New("invite code not found")
	ErrInviteRedeemed = errors.New("invite code already redeemed")
	ErrEmailTaken     = errors.New("email already registered")
)

// User is one registered account.
type User struct {
	ID            string
	Email         string
	DisplayName   string
	PublicGallery bool
	CreatedAt     time.Time
	LastSeenAt    time.Time
}

// Invite is a single-use registration code.
type Invite struct {
	Code       string
	CreatedAt  time.Time
	RedeemedBy string
	RedeemedAt time.Time
}

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id             TEXT PRIMARY KEY,
	email          TEXT NOT NULL UNIQUE,
	display_name   TEXT NOT NULL DEFAULT '',
	public_gallery INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMP NOT NULL,
	last_seen_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS invite_codes (
	code        TEXT PRIMARY KEY,
	created_at  TIMESTAMP NOT NULL,
	redeemed_by TEXT REFERENCES users(id),
	redeemed_at TIMESTAMP
);
`

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// sqlite handles one writer at a time; serialize access through a
	// single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateUser registers a new account and returns it. The id is a freshly
// generated lowercase UUID, which doubles as the workspace directory name.
func (s *Store) CreateUser(ctx context.Context, email, displayName string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("email is required")
	}

	now := time.Now().UTC()
	user := &User{
		ID:          uuid.NewString(),
		Email:       email,
		DisplayName: displayName,
		CreatedAt:   now,
		LastSeenAt:  now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, public_gallery, created_at, last_seen_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		user.ID, user.Email, user.DisplayName, user.CreatedAt, user.LastSeenAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, public_gallery, created_at, last_seen_at
		 FROM users WHERE id = ?`, id))
}

// GetUserByEmail fetches a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, public_gallery, created_at, last_seen_at
		 FROM users WHERE email = ?`, strings.ToLower(strings.TrimSpace(email))))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var u User
	var public int
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &public, &u.CreatedAt, &u.LastSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.PublicGallery = public != 0
	return &u, nil
}

// TouchLastSeen records user activity.
func (s *Store) TouchLastSeen(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_seen_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating last seen: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetPublicGallery toggles whether the user's gallery is publicly visible.
func (s *Store) SetPublicGallery(ctx context.Context, id string, public bool) error {
	v := 0
	if public {
		v = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET public_gallery = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("updating gallery visibility: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateInvite mints a new single-use invite code.
func (s *Store) CreateInvite(ctx context.Context) (*Invite, error) {
	inv := &Invite{
		Code:      strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invite_codes (code, created_at) VALUES (?, ?)`,
		inv.Code, inv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating invite: %w", err)
	}
	return inv, nil
}

// RedeemInvite marks a code as used by the given user. A code redeems
// exactly once.
func (s *Store) RedeemInvite(ctx context.Context, code, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting redemption: %w", err)
	}
	defer tx.Rollback()

	var redeemedBy sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT redeemed_by FROM invite_codes WHERE code = ?`, code).Scan(&redeemedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInviteNotFound
	}
	if err != nil {
		return fmt.Errorf("checking invite: %w", err)
	}
	if redeemedBy.Valid {
		return ErrInviteRedeemed
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE invite_codes SET redeemed_by = ?, redeemed_at = ? WHERE code = ?`,
		userID, time.Now().UTC(), code); err != nil {
		return fmt.Errorf("redeeming invite: %w", err)
	}
	return tx.Commit()
}

// ListInvites returns every invite, newest first.
func (s *Store) ListInvites(ctx context.Context) ([]Invite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, created_at, redeemed_by, redeemed_at
		 FROM invite_codes ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing invites: %w", err)
	}
	defer rows.Close()

	var invites []Invite
	for rows.Next() {
		var inv Invite
		var redeemedBy sql.NullString
		var redeemedAt sql.NullTime
		if err := rows.Scan(&inv.Code, &inv.CreatedAt, &redeemedBy, &redeemedAt); err != nil {
			return nil, fmt.Errorf("scanning invite: %w", err)
		}
		inv.RedeemedBy = redeemedBy.String
		inv.RedeemedAt = redeemedAt.Time
		invites = append(invites, inv)
	}
	return invites, rows.Err()
}

// ListPublicUsers returns users whose galleries are publicly visible.
func (s *Store) ListPublicUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, display_name, public_gallery, created_at, last_seen_at
		 FROM users WHERE public_gallery = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing public users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var public int
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &public, &u.CreatedAt, &u.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		u.PublicGallery = public != 0
		users = append(users, u)
	}
	return users, rows.Err()
}
