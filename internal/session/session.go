// Package session keeps signed-in staff sessions in sqlite. The remote API
// bearer token stays on the server; the browser only holds a
// "<selector>.<validator>" cookie whose validator is stored bcrypt-hashed.
package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// CookieName is the session cookie.
const CookieName = "techclinic_session"

const timeLayout = "2006-01-02 15:04:05"

var (
	ErrNotFound = errors.New("session not found")
	ErrExpired  = errors.New("session expired")
)

// Session is one signed-in staff member.
type Session struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	APIToken     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Options configures a Store.
type Options struct {
	TTL         time.Duration
	IdleTimeout time.Duration
	BcryptCost  int

	// OnExpire is called with the id of every session removed by expiry,
	// idle timeout or Cleanup.
	OnExpire func(id string)
}

// Store persists sessions.
type Store struct {
	db     *sql.DB
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

func NewStore(db *sql.DB, opts Options, logger *zap.Logger) *Store {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, opts: opts, logger: logger, now: time.Now}
}

// Create stores a session for username and returns it with the cookie
// value to hand to the browser.
func (s *Store) Create(ctx context.Context, username, apiToken string) (*Session, string, error) {
	s.Cleanup(ctx)

	validator, err := randomHex(32)
	if err != nil {
		return nil, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(validator), s.opts.BcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash validator: %w", err)
	}

	now := s.now().UTC().Truncate(time.Second)
	sess := &Session{
		ID:           uuid.NewString(),
		Username:     username,
		APIToken:     apiToken,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.opts.TTL),
		LastActivity: now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (selector, validator_hash, username, api_token, created_at, expires_at, last_activity)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, string(hash), username, apiToken,
		now.Format(timeLayout), sess.ExpiresAt.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return nil, "", fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("session created", zap.String("session", sess.ID), zap.String("username", username))
	return sess, sess.ID + "." + validator, nil
}

// Lookup resolves a cookie value. A valid session has its expiry slid
// forward; an expired or idle one is deleted and ErrExpired returned.
func (s *Store) Lookup(ctx context.Context, cookie string) (*Session, error) {
	selector, validator, ok := strings.Cut(cookie, ".")
	if !ok || selector == "" || validator == "" {
		return nil, ErrNotFound
	}

	var sess Session
	var hash, created, expires, seen string
	err := s.db.QueryRowContext(ctx,
		`SELECT selector, validator_hash, username, api_token, created_at, expires_at, last_activity
		 FROM sessions WHERE selector = ?`, selector).
		Scan(&sess.ID, &hash, &sess.Username, &sess.APIToken, &created, &expires, &seen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(validator)) != nil {
		return nil, ErrNotFound
	}
	sess.CreatedAt = parseTime(created)
	sess.ExpiresAt = parseTime(expires)
	sess.LastActivity = parseTime(seen)

	now := s.now().UTC().Truncate(time.Second)
	idle := s.opts.IdleTimeout > 0 && now.Sub(sess.LastActivity) > s.opts.IdleTimeout
	if now.After(sess.ExpiresAt) || idle {
		if err := s.Delete(ctx, sess.ID); err != nil {
			s.logger.Warn("delete expired session", zap.String("session", sess.ID), zap.Error(err))
		}
		s.expired(sess.ID)
		return nil, ErrExpired
	}

	sess.LastActivity = now
	sess.ExpiresAt = now.Add(s.opts.TTL)
	if _, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET last_activity = ?, expires_at = ? WHERE selector = ?",
		now.Format(timeLayout), sess.ExpiresAt.Format(timeLayout), sess.ID); err != nil {
		s.logger.Warn("touch session", zap.String("session", sess.ID), zap.Error(err))
	}
	return &sess, nil
}

// Delete removes a session by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE selector = ?", id)
	return err
}

// Cleanup deletes expired and idle sessions and returns how many were
// removed.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	idleBefore := now
	if s.opts.IdleTimeout > 0 {
		idleBefore = now.Add(-s.opts.IdleTimeout)
	}
	query := "SELECT selector FROM sessions WHERE expires_at < ?"
	args := []interface{}{now.Format(timeLayout)}
	if s.opts.IdleTimeout > 0 {
		query += " OR last_activity < ?"
		args = append(args, idleBefore.Format(timeLayout))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var n int64
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return n, err
		}
		s.expired(id)
		n++
	}
	if n > 0 {
		s.logger.Debug("expired sessions removed", zap.Int64("count", n))
	}
	return n, nil
}

func (s *Store) expired(id string) {
	if s.opts.OnExpire != nil {
		s.opts.OnExpire(id)
	}
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (s *Store) RunCleanup(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Cleanup(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("session cleanup failed", zap.Error(err))
			}
		}
	}
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// parseTime accepts the layouts sqlite drivers hand back for DATETIME
// columns.
func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

type ctxKey struct{}

// NewContext returns ctx carrying sess.
func NewContext(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, sess)
}

// FromContext returns the session stored by NewContext.
func FromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(ctxKey{}).(*Session)
	return sess, ok && sess != nil
}
