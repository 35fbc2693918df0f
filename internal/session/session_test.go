package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"techclinic/internal/testutil"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T, opts Options) (*Store, *clock) {
	t.Helper()
	opts.BcryptCost = bcrypt.MinCost
	s := NewStore(testutil.SetupTestDB(t), opts, nil)
	c := &clock{t: time.Date(2025, 7, 3, 10, 0, 0, 0, time.UTC)}
	s.now = c.now
	return s, c
}

func TestCreateAndLookup(t *testing.T) {
	s, _ := newTestStore(t, Options{TTL: time.Hour})
	ctx := context.Background()

	sess, cookie, err := s.Create(ctx, "admin", "api-token")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cookie, sess.ID+"."))

	got, err := s.Lookup(ctx, cookie)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "admin", got.Username)
	assert.Equal(t, "api-token", got.APIToken)
}

func TestValidatorIsNotStored(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	_, cookie, err := s.Create(context.Background(), "admin", "api-token")
	require.NoError(t, err)
	_, validator, _ := strings.Cut(cookie, ".")

	var hash string
	require.NoError(t, s.db.QueryRow("SELECT validator_hash FROM sessions").Scan(&hash))
	assert.NotEqual(t, validator, hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(validator)))
}

func TestLookupRejectsBadCookies(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()
	sess, _, err := s.Create(ctx, "admin", "api-token")
	require.NoError(t, err)

	for _, cookie := range []string{"", "nodot", sess.ID + ".", sess.ID + ".forged", "unknown.validator"} {
		_, err := s.Lookup(ctx, cookie)
		assert.True(t, errors.Is(err, ErrNotFound), "cookie %q: %v", cookie, err)
	}
}

func TestLookupSlidesExpiry(t *testing.T) {
	s, c := newTestStore(t, Options{TTL: time.Hour})
	ctx := context.Background()
	_, cookie, err := s.Create(ctx, "admin", "api-token")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		c.advance(45 * time.Minute)
		got, err := s.Lookup(ctx, cookie)
		require.NoError(t, err)
		assert.Equal(t, c.t.Add(time.Hour), got.ExpiresAt)
	}

	c.advance(61 * time.Minute)
	_, err = s.Lookup(ctx, cookie)
	assert.True(t, errors.Is(err, ErrExpired))

	_, err = s.Lookup(ctx, cookie)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLookupIdleTimeout(t *testing.T) {
	s, c := newTestStore(t, Options{TTL: 24 * time.Hour, IdleTimeout: 30 * time.Minute})
	ctx := context.Background()
	_, cookie, err := s.Create(ctx, "admin", "api-token")
	require.NoError(t, err)

	c.advance(20 * time.Minute)
	_, err = s.Lookup(ctx, cookie)
	require.NoError(t, err)

	c.advance(31 * time.Minute)
	_, err = s.Lookup(ctx, cookie)
	assert.True(t, errors.Is(err, ErrExpired))
}

func TestDeleteAndCleanup(t *testing.T) {
	s, c := newTestStore(t, Options{TTL: time.Hour})
	ctx := context.Background()

	a, cookieA, err := s.Create(ctx, "alice", "t1")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, a.ID))
	_, err = s.Lookup(ctx, cookieA)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, _, err = s.Create(ctx, "bob", "t2")
	require.NoError(t, err)
	c.advance(2 * time.Hour)
	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestExpiryHook(t *testing.T) {
	var expired []string
	s, c := newTestStore(t, Options{
		TTL:         time.Hour,
		IdleTimeout: 30 * time.Minute,
		OnExpire:    func(id string) { expired = append(expired, id) },
	})
	ctx := context.Background()

	a, cookieA, err := s.Create(ctx, "alice", "t1")
	require.NoError(t, err)
	b, _, err := s.Create(ctx, "bob", "t2")
	require.NoError(t, err)

	c.advance(31 * time.Minute)
	_, err = s.Lookup(ctx, cookieA)
	assert.True(t, errors.Is(err, ErrExpired))
	assert.Equal(t, []string{a.ID}, expired)

	// bob went idle without another request; only Cleanup sees it.
	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{a.ID, b.ID}, expired)

	n, err = s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	sess := &Session{ID: "x", Username: "admin"}
	got, ok := FromContext(NewContext(context.Background(), sess))
	require.True(t, ok)
	assert.Same(t, sess, got)
}
