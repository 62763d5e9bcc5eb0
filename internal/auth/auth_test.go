package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestUsers_Authenticate(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	users := Users{"admin": hash}

	assert.NoError(t, users.Authenticate("admin", "s3cret"))
	assert.ErrorIs(t, users.Authenticate("admin", "wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, users.Authenticate("ghost", "s3cret"), ErrInvalidCredentials)
	assert.ErrorIs(t, Users{"plain": "not-a-hash"}.Authenticate("plain", "not-a-hash"), ErrInvalidCredentials)
}

func TestUnknownUserCostMatchesRealHash(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	want, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	dummy, err := bcrypt.Cost(dummyHash)
	require.NoError(t, err)
	assert.Equal(t, want, dummy)
}

func TestHashPassword_Empty(t *testing.T) {
	_, err := HashPassword("")
	assert.Error(t, err)
}

func TestCheckAPIKey(t *testing.T) {
	assert.True(t, CheckAPIKey("", ""))
	assert.True(t, CheckAPIKey("", "anything"))
	assert.True(t, CheckAPIKey("k1", "k1"))
	assert.False(t, CheckAPIKey("k1", ""))
	assert.False(t, CheckAPIKey("k1", "k2"))
}

func TestSessions_Lifecycle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewSessions(time.Hour)
	s.now = func() time.Time { return now }

	sess := s.Create("admin")
	assert.NotEmpty(t, sess.ID)
	got, ok := s.Lookup(sess.ID)
	require.True(t, ok)
	assert.Equal(t, "admin", got.Username)

	s.Delete(sess.ID)
	_, ok = s.Lookup(sess.ID)
	assert.False(t, ok)

	_, ok = s.Lookup("")
	assert.False(t, ok)
}

func TestSessions_Expire(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewSessions(time.Minute)
	s.now = func() time.Time { return now }

	old := s.Create("a")
	now = now.Add(time.Minute)
	_, ok := s.Lookup(old.ID)
	assert.False(t, ok)

	stale := s.Create("b")
	now = now.Add(2 * time.Minute)
	s.Create("c")
	assert.Equal(t, 1, s.Len(), "creating a session sweeps expired ones")
	_, ok = s.Lookup(stale.ID)
	assert.False(t, ok)
}
