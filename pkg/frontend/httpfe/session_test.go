package httpfe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCreateAndLookup(t *testing.T) {
	store := NewSessionStore(time.Hour)
	token := store.Create(RoleControl)
	require.Len(t, token, 32, "128-bit token as hex")

	sess, okSess := store.Lookup(token)
	require.True(t, okSess)
	assert.Equal(t, RoleControl, sess.Role)
	assert.Equal(t, 1, store.Len())
}

func TestSessionTokensAreUnique(t *testing.T) {
	store := NewSessionStore(time.Hour)
	a := store.Create(RoleRx)
	b := store.Create(RoleRx)
	assert.NotEqual(t, a, b)
}

func TestSessionUnknownToken(t *testing.T) {
	store := NewSessionStore(time.Hour)
	_, okSess := store.Lookup("nope")
	assert.False(t, okSess)
}

func TestSessionExpiry(t *testing.T) {
	store := NewSessionStore(10 * time.Millisecond)
	token := store.Create(RoleRx)
	time.Sleep(20 * time.Millisecond)
	_, okSess := store.Lookup(token)
	assert.False(t, okSess, "expired sessions are invalid")
	assert.Zero(t, store.Len())
}

func TestSessionLogout(t *testing.T) {
	store := NewSessionStore(time.Hour)
	token := store.Create(RoleControl)
	store.Remove(token)
	_, okSess := store.Lookup(token)
	assert.False(t, okSess)
}

func TestSessionLastSeenRefreshes(t *testing.T) {
	store := NewSessionStore(time.Hour)
	token := store.Create(RoleRx)
	first, _ := store.Lookup(token)
	time.Sleep(5 * time.Millisecond)
	second, _ := store.Lookup(token)
	assert.True(t, second.LastSeen.After(first.LastSeen) || second.LastSeen.Equal(first.LastSeen))
}
