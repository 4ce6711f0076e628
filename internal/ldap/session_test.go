package ldap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestSession(t *testing.T, dir *fakeDirectory) *Session {
	t.Helper()
	conn, err := dir.Dial(context.Background(), testConfig())
	require.NoError(t, err)
	return newSession(conn, zap.NewNop())
}

func TestSessionCloseOnce(t *testing.T) {
	dir := &fakeDirectory{}
	s := openTestSession(t, dir)

	s.Close()
	s.Close()
	assert.Equal(t, 1, dir.closeCount())
}

func TestSessionBindEmptyPassword(t *testing.T) {
	dir := &fakeDirectory{passwords: map[string]string{"jdoe@example.com": ""}}
	s := openTestSession(t, dir)
	defer s.Close()

	outcome, err := s.Bind("jdoe@example.com", "")
	assert.Equal(t, InvalidCredentials, outcome)
	assert.Error(t, err)
	assert.Empty(t, dir.binds)
}

func TestSessionSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("entries in server order", func(t *testing.T) {
		dir := &fakeDirectory{search: func(*ldap.SearchRequest) ([]*ldap.Entry, error) {
			return []*ldap.Entry{
				ldap.NewEntry("cn=b,dc=example,dc=com", nil),
				ldap.NewEntry("cn=a,dc=example,dc=com", nil),
			}, nil
		}}
		s := openTestSession(t, dir)
		defer s.Close()

		entries, err := s.Search(ctx, &ldap.SearchRequest{})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "cn=b,dc=example,dc=com", entries[0].DN)
	})

	t.Run("stream error", func(t *testing.T) {
		boom := ldap.NewError(ldap.LDAPResultOperationsError, errors.New("operations error"))
		dir := &fakeDirectory{search: func(*ldap.SearchRequest) ([]*ldap.Entry, error) {
			return nil, boom
		}}
		s := openTestSession(t, dir)
		defer s.Close()

		_, err := s.Search(ctx, &ldap.SearchRequest{})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("context ends first", func(t *testing.T) {
		release := make(chan struct{})
		dir := &fakeDirectory{search: func(*ldap.SearchRequest) ([]*ldap.Entry, error) {
			<-release
			return []*ldap.Entry{ldap.NewEntry("cn=late,dc=example,dc=com", nil)}, nil
		}}
		s := openTestSession(t, dir)
		defer s.Close()

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		entries, err := s.Search(cctx, &ldap.SearchRequest{})
		close(release)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Nil(t, entries)
	})
}
