package ldap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// fakeDirectory answers binds and searches like a small directory server.
type fakeDirectory struct {
	mu        sync.Mutex
	passwords map[string]string // bind name -> password
	search    func(req *ldap.SearchRequest) ([]*ldap.Entry, error)
	dialErr   error
	bindErr   error

	dials    int
	closes   int
	binds    []string
	requests []*ldap.SearchRequest
}

func (d *fakeDirectory) Dial(_ context.Context, _ *Config) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	d.dials++
	return &fakeConn{dir: d}, nil
}

func (d *fakeDirectory) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

type fakeConn struct {
	dir *fakeDirectory
}

func (c *fakeConn) Bind(username, password string) error {
	d := c.dir
	d.mu.Lock()
	defer d.mu.Unlock()
	d.binds = append(d.binds, username)
	if d.bindErr != nil {
		return d.bindErr
	}
	if want, ok := d.passwords[username]; ok && want == password {
		return nil
	}
	return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("80090308: LdapErr: DSID-0C090447, AcceptSecurityContext error, data 52e"))
}

func (c *fakeConn) SearchAsync(_ context.Context, req *ldap.SearchRequest, _ int) ldap.Response {
	d := c.dir
	d.mu.Lock()
	d.requests = append(d.requests, req)
	search := d.search
	d.mu.Unlock()

	if search == nil {
		return &fakeResponse{}
	}
	entries, err := search(req)
	return &fakeResponse{entries: entries, err: err}
}

func (c *fakeConn) Close() error {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	c.dir.closes++
	return nil
}

// fakeResponse replays entries and then reports err.
type fakeResponse struct {
	entries []*ldap.Entry
	err     error
	idx     int
	cur     *ldap.Entry
}

func (r *fakeResponse) Next() bool {
	if r.idx >= len(r.entries) {
		r.cur = nil
		return false
	}
	r.cur = r.entries[r.idx]
	r.idx++
	return true
}

func (r *fakeResponse) Entry() *ldap.Entry { return r.cur }
func (r *fakeResponse) Referral() string { return "" }
func (r *fakeResponse) Controls() []ldap.Control { return nil }
func (r *fakeResponse) Err() error { return r.err }

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.URL = "ldap://dc.example.com:389"
	cfg.BaseDN = "dc=example,dc=com"
	cfg.Domain = "example.com"
	return cfg
}

func newTestClient(cfg *Config, dir *fakeDirectory, now time.Time) *Client {
	return NewClient(cfg, zap.NewNop(),
		WithDialer(dir),
		WithClock(func() time.Time { return now }),
	)
}

// memberOfSearch answers group lookups with groups and everything else with nothing.
func memberOfSearch(groups ...string) func(req *ldap.SearchRequest) ([]*ldap.Entry, error) {
	return func(req *ldap.SearchRequest) ([]*ldap.Entry, error) {
		if len(req.Attributes) == 1 && req.Attributes[0] == "memberOf" {
			return []*ldap.Entry{
				ldap.NewEntry("cn=someone,dc=example,dc=com", map[string][]string{"memberOf": groups}),
			}, nil
		}
		return nil, nil
	}
}
