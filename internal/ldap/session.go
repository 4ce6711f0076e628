package ldap

import (
	"context"
	"crypto/tls"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// Conn is the subset of *ldap.Conn used by a session.
type Conn interface {
	Bind(username, password string) error
	SearchAsync(ctx context.Context, searchRequest *ldap.SearchRequest, bufferSize int) ldap.Response
	Close() error
}

var _ Conn = &ldap.Conn{}

// Dialer opens a new directory connection.
type Dialer interface {
	Dial(ctx context.Context, cfg *Config) (Conn, error)
}

// DialerFunc makes it easy to use a func as a Dialer.
type DialerFunc func(ctx context.Context, cfg *Config) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, cfg *Config) (Conn, error) {
	return f(ctx, cfg)
}

// dialURL is the production Dialer.
func dialURL(ctx context.Context, cfg *Config) (Conn, error) {
	timeout := cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout == 0 || remaining < timeout {
			timeout = remaining
		}
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	opts := []ldap.DialOpt{ldap.DialWithDialer(&net.Dialer{Timeout: timeout})}
	if strings.HasPrefix(strings.ToLower(cfg.URL), "ldaps://") {
		opts = append(opts, ldap.DialWithTLSConfig(tlsConfig))
	}

	conn, err := ldap.DialURL(cfg.URL, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "dial failed")
	}

	if cfg.Timeout > 0 {
		conn.SetTimeout(cfg.Timeout)
	}

	if cfg.StartTLS && !strings.HasPrefix(strings.ToLower(cfg.URL), "ldaps://") {
		if err := conn.StartTLS(tlsConfig); err != nil {
			_ = conn.Close()
			return nil, errors.Wrap(err, "StartTLS failed")
		}
	}

	return conn, nil
}

// Session owns one connection for one logical operation.
type Session struct {
	conn      Conn
	log       *zap.Logger
	closeOnce sync.Once
}

func newSession(conn Conn, log *zap.Logger) *Session {
	return &Session{conn: conn, log: log}
}

// Bind authenticates principalName. The error carries the directory detail
// for logging and is nil only when the outcome is Authenticated.
func (s *Session) Bind(principalName, password string) (BindOutcome, error) {
	if password == "" {
		return InvalidCredentials, errors.New("empty password")
	}
	err := s.conn.Bind(principalName, password)
	return classifyBind(err), err
}

// Search runs req and collects every entry in server order. The first terminal
// signal (end of results, stream error or ctx done) settles the result.
func (s *Session) Search(ctx context.Context, req *ldap.SearchRequest) ([]*ldap.Entry, error) {
	result := newLatch[[]*ldap.Entry]()

	go func() {
		var entries []*ldap.Entry
		// Only ctx ends this goroutine once the caller stops waiting, so it must be the caller's ctx.
		res := s.conn.SearchAsync(ctx, req, 0)
		for res.Next() {
			if entry := res.Entry(); entry != nil {
				entries = append(entries, entry)
			}
		}
		if err := res.Err(); err != nil {
			result.reject(err)
			return
		}
		result.resolve(entries)
	}()

	return result.wait(ctx)
}

// Close releases the connection. Only the first call reaches the connection.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil {
			s.log.Debug("LDAP: close failed", zap.Error(err))
		}
	})
}
