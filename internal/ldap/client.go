package ldap

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-ldap/ldap/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "ldapapi/internal/ldap"

// Client provides LDAP operations for Active Directory integration.
// It holds configuration only; every operation opens and closes its own connection.
type Client struct {
	config *Config
	dialer Dialer
	log    *zap.Logger
	now    func() time.Time
	tracer trace.Tracer
}

// Option customizes a Client.
type Option func(*Client)

// WithDialer replaces the network dialer (mostly for testing).
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithClock replaces the clock used for report thresholds.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a new LDAP client.
func NewClient(config *Config, log *zap.Logger, opts ...Option) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		config: config,
		dialer: DialerFunc(dialURL),
		log:    log.Named("ldap"),
		now:    time.Now,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsConfigured returns true if LDAP is properly configured.
func (c *Client) IsConfigured() bool {
	return c.config != nil &&
		c.config.URL != "" &&
		c.config.BaseDN != "" &&
		c.config.Domain != ""
}

// HasServiceAccount reports whether TestConnection has credentials to use.
func (c *Client) HasServiceAccount() bool {
	return c.config != nil && c.config.ServiceBindDN != "" && c.config.ServiceBindPassword != ""
}

// PrincipalName builds the bind name for p according to the configured format.
func (c *Client) PrincipalName(p Principal) string {
	if c.config.BindFormat == BindFormatDN {
		rdn := c.config.RDNAttribute
		if rdn == "" {
			rdn = "uid"
		}
		return fmt.Sprintf("%s=%s,%s", rdn, p.Sanitized, c.config.BaseDN)
	}
	return fmt.Sprintf("%s@%s", p.Sanitized, c.config.Domain)
}

// open dials a fresh connection for one operation.
func (c *Client) open(ctx context.Context) (*Session, error) {
	if !c.IsConfigured() {
		return nil, &ConnectionError{Err: errors.New("LDAP not configured")}
	}
	conn, err := c.dialer.Dial(ctx, c.config)
	if err != nil {
		c.log.Error("LDAP: connection failed", zap.String("url", c.config.URL), zap.Error(err))
		return nil, &ConnectionError{Err: err}
	}
	return newSession(conn, c.log), nil
}

// bind authenticates p on s and converts the outcome into an error.
func (c *Client) bind(s *Session, p Principal, password string) error {
	name := c.PrincipalName(p)
	outcome, err := s.Bind(name, password)
	switch outcome {
	case Authenticated:
		return nil
	case InvalidCredentials:
		c.log.Warn("LDAP: bind rejected", zap.String("bind_dn", name), zap.Error(err))
		return errors.Wrapf(ErrInvalidCredentials, "bind rejected: %v", err)
	default:
		c.log.Error("LDAP: bind failed", zap.String("bind_dn", name), zap.Error(err))
		return &ConnectionError{Err: err}
	}
}

// authorize resolves p's groups on s and checks them against required.
func (c *Client) authorize(ctx context.Context, s *Session, p Principal, required string) error {
	groups, err := ResolveGroups(ctx, s, c.config, p)
	if err != nil {
		c.log.Error("LDAP: failed to get groups", zap.String("user", p.Sanitized), zap.Error(err))
		return err
	}

	decision := Authorize(groups, required, c.config.GroupMatch)
	if !decision.Granted {
		c.log.Info("LDAP: authorization denied",
			zap.String("user", p.Sanitized),
			zap.String("required_group", required),
			zap.String("reason", decision.Reason))
		return ErrAuthorizationDenied
	}
	return nil
}

// Authenticate checks username and password with a bind.
func (c *Client) Authenticate(ctx context.Context, username, password string) (p Principal, err error) {
	ctx, span := c.startSpan(ctx, "ldap.authenticate")
	defer func() { endSpan(span, err) }()

	p = NewPrincipal(username)
	s, err := c.open(ctx)
	if err != nil {
		return p, err
	}
	defer s.Close()

	return p, c.bind(s, p, password)
}

// AuthenticateMember binds as username and requires membership in group.
// The group lookup reuses the bind connection.
func (c *Client) AuthenticateMember(ctx context.Context, username, password, group string) (p Principal, err error) {
	ctx, span := c.startSpan(ctx, "ldap.authenticate_member", attribute.String("ldap.group", group))
	defer func() { endSpan(span, err) }()

	p = NewPrincipal(username)
	s, err := c.open(ctx)
	if err != nil {
		return p, err
	}
	defer s.Close()

	if err := c.bind(s, p, password); err != nil {
		return p, err
	}
	return p, c.authorize(ctx, s, p, group)
}

// AuthorizeAdmin binds as username and requires membership in the admin group.
func (c *Client) AuthorizeAdmin(ctx context.Context, username, password string) (p Principal, err error) {
	return c.AuthenticateMember(ctx, username, password, c.config.adminGroup())
}

// TestConnection binds with the service account and reads the base DN.
func (c *Client) TestConnection(ctx context.Context) (err error) {
	ctx, span := c.startSpan(ctx, "ldap.test_connection")
	defer func() { endSpan(span, err) }()

	if !c.HasServiceAccount() {
		return errors.New("LDAP service account not configured")
	}

	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if outcome, err := s.Bind(c.config.ServiceBindDN, c.config.ServiceBindPassword); outcome != Authenticated {
		return errors.Wrapf(err, "service bind: %s", outcome)
	}

	searchReq := ldap.NewSearchRequest(
		c.config.BaseDN,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1,
		5,
		false,
		"(objectClass=*)",
		[]string{"dn"},
		nil,
	)
	if _, err := s.Search(ctx, searchReq); err != nil {
		return &ProtocolError{Op: "base search", Err: err}
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("ldap.outcome", outcomeName(err)))
		span.SetStatus(codes.Error, outcomeName(err))
	} else {
		span.SetAttributes(attribute.String("ldap.outcome", "success"))
	}
	span.End()
}

// outcomeName is a low-cardinality label for an error from this package.
func outcomeName(err error) string {
	var connErr *ConnectionError
	var protoErr *ProtocolError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrAuthFailure):
		return "auth_failure"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAuthorizationDenied):
		return "authorization_denied"
	case errors.Is(err, ErrSizeLimitExceeded):
		return "size_limit_exceeded"
	case errors.Is(err, ErrInvalidDays):
		return "invalid_input"
	case errors.As(err, &connErr):
		return "connection_failure"
	case errors.As(err, &protoErr):
		return "protocol_error"
	}
	return "error"
}

// Outcome exposes outcomeName for audit records.
func Outcome(err error) string {
	return outcomeName(err)
}
