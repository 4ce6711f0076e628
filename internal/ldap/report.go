package ldap

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/go-ldap/ldap/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// disabledAccountClause excludes accounts with the ACCOUNTDISABLE bit of userAccountControl.
const disabledAccountClause = "(!(userAccountControl:1.2.840.113556.1.4.803:=2))"

const lastLogonAttr = "lastLogonTimestamp"

var reportAttributes = []string{"cn", "mail", lastLogonAttr}

// InactiveAccounts reports accounts whose last logon is older than days.
// Only members of the admin group may run it.
func (c *Client) InactiveAccounts(ctx context.Context, username, password string, days int) (report *Report, err error) {
	if days < 1 {
		return nil, ErrInvalidDays
	}
	cutoff := c.now().AddDate(0, 0, -days)
	if cutoff.Before(directoryEpoch) {
		return nil, ErrInvalidDays
	}

	ctx, span := c.startSpan(ctx, "ldap.inactive_accounts", attribute.Int("ldap.days", days))
	defer func() { endSpan(span, err) }()

	p := NewPrincipal(username)
	s, err := c.open(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrAuthFailure, "%v", err)
	}
	defer s.Close()

	if err := c.bind(s, p, password); err != nil {
		return nil, errors.Wrapf(ErrAuthFailure, "%v", err)
	}
	if err := c.authorize(ctx, s, p, c.config.adminGroup()); err != nil {
		return nil, err
	}

	threshold := TimestampFromTime(cutoff)

	searchReq := ldap.NewSearchRequest(
		c.config.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		c.inactiveFilter(threshold),
		reportAttributes,
		nil,
	)

	entries, err := s.Search(ctx, searchReq)
	if err != nil {
		if isSizeLimit(err) {
			c.log.Warn("LDAP: inactivity search hit the size limit",
				zap.String("user", p.Sanitized), zap.Int("days", days))
			return nil, errors.Wrapf(ErrSizeLimitExceeded, "inactivity search: %v", err)
		}
		c.log.Error("LDAP: inactivity search failed", zap.String("user", p.Sanitized), zap.Error(err))
		return nil, &ProtocolError{Op: "inactivity search", Err: err}
	}

	accounts := make([]InactiveAccount, 0, len(entries))
	for _, entry := range entries {
		accounts = append(accounts, c.entryToAccount(entry))
	}

	return &Report{
		Days:      days,
		Threshold: threshold.Time(),
		Accounts:  accounts,
	}, nil
}

// inactiveFilter builds the user filter for accounts last seen at or before threshold.
func (c *Client) inactiveFilter(threshold Timestamp) string {
	timeClause := fmt.Sprintf("(%s<=%s)", lastLogonAttr, threshold)
	if c.config.IncludeNeverLoggedOn {
		timeClause = fmt.Sprintf("(|%s(!(%s=*)))", timeClause, lastLogonAttr)
	}
	filter := "(objectClass=user)" + timeClause
	if c.config.ExcludeDisabled {
		filter += disabledAccountClause
	}
	return "(&" + filter + ")"
}

// entryToAccount converts an LDAP entry to an InactiveAccount.
func (c *Client) entryToAccount(entry *ldap.Entry) InactiveAccount {
	account := InactiveAccount{
		DisplayName: entry.GetAttributeValue("cn"),
		Email:       entry.GetAttributeValue("mail"),
		LastLogon:   Never,
	}

	raw := entry.GetAttributeValue(lastLogonAttr)
	if raw == "" {
		return account
	}
	ts, err := ParseTimestamp(raw)
	if err != nil {
		c.log.Warn("LDAP: unreadable lastLogonTimestamp", zap.String("dn", entry.DN), zap.Error(err))
		return account
	}
	if ts > 0 {
		account.LastLogon = LoggedOnAt(ts.Time())
	}
	return account
}
