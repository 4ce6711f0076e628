package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"ldapapi/internal/ldap"
	"ldapapi/internal/storage"
)

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=256"`
	Password string `json:"password" validate:"max=1024"`
}

// GroupLoginRequest is the body of POST /login/group.
type GroupLoginRequest struct {
	Username string `json:"username" validate:"required,max=256"`
	Password string `json:"password" validate:"max=1024"`
	Group    string `json:"group" validate:"required,max=256"`
}

// ReportRequest is the body of POST /lastLogon/report.
type ReportRequest struct {
	Username string `json:"username" validate:"required,max=256"`
	Password string `json:"password" validate:"max=1024"`
	Days     int    `json:"days" validate:"required,min=1,max=36500"`
}

// LoginResponse represents a successful authentication response.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt int64     `json:"expires_at"`
	User      LoginUser `json:"user"`
}

// LoginUser is the user part of a login response.
type LoginUser struct {
	Username string `json:"username"`
	Group    string `json:"group,omitempty"`
}

// ReportResponse is the body of a successful inactivity report.
type ReportResponse struct {
	TotalInactive int                    `json:"total_inactive"`
	Days          int                    `json:"days"`
	Threshold     time.Time              `json:"threshold"`
	Users         []ldap.InactiveAccount `json:"users"`
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must be at least " + fe.Param()
	case "max":
		return field + " is too large"
	}
	return field + " is invalid"
}

// statusFor maps a directory error to an HTTP status.
func statusFor(err error) int {
	var connErr *ldap.ConnectionError
	var protoErr *ldap.ProtocolError
	switch {
	case errors.Is(err, ldap.ErrInvalidDays):
		return http.StatusBadRequest
	case errors.Is(err, ldap.ErrAuthFailure),
		errors.Is(err, ldap.ErrInvalidCredentials),
		errors.As(err, &connErr):
		return http.StatusUnauthorized
	case errors.Is(err, ldap.ErrAuthorizationDenied):
		return http.StatusForbidden
	case errors.Is(err, ldap.ErrSizeLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.As(err, &protoErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.log.Error("unexpected directory error", zap.Error(err))
	}
	writeError(w, status, ldap.PublicMessage(err))
}

// audit records one event. Failures are logged and never change the response.
func (a *API) audit(ctx context.Context, r *http.Request, actor, action string, err error, extra map[string]any) {
	if a.audits == nil {
		return
	}
	auditContext := map[string]any{
		"request_id": middleware.GetReqID(ctx),
		"remote_ip":  r.RemoteAddr,
	}
	for k, v := range extra {
		auditContext[k] = v
	}
	e := storage.Event{
		Actor:   actor,
		Action:  action,
		Outcome: ldap.Outcome(err),
		Context: auditContext,
	}
	if logErr := a.audits.Log(ctx, e); logErr != nil {
		a.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(logErr))
	}
}

func (a *API) issue(w http.ResponseWriter, username, group string) {
	token, expiresAt, err := a.tokens.Issue(username, group)
	if err != nil {
		a.log.Error("failed to generate token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
		User:      LoginUser{Username: username, Group: group},
	})
}

// handleLogin handles POST /login.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginRequest
	if !a.decode(w, r, &req) {
		return
	}

	p, err := a.dir.Authenticate(ctx, req.Username, req.Password)
	a.audit(ctx, r, p.Sanitized, storage.ActionLogin, err, nil)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.issue(w, p.Sanitized, "")
}

// handleGroupLogin handles POST /login/group.
func (a *API) handleGroupLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req GroupLoginRequest
	if !a.decode(w, r, &req) {
		return
	}

	p, err := a.dir.AuthenticateMember(ctx, req.Username, req.Password, req.Group)
	a.audit(ctx, r, p.Sanitized, storage.ActionGroupLogin, err, map[string]any{"group": req.Group})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.issue(w, p.Sanitized, req.Group)
}

// handleInactiveReport handles POST /lastLogon/report.
func (a *API) handleInactiveReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ReportRequest
	if !a.decode(w, r, &req) {
		return
	}

	report, err := a.dir.InactiveAccounts(ctx, req.Username, req.Password, req.Days)
	extra := map[string]any{"days": req.Days}
	if report != nil {
		extra["total_inactive"] = len(report.Accounts)
	}
	a.audit(ctx, r, ldap.Sanitize(req.Username), storage.ActionReport, err, extra)
	if err != nil {
		a.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ReportResponse{
		TotalInactive: len(report.Accounts),
		Days:          report.Days,
		Threshold:     report.Threshold,
		Users:         report.Accounts,
	})
}

// handleMe returns the claims of the bearer token.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, claims)
}
