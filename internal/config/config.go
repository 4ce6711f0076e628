package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"ldapapi/internal/ldap"
)

type Config struct {
	AppPort     string `env:"APP_PORT" validate:"required,numeric"`
	Environment string `env:"APP_ENV"`
	CORSOrigins string `env:"CORS_ALLOW_ORIGINS"`

	// Directory connection
	LDAPURL                string        `env:"LDAP_URL" validate:"required,url"`
	LDAPBaseDN             string        `env:"LDAP_BASE_DN" validate:"required"`
	LDAPDomain             string        `env:"LDAP_DOMAIN" validate:"required"`
	LDAPBindFormat         string        `env:"LDAP_BIND_FORMAT" validate:"oneof=dn upn"`
	LDAPRDNAttribute       string        `env:"LDAP_RDN_ATTRIBUTE"`
	LDAPUserAttribute      string        `env:"LDAP_USER_ATTRIBUTE"`
	LDAPMemberOfAttribute  string        `env:"LDAP_MEMBER_OF_ATTRIBUTE"`
	LDAPAdminGroup         string        `env:"LDAP_ADMIN_GROUP" validate:"required"`
	LDAPGroupMatch         string        `env:"LDAP_GROUP_MATCH" validate:"oneof=substring exact"`
	LDAPExcludeDisabled    bool          `env:"LDAP_EXCLUDE_DISABLED"`
	LDAPIncludeNeverLogged bool          `env:"LDAP_INCLUDE_NEVER_LOGGED_ON"`
	LDAPStartTLS           bool          `env:"LDAP_START_TLS"`
	LDAPInsecureSkipVerify bool          `env:"LDAP_INSECURE_SKIP_VERIFY"`
	LDAPTimeout            time.Duration `env:"LDAP_TIMEOUT" validate:"gt=0"`
	LDAPBindUser           string        `env:"LDAP_BIND_USER"`     // Service account, readiness probe only
	LDAPBindPassword       string        `env:"LDAP_BIND_PASSWORD"` // Service account, readiness probe only

	// Token issuance
	JWTSecret  string        `env:"JWT_SECRET" validate:"required,min=32"`
	JWTTTL     time.Duration `env:"JWT_TTL" validate:"gt=0"`
	JWTCompany string        `env:"JWT_COMPANY"` // Optional "company" claim

	// Rate Limiting
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" validate:"gte=0"` // Max requests per window per caller (0 = disabled)
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" validate:"gt=0"`    // Time window for rate limiting

	// Optional backing services
	DBURL      string `env:"DATABASE_URL"`
	DBMaxConns int32  `env:"DB_MAX_CONNS" validate:"gte=1"`
	DBMinConns int32  `env:"DB_MIN_CONNS" validate:"gte=0"`
	RedisAddr  string `env:"REDIS_ADDR"`
	RedisPass  string `env:"REDIS_PASSWORD"`

	// Alerting
	SMTPHost            string        `env:"SMTP_HOST"`
	SMTPPort            int           `env:"SMTP_PORT" validate:"gte=0,lte=65535"`
	SMTPUser            string        `env:"SMTP_USER"`
	SMTPPass            string        `env:"SMTP_PASS"`
	SMTPFrom            string        `env:"SMTP_FROM"`
	AlertEmailTo        string        `env:"ALERT_EMAIL_TO" validate:"omitempty,email"`
	HealthCheckSchedule string        `env:"HEALTH_CHECK_SCHEDULE" validate:"required"`
	AlertCooldown       time.Duration `env:"ALERT_COOLDOWN" validate:"gt=0"`

	LogLevel  string `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" validate:"oneof=json console"`
}

// Load reads configuration from environment with sensible defaults.
// A missing required key or an invalid value is an error.
func Load() (Config, error) {
	r := &reader{}
	cfg := r.config()
	msgs := append(r.errs, problems(validate.Struct(cfg))...)
	if len(msgs) > 0 {
		return cfg, invalid(msgs)
	}
	return cfg, nil
}

// Read returns the environment configuration without validating struct tags.
// Values that do not parse are still an error.
func Read() (Config, error) {
	r := &reader{}
	cfg := r.config()
	if len(r.errs) > 0 {
		return cfg, invalid(r.errs)
	}
	return cfg, nil
}

func (r *reader) config() Config {
	return Config{
		AppPort:     getenv("APP_PORT", "3001"),
		Environment: getenv("APP_ENV", "development"),
		CORSOrigins: getenv("CORS_ALLOW_ORIGINS", "*"),

		LDAPURL:                getenv("LDAP_URL", ""),
		LDAPBaseDN:             getenv("LDAP_BASE_DN", ""),
		LDAPDomain:             getenv("LDAP_DOMAIN", ""),
		LDAPBindFormat:         strings.ToLower(getenv("LDAP_BIND_FORMAT", "upn")),
		LDAPRDNAttribute:       getenv("LDAP_RDN_ATTRIBUTE", "uid"),
		LDAPUserAttribute:      getenv("LDAP_USER_ATTRIBUTE", ""),
		LDAPMemberOfAttribute:  getenv("LDAP_MEMBER_OF_ATTRIBUTE", "memberOf"),
		LDAPAdminGroup:         getenv("LDAP_ADMIN_GROUP", "administrators"),
		LDAPGroupMatch:         strings.ToLower(getenv("LDAP_GROUP_MATCH", "substring")),
		LDAPExcludeDisabled:    r.boolean("LDAP_EXCLUDE_DISABLED", false),
		LDAPIncludeNeverLogged: r.boolean("LDAP_INCLUDE_NEVER_LOGGED_ON", false),
		LDAPStartTLS:           r.boolean("LDAP_START_TLS", false),
		LDAPInsecureSkipVerify: r.boolean("LDAP_INSECURE_SKIP_VERIFY", false),
		LDAPTimeout:            r.duration("LDAP_TIMEOUT", 10*time.Second),
		LDAPBindUser:           getenv("LDAP_BIND_USER", ""),
		LDAPBindPassword:       getenv("LDAP_BIND_PASSWORD", ""),

		JWTSecret:  getenv("JWT_SECRET", ""),
		JWTTTL:     r.duration("JWT_TTL", 8*time.Hour),
		JWTCompany: getenv("JWT_COMPANY", ""),

		RateLimitRequests: int(r.integer("RATE_LIMIT_REQUESTS", 15)),
		RateLimitWindow:   r.duration("RATE_LIMIT_WINDOW", time.Minute),

		DBURL:      getenv("DATABASE_URL", ""),
		DBMaxConns: r.integer("DB_MAX_CONNS", 10),
		DBMinConns: r.integer("DB_MIN_CONNS", 1),
		RedisAddr:  getenv("REDIS_ADDR", ""),
		RedisPass:  getenv("REDIS_PASSWORD", ""),

		SMTPHost:            getenv("SMTP_HOST", ""),
		SMTPPort:            int(r.integer("SMTP_PORT", 587)),
		SMTPUser:            getenv("SMTP_USER", ""),
		SMTPPass:            getenv("SMTP_PASS", ""),
		SMTPFrom:            getenv("SMTP_FROM", getenv("SMTP_USER", "")),
		AlertEmailTo:        getenv("ALERT_EMAIL_TO", ""),
		HealthCheckSchedule: getenv("HEALTH_CHECK_SCHEDULE", "@every 10m"),
		AlertCooldown:       r.duration("ALERT_COOLDOWN", time.Hour),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getenv("LOG_FORMAT", "json")),
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report env keys rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// DirectoryFields are the keys needed to talk to the directory.
var DirectoryFields = []string{
	"LDAPURL", "LDAPBaseDN", "LDAPDomain", "LDAPBindFormat",
	"LDAPAdminGroup", "LDAPGroupMatch", "LDAPTimeout",
}

// Validate checks struct tags and returns one error listing every bad key.
func (c Config) Validate() error {
	return validationError(validate.Struct(c))
}

// ValidateFields checks only the named struct fields.
func (c Config) ValidateFields(fields ...string) error {
	return validationError(validate.StructPartial(c, fields...))
}

func validationError(err error) error {
	if msgs := problems(err); len(msgs) > 0 {
		return invalid(msgs)
	}
	return nil
}

func problems(err error) []string {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return msgs
}

func invalid(msgs []string) error {
	return errors.Newf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "gt", "gte", "lte":
		return fmt.Sprintf("%s is out of range", fe.Field())
	}
	return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%s", c.AppPort)
}

// HasServiceAccount reports whether the readiness probe can bind.
func (c Config) HasServiceAccount() bool {
	return c.LDAPBindUser != "" && c.LDAPBindPassword != ""
}

// AlertingEnabled reports whether alert email can be sent.
func (c Config) AlertingEnabled() bool {
	return c.SMTPHost != "" && c.AlertEmailTo != ""
}

// LDAPConfig converts the directory keys into the client configuration.
func (c Config) LDAPConfig() (*ldap.Config, error) {
	format, err := ldap.ParseBindFormat(c.LDAPBindFormat)
	if err != nil {
		return nil, err
	}
	match, err := ldap.ParseMatchPolicy(c.LDAPGroupMatch)
	if err != nil {
		return nil, err
	}

	lc := ldap.DefaultConfig()
	lc.URL = c.LDAPURL
	lc.BaseDN = c.LDAPBaseDN
	lc.Domain = c.LDAPDomain
	lc.BindFormat = format
	lc.RDNAttribute = c.LDAPRDNAttribute
	lc.UserAttribute = c.LDAPUserAttribute
	lc.MemberOfAttribute = c.LDAPMemberOfAttribute
	lc.AdminGroup = c.LDAPAdminGroup
	lc.GroupMatch = match
	lc.ExcludeDisabled = c.LDAPExcludeDisabled
	lc.IncludeNeverLoggedOn = c.LDAPIncludeNeverLogged
	lc.StartTLS = c.LDAPStartTLS
	lc.InsecureSkipVerify = c.LDAPInsecureSkipVerify
	lc.Timeout = c.LDAPTimeout
	lc.ServiceBindDN = c.LDAPBindUser
	lc.ServiceBindPassword = c.LDAPBindPassword
	return lc, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// reader parses typed values and collects every key that does not parse.
type reader struct {
	errs []string
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s must be a duration such as 10s (got %q)", key, v))
		return def
	}
	return d
}

func (r *reader) integer(key string, def int32) int32 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s must be an integer (got %q)", key, v))
		return def
	}
	return int32(i)
}

func (r *reader) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s must be true or false (got %q)", key, v))
		return def
	}
	return b
}
