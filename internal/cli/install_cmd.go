package cli

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

type installConfig struct {
	InstallDir string
	User       string
	Group      string
	Env        map[string]string
}

const systemdTemplate = `[Unit]
Description=Directory Authentication API
After=network.target

[Service]
Type=simple
User={{.User}}
Group={{.Group}}
WorkingDirectory={{.InstallDir}}
ExecStart={{.InstallDir}}/server
Restart=always
RestartSec=5
EnvironmentFile={{.InstallDir}}/.env
NoNewPrivileges=true
LimitNOFILE=65536

[Install]
WantedBy=multi-user.target
`

const serviceName = "ldapapi"

func newInstallCmd(a *app) *cobra.Command {
	var unitDir string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Interactively write a .env file and a systemd unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := randomSecret()
			if err != nil {
				return err
			}
			cfg := runWizard(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout(), secret)
			return writeInstall(cmd.OutOrStdout(), cfg, unitDir)
		},
	}

	cmd.Flags().StringVar(&unitDir, "unit-dir", ".", "Directory to write the systemd unit to")
	return cmd
}

func runWizard(reader *bufio.Reader, out io.Writer, secret string) installConfig {
	cfg := installConfig{Env: make(map[string]string)}

	_, _ = fmt.Fprintln(out, "Directory API installer")
	_, _ = fmt.Fprintln(out, "=======================")
	_, _ = fmt.Fprintln(out)

	cfg.InstallDir = prompt(reader, out, "Installation Directory", "/opt/"+serviceName)
	cfg.User = prompt(reader, out, "Run as User", serviceName)
	cfg.Group = prompt(reader, out, "Run as Group", serviceName)

	_, _ = fmt.Fprintln(out, "\n--- Directory ---")
	cfg.Env["LDAP_URL"] = prompt(reader, out, "Directory URL (ldap:// or ldaps://)", "ldaps://dc.example.com:636")
	cfg.Env["LDAP_BASE_DN"] = prompt(reader, out, "Base DN", "dc=example,dc=com")
	cfg.Env["LDAP_DOMAIN"] = prompt(reader, out, "UPN domain", "example.com")
	cfg.Env["LDAP_BIND_FORMAT"] = prompt(reader, out, "Bind format (upn, dn)", "upn")
	cfg.Env["LDAP_ADMIN_GROUP"] = prompt(reader, out, "Administrators group", "administrators")
	cfg.Env["LDAP_BIND_USER"] = prompt(reader, out, "Service account for readiness checks (leave empty if none)", "")
	if cfg.Env["LDAP_BIND_USER"] != "" {
		cfg.Env["LDAP_BIND_PASSWORD"] = prompt(reader, out, "Service account password", "")
	}

	_, _ = fmt.Fprintln(out, "\n--- Application ---")
	cfg.Env["APP_PORT"] = prompt(reader, out, "Application Port", "3001")
	cfg.Env["JWT_SECRET"] = prompt(reader, out, "JWT secret (at least 32 characters)", secret)
	cfg.Env["CORS_ALLOW_ORIGINS"] = prompt(reader, out, "CORS Allowed Origins", "*")

	_, _ = fmt.Fprintln(out, "\n--- Optional services ---")
	cfg.Env["DATABASE_URL"] = prompt(reader, out, "Audit database URL (leave empty to disable)", "")
	cfg.Env["REDIS_ADDR"] = prompt(reader, out, "Redis address (leave empty to disable)", "")
	cfg.Env["SMTP_HOST"] = prompt(reader, out, "SMTP host for outage alerts (leave empty to disable)", "")
	if cfg.Env["SMTP_HOST"] != "" {
		cfg.Env["SMTP_PORT"] = prompt(reader, out, "SMTP port", "587")
		cfg.Env["SMTP_USER"] = prompt(reader, out, "SMTP user", "")
		cfg.Env["SMTP_PASS"] = prompt(reader, out, "SMTP password", "")
		cfg.Env["ALERT_EMAIL_TO"] = prompt(reader, out, "Alert recipient", "")
	}

	return cfg
}

func writeInstall(out io.Writer, cfg installConfig, unitDir string) error {
	_, _ = fmt.Fprintln(out, "\nGenerating configuration files...")

	if err := os.MkdirAll(cfg.InstallDir, 0o755); err != nil {
		_, _ = fmt.Fprintf(out, "Warning: could not create %s: %v\n", cfg.InstallDir, err)
	}

	envPath := filepath.Join(cfg.InstallDir, ".env")
	if err := writeEnvFile(envPath, cfg.Env); err != nil {
		_, _ = fmt.Fprintf(out, "Could not write to %s: %v. Writing to local .env instead.\n", envPath, err)
		envPath = ".env"
		if err := writeEnvFile(envPath, cfg.Env); err != nil {
			return errors.Wrap(err, "write .env")
		}
	}
	_, _ = fmt.Fprintf(out, "Generated configuration file at %s\n", envPath)

	servicePath := filepath.Join(unitDir, serviceName+".service")
	if err := writeSystemdFile(servicePath, cfg); err != nil {
		return errors.Wrap(err, "write systemd unit")
	}
	_, _ = fmt.Fprintf(out, "Generated systemd service file at %s\n", servicePath)

	_, _ = fmt.Fprintln(out, "\n--- Next steps ---")
	_, _ = fmt.Fprintf(out, "1. sudo cp server %s/\n", cfg.InstallDir)
	_, _ = fmt.Fprintf(out, "2. sudo useradd -r -s /bin/false %s\n", cfg.User)
	_, _ = fmt.Fprintf(out, "3. sudo cp %s /etc/systemd/system/\n", servicePath)
	_, _ = fmt.Fprintf(out, "4. sudo systemctl daemon-reload && sudo systemctl enable --now %s\n", serviceName)
	if cfg.Env["DATABASE_URL"] != "" {
		_, _ = fmt.Fprintf(out, "5. ldapctl migrate --env-file %s\n", envPath)
	}
	return nil
}

func prompt(reader *bufio.Reader, out io.Writer, label, def string) string {
	if def != "" {
		_, _ = fmt.Fprintf(out, "%s [%s]: ", label, def)
	} else {
		_, _ = fmt.Fprintf(out, "%s: ", label)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

// writeEnvFile writes non-empty keys in sorted order. The file holds secrets.
func writeEnvFile(path string, env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k, v := range env {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, k := range keys {
		if _, err := fmt.Fprintf(f, "%s=%s\n", k, env[k]); err != nil {
			return err
		}
	}
	return nil
}

func writeSystemdFile(path string, cfg installConfig) error {
	t, err := template.New("systemd").Parse(systemdTemplate)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return t.Execute(f, cfg)
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "generate secret")
	}
	return hex.EncodeToString(b), nil
}
