package cli

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"ldapapi/internal/ldap"
	"ldapapi/internal/monitor"
)

func newLoginCmd(a *app) *cobra.Command {
	var username, password, group string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Check a username and password against the directory",
		Long:  "Binds as the user. With --group the user must also be a member of the group.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, _, err := a.directory()
			if err != nil {
				return err
			}
			pw, err := a.password(password)
			if err != nil {
				return err
			}

			var p ldap.Principal
			if group != "" {
				p, err = dir.AuthenticateMember(cmd.Context(), username, pw, group)
			} else {
				p, err = dir.Authenticate(cmd.Context(), username, pw)
			}
			if err != nil {
				a.log.Debug(err.Error())
				return errors.New(ldap.PublicMessage(err))
			}

			if a.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"username": p.Sanitized,
					"group":    group,
					"outcome":  ldap.Outcome(nil),
				})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s authenticated\n", p.Sanitized)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username to bind as")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted when omitted, or set LDAPCTL_PASSWORD)")
	cmd.Flags().StringVarP(&group, "group", "g", "", "Group the user must belong to")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newReportCmd(a *app) *cobra.Command {
	var username, password string
	var days int

	cmd := &cobra.Command{
		Use:   "report",
		Short: "List accounts that have not logged on for a number of days",
		Long:  "Binds as an administrator and lists accounts whose last logon is older than --days.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, _, err := a.directory()
			if err != nil {
				return err
			}
			pw, err := a.password(password)
			if err != nil {
				return err
			}

			report, err := dir.InactiveAccounts(cmd.Context(), username, pw, days)
			if err != nil {
				a.log.Debug(err.Error())
				return errors.New(ldap.PublicMessage(err))
			}

			if a.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"total_inactive": len(report.Accounts),
					"days":           report.Days,
					"threshold":      report.Threshold,
					"users":          report.Accounts,
				})
			}

			w := newTable(cmd.OutOrStdout())
			_, _ = fmt.Fprintln(w, "NAME\tEMAIL\tLAST LOGON")
			for _, acct := range report.Accounts {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", orDash(acct.DisplayName), orDash(acct.Email), acct.LastLogon)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\n%d inactive since %s\n", len(report.Accounts), report.Threshold.Format(time.DateOnly))
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Administrator username")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted when omitted, or set LDAPCTL_PASSWORD)")
	cmd.Flags().IntVarP(&days, "days", "d", 90, "Inactivity window in days")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Bind with the configured service account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, cfg, err := a.directory()
			if err != nil {
				return err
			}
			if !cfg.HasServiceAccount() {
				return errors.New("LDAP_BIND_USER and LDAP_BIND_PASSWORD must be set")
			}
			if err := dir.TestConnection(cmd.Context()); err != nil {
				return errors.Wrap(err, "directory check failed")
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "bound to %s as %s\n", cfg.LDAPURL, cfg.LDAPBindUser)
			return nil
		},
	}
}

func newProbeCmd(a *app) *cobra.Command {
	var url string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check that the directory accepts TCP connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				_, cfg, err := a.directory()
				if err != nil {
					return err
				}
				url = cfg.LDAPURL
			}

			status := monitor.Probe(cmd.Context(), url, timeout)
			if a.output == "json" {
				if err := printJSON(cmd.OutOrStdout(), status); err != nil {
					return err
				}
			} else {
				state := "reachable"
				if !status.Alive {
					state = "unreachable"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s:%d %s\n", status.Host, status.Port, state)
			}
			if !status.Alive {
				return errors.Newf("directory %s is unreachable", url)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Directory URL (defaults to LDAP_URL)")
	cmd.Flags().DurationVar(&timeout, "timeout", monitor.DefaultProbeTimeout, "Connect timeout")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
