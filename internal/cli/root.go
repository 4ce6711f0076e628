// Package cli implements ldapctl, the operator command line for the directory API.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ldapapi/internal/config"
	"ldapapi/internal/ldap"
	"ldapapi/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
)

// Directory is the part of the directory client used by ldapctl.
type Directory interface {
	Authenticate(ctx context.Context, username, password string) (ldap.Principal, error)
	AuthenticateMember(ctx context.Context, username, password, group string) (ldap.Principal, error)
	InactiveAccounts(ctx context.Context, username, password string, days int) (*ldap.Report, error)
	TestConnection(ctx context.Context) error
}

// app carries the resolved flags and the injectable pieces of one invocation.
type app struct {
	envFile  string
	output   string
	logLevel string

	in  io.Reader
	out io.Writer

	log          *zap.Logger
	newDirectory func(cfg *ldap.Config, log *zap.Logger) Directory
	readPassword func(prompt string) (string, error)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	a := newApp(os.Stdin, os.Stdout)
	root := newRootCmd(a)
	if err := root.Execute(); err != nil {
		if a.output == "json" {
			_ = printJSON(os.Stdout, map[string]string{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newApp(in io.Reader, out io.Writer) *app {
	a := &app{in: in, out: out, log: zap.NewNop()}
	a.newDirectory = func(cfg *ldap.Config, log *zap.Logger) Directory {
		return ldap.NewClient(cfg, log)
	}
	a.readPassword = a.promptPassword
	return a
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "ldapctl",
		Short:         "Directory API operator tool",
		Long:          "Command-line tool for checking credentials, running inactivity reports and managing the directory API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.output != "table" && a.output != "json" {
				return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", a.output)
			}
			if a.envFile != "" {
				if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
					return errors.Wrapf(err, "load %s", a.envFile)
				}
			}
			log, err := logging.NewCLI(a.logLevel)
			if err != nil {
				return err
			}
			a.log = log
			return nil
		},
	}

	root.SetIn(a.in)
	root.SetOut(a.out)

	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Environment file to load before reading configuration")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "table", "Output format (table, json)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(newLoginCmd(a))
	root.AddCommand(newReportCmd(a))
	root.AddCommand(newCheckCmd(a))
	root.AddCommand(newProbeCmd(a))
	root.AddCommand(newMigrateCmd(a))
	root.AddCommand(newAuditCmd(a))
	root.AddCommand(newInstallCmd(a))
	root.AddCommand(newVersionCmd(a))

	return root
}

// directory builds a directory client from the environment.
// Only the directory keys are validated so the command works without a JWT secret.
func (a *app) directory() (Directory, config.Config, error) {
	cfg, err := config.Read()
	if err != nil {
		return nil, cfg, err
	}
	if err := cfg.ValidateFields(config.DirectoryFields...); err != nil {
		return nil, cfg, err
	}
	lc, err := cfg.LDAPConfig()
	if err != nil {
		return nil, cfg, err
	}
	return a.newDirectory(lc, a.log), cfg, nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ldapctl version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"version": version,
					"commit":  commit,
				})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ldapctl version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
