package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Paulkm2006/ssh-github-auth/pkg/accounts"
	"github.com/Paulkm2006/ssh-github-auth/pkg/app"
	"github.com/Paulkm2006/ssh-github-auth/pkg/config"
	"github.com/Paulkm2006/ssh-github-auth/pkg/conversation"
	"github.com/Paulkm2006/ssh-github-auth/pkg/logging"
	"github.com/Paulkm2006/ssh-github-auth/pkg/login"
)

func newAuthenticateCommand(rt *runtimeState) *cobra.Command {
	var (
		dryRun     bool
		service    string
		remoteHost string
	)

	cmd := &cobra.Command{
		Use:   "authenticate USERNAME [ARG...]",
		Short: "Run the device login for USERNAME",
		Long: `Run the device login for USERNAME exactly as the PAM module would.

ARGs use the module argument syntax, for example:

  ghauth authenticate alice org=acme client_id=Iv1.0123 team=ops auto_create_user=sudoer`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := app.Options{
				Username:   args[0],
				Args:       moduleArgs(rt.configPath, args[1:]),
				Prompter:   conversation.NewTerminal(cmd.InOrStdin(), cmd.ErrOrStderr()),
				Service:    service,
				RemoteHost: remoteHost,
			}
			if rt.verbose {
				opts.Logger = logging.NewConsole(cmd.ErrOrStderr(), true)
			}
			if dryRun {
				log := zap.NewNop().Sugar()
				if opts.Logger != nil {
					log = opts.Logger.Sugar()
				}
				opts.Accounts = accounts.NewDryRun(log)
			}

			result := app.Authenticate(cmd.Context(), opts)
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), result)
			if result != login.Success {
				return fmt.Errorf("login for %s ended with %s", args[0], result)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log account changes instead of making them")
	cmd.Flags().StringVar(&service, "service", "ghauth", "Service name recorded in audit events")
	cmd.Flags().StringVar(&remoteHost, "remote-host", "", "Remote host recorded in audit events")

	return cmd
}

// moduleArgs adds the --config path unless the arguments already name one.
func moduleArgs(configPath string, args []string) []string {
	if configPath == "" {
		return args
	}
	for _, arg := range args {
		if arg == config.ArgConfig || strings.HasPrefix(arg, config.ArgConfig+"=") {
			return args
		}
	}
	return append([]string{config.ArgConfig + "=" + configPath}, args...)
}
