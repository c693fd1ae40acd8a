package cli

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Paulkm2006/ssh-github-auth/pkg/config"
)

const (
	EnvConfig  = "GHAUTH_CONFIG"
	EnvVerbose = "GHAUTH_VERBOSE"
)

type Config struct {
	ConfigPath string
	In         io.Reader
	Out        io.Writer
	ErrOut     io.Writer
}

type runtimeState struct {
	configPath string
	verbose    bool
}

func DefaultConfig() Config {
	return Config{
		ConfigPath: getEnvString(EnvConfig, config.DefaultPath),
		In:         os.Stdin,
		Out:        os.Stdout,
		ErrOut:     os.Stderr,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{configPath: cfg.ConfigPath}

	root := &cobra.Command{
		Use:          "ghauth",
		Short:        "Log in to this host with a GitHub account",
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if !rt.verbose {
				rt.verbose = getEnvBool(EnvVerbose, false)
			}
		},
	}
	if cfg.In != nil {
		root.SetIn(cfg.In)
	}
	if cfg.Out != nil {
		root.SetOut(cfg.Out)
	}
	if cfg.ErrOut != nil {
		root.SetErr(cfg.ErrOut)
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to the settings file")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Log to stderr at debug level")

	root.AddCommand(
		newAuthenticateCommand(rt),
		NewVersionCommand(),
	)
	return root
}

func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool accepts "true", "1" and "yes" (case-insensitive) and their
// negations; anything else yields defaultVal.
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
