package accounts

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/user"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const (
	DefaultHomeBase   = "/home"
	DefaultShell      = "/bin/bash"
	DefaultSudoersDir = "/etc/sudoers.d"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,31}$`)

// Manager is what the login flow needs from the local account database.
type Manager interface {
	// EnsureAccount creates username unless it exists and reports whether it
	// already existed. Admin rights are only granted to accounts it creates.
	EnsureAccount(ctx context.Context, username string, grantAdmin bool) (existed bool, err error)
	// ImportKeys appends public keys to the account's authorized_keys file.
	ImportKeys(ctx context.Context, username, keys string) error
}

type Config struct {
	HomeBase   string
	Shell      string
	SudoersDir string
}

// System manages accounts with useradd, coreutils and visudo.
type System struct {
	cfg    Config
	runner Runner
	lookup func(string) (*user.User, error)
	log    *zap.SugaredLogger
}

func NewSystem(cfg Config, runner Runner, log *zap.SugaredLogger) *System {
	if cfg.HomeBase == "" {
		cfg.HomeBase = DefaultHomeBase
	}
	if cfg.Shell == "" {
		cfg.Shell = DefaultShell
	}
	if cfg.SudoersDir == "" {
		cfg.SudoersDir = DefaultSudoersDir
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &System{cfg: cfg, runner: runner, lookup: user.Lookup, log: log}
}

// ValidateUsername rejects names that are unsafe to pass to account tools or
// to use as a file name.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("invalid username %q", username)
	}
	return nil
}

func (s *System) EnsureAccount(ctx context.Context, username string, grantAdmin bool) (bool, error) {
	if err := ValidateUsername(username); err != nil {
		return false, err
	}
	_, err := s.lookup(username)
	if err == nil {
		return true, nil
	}
	var unknown user.UnknownUserError
	if !errors.As(err, &unknown) {
		return false, fmt.Errorf("failed to look up user %s: %w", username, err)
	}

	s.log.Infow("Creating local account", "user", username, "admin", grantAdmin)
	home := filepath.Join(s.cfg.HomeBase, username)
	if _, err := s.runner.Run(ctx, nil, "useradd", "-m", "-d", home, "-s", s.cfg.Shell, username); err != nil {
		return false, fmt.Errorf("failed to create user %s: %w", username, err)
	}
	if err := s.finishAccount(ctx, username, grantAdmin); err != nil {
		s.removeAccount(ctx, username)
		return false, err
	}
	return false, nil
}

// finishAccount runs the setup steps that follow useradd.
func (s *System) finishAccount(ctx context.Context, username string, grantAdmin bool) error {
	u, err := s.lookup(username)
	if err != nil {
		return fmt.Errorf("failed to look up created user %s: %w", username, err)
	}
	if err := s.prepareSSHDir(ctx, u); err != nil {
		return err
	}
	if grantAdmin {
		return s.grantAdmin(ctx, username)
	}
	return nil
}

// removeAccount deletes an account this attempt created but could not finish,
// so the next attempt provisions it from scratch.
func (s *System) removeAccount(ctx context.Context, username string) {
	if _, err := s.runner.Run(ctx, nil, "userdel", "-r", username); err != nil {
		s.log.Errorw("Failed to remove partially provisioned account", "user", username, "error", err)
		return
	}
	s.log.Warnw("Removed partially provisioned account", "user", username)
}

func (s *System) ImportKeys(ctx context.Context, username, keys string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	u, err := s.lookup(username)
	if err != nil {
		return fmt.Errorf("failed to look up user %s: %w", username, err)
	}
	if err := s.prepareSSHDir(ctx, u); err != nil {
		return err
	}

	path := authorizedKeysPath(u)
	existing := map[string]bool{}
	if current, err := s.runner.Run(ctx, nil, "cat", path); err == nil {
		for _, line := range splitKeys(string(current)) {
			existing[line] = true
		}
	}
	var missing []string
	for _, key := range splitKeys(keys) {
		if !existing[key] {
			missing = append(missing, key)
			existing[key] = true
		}
	}
	if len(missing) == 0 {
		s.log.Infow("No new public keys to import", "user", username)
		return nil
	}
	payload := strings.Join(missing, "\n") + "\n"
	if _, err := s.runner.Run(ctx, strings.NewReader(payload), "tee", "-a", path); err != nil {
		return fmt.Errorf("failed to add keys to %s: %w", path, err)
	}
	s.log.Infow("Imported public keys", "user", username, "count", len(missing))
	return nil
}

func (s *System) prepareSSHDir(ctx context.Context, u *user.User) error {
	sshDir := filepath.Join(u.HomeDir, ".ssh")
	keysPath := authorizedKeysPath(u)
	steps := [][]string{
		{"mkdir", "-p", sshDir},
		{"touch", keysPath},
		{"chmod", "700", sshDir},
		{"chmod", "600", keysPath},
		{"chown", "-R", u.Username + ":" + u.Gid, sshDir},
	}
	for _, step := range steps {
		if _, err := s.runner.Run(ctx, nil, step[0], step[1:]...); err != nil {
			return fmt.Errorf("failed to prepare %s: %w", sshDir, err)
		}
	}
	return nil
}

func (s *System) grantAdmin(ctx context.Context, username string) error {
	path := filepath.Join(s.cfg.SudoersDir, username)
	if _, err := s.runner.Run(ctx, nil, "test", "-e", path); err == nil {
		return nil
	}
	entry := fmt.Sprintf("%s ALL=(ALL) NOPASSWD:ALL\n", username)
	if _, err := s.runner.Run(ctx, strings.NewReader(entry), "tee", path); err != nil {
		return fmt.Errorf("failed to write sudoers file: %w", err)
	}
	if _, err := s.runner.Run(ctx, nil, "chmod", "0440", path); err != nil {
		_, _ = s.runner.Run(ctx, nil, "rm", "-f", path)
		return fmt.Errorf("failed to set sudoers file mode: %w", err)
	}
	if _, err := s.runner.Run(ctx, nil, "visudo", "-c", "-f", path); err != nil {
		_, _ = s.runner.Run(ctx, nil, "rm", "-f", path)
		return fmt.Errorf("invalid sudoers file for %s: %w", username, err)
	}
	s.log.Infow("Granted passwordless sudo", "user", username, "file", path)
	return nil
}

func authorizedKeysPath(u *user.User) string {
	return filepath.Join(u.HomeDir, ".ssh", "authorized_keys")
}

func splitKeys(text string) []string {
	var keys []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	return keys
}
