package accounts

import (
	"context"
	"errors"
	"os/user"

	"go.uber.org/zap"
)

// DryRun reports what System would do without touching the account database.
type DryRun struct {
	lookup func(string) (*user.User, error)
	log    *zap.SugaredLogger
}

func NewDryRun(log *zap.SugaredLogger) *DryRun {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &DryRun{lookup: user.Lookup, log: log}
}

func (d *DryRun) EnsureAccount(_ context.Context, username string, grantAdmin bool) (bool, error) {
	if err := ValidateUsername(username); err != nil {
		return false, err
	}
	_, err := d.lookup(username)
	if err == nil {
		d.log.Infow("Account exists, nothing to do", "user", username)
		return true, nil
	}
	var unknown user.UnknownUserError
	if !errors.As(err, &unknown) {
		return false, err
	}
	d.log.Infow("Would create account", "user", username, "admin", grantAdmin)
	return false, nil
}

func (d *DryRun) ImportKeys(_ context.Context, username, keys string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	d.log.Infow("Would import public keys", "user", username, "count", len(splitKeys(keys)))
	return nil
}
