package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"golang.org/x/oauth2"
)

// MembershipState is the state of an organization membership.
type MembershipState string

const (
	StatePending MembershipState = "pending"
	StateActive  MembershipState = "active"
)

func (s MembershipState) valid() bool {
	return s == StatePending || s == StateActive
}

// Role is the role of a member within an organization.
type Role string

const (
	RoleMember         Role = "member"
	RoleAdmin          Role = "admin"
	RoleBillingManager Role = "billing_manager"
)

func (r Role) valid() bool {
	return r == RoleMember || r == RoleAdmin || r == RoleBillingManager
}

const maxKeysSize = 1 << 20

// Identity is a GitHub account that completed the device flow, matched the
// claimed local username and has a membership record in Organization. It is
// only produced by Provider.Authenticate.
type Identity struct {
	login        string
	organization string
	state        MembershipState
	role         Role
	token        *oauth2.Token
}

// Username is the verified GitHub login.
func (i *Identity) Username() string { return i.login }

func (i *Identity) Organization() string { return i.organization }

func (i *Identity) State() MembershipState { return i.state }

func (i *Identity) Role() Role { return i.role }

// Active reports whether the organization membership has been accepted.
func (i *Identity) Active() bool { return i.state == StateActive }

func (i *Identity) String() string {
	return fmt.Sprintf("%s@%s (%s, %s)", i.login, i.organization, i.state, i.role)
}

var errNoIdentity = errors.New("identity is nil")

// IsTeamMember reports whether the identity belongs to team. Any non-success
// status means "not a member"; only a failed request returns an error.
func (p *Provider) IsTeamMember(ctx context.Context, id *Identity, team string) (bool, error) {
	const op = "check team membership"
	if id == nil {
		return false, transportError(op, errNoIdentity)
	}
	endpoint := fmt.Sprintf("%s/orgs/%s/teams/%s/memberships/%s",
		p.apiURL, url.PathEscape(id.organization), url.PathEscape(team), url.PathEscape(id.login))
	resp, err := p.get(ctx, p.authorizedClient(ctx, id.token), op, endpoint, "application/vnd.github+json")
	if err != nil {
		return false, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if !isSuccess(resp.StatusCode) {
		p.log.Warnw("Team membership lookup did not succeed, treating as non-member",
			"organization", id.organization, "team", team, "user", id.login, "status", resp.StatusCode)
		return false, nil
	}
	return true, nil
}

// FetchPublicKeys returns the newline separated public keys GitHub publishes
// for the identity.
func (p *Provider) FetchPublicKeys(ctx context.Context, id *Identity) (string, error) {
	const op = "fetch public keys"
	if id == nil {
		return "", transportError(op, errNoIdentity)
	}
	endpoint := fmt.Sprintf("%s/%s.keys", p.webURL, url.PathEscape(id.login))
	resp, err := p.get(ctx, p.client, op, endpoint, "text/plain")
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isSuccess(resp.StatusCode) {
		return "", responseError(op, resp)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeysSize))
	if err != nil {
		return "", transportError(op, err)
	}
	return string(body), nil
}
