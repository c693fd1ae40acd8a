package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DeviceCode is the pair issued at the start of the device flow. DeviceCode is
// redeemed once; UserCode is shown to the operator.
type DeviceCode struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	Expiry          time.Time
	Interval        time.Duration
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	Scope       string `json:"scope,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorDesc   string `json:"error_description,omitempty"`
}

type userResponse struct {
	Login string `json:"login"`
}

type membershipResponse struct {
	State MembershipState `json:"state"`
	Role  Role            `json:"role"`
}

// RequestDeviceCode starts the device authorization grant for clientID.
func (p *Provider) RequestDeviceCode(ctx context.Context, clientID string) (*DeviceCode, error) {
	const op = "request device code"
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	resp, err := p.oauthConfig(clientID).DeviceAuth(ctx)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			return nil, statusError(op, rerr.Response.StatusCode, strings.TrimSpace(string(rerr.Body)))
		}
		return nil, transportError(op, err)
	}
	if resp.DeviceCode == "" || resp.UserCode == "" {
		return nil, protocolError(op, "response is missing device_code or user_code")
	}
	verificationURI := resp.VerificationURI
	if verificationURI == "" {
		verificationURI = p.webURL + "/login/device"
	}
	return &DeviceCode{
		DeviceCode:      resp.DeviceCode,
		UserCode:        resp.UserCode,
		VerificationURI: verificationURI,
		Expiry:          resp.Expiry,
		Interval:        time.Duration(resp.Interval) * time.Second,
	}, nil
}

// Authenticate redeems deviceCode once, checks that the token belongs to
// username and looks up the account's membership in org. The returned
// Identity is complete; on any failure no Identity is returned.
func (p *Provider) Authenticate(ctx context.Context, deviceCode, clientID, username, org string) (*Identity, error) {
	token, err := p.redeem(ctx, deviceCode, clientID)
	if err != nil {
		return nil, err
	}
	client := p.authorizedClient(ctx, token)
	login, err := p.verifyLogin(ctx, client, username)
	if err != nil {
		return nil, err
	}
	membership, err := p.orgMembership(ctx, client, org, login)
	if err != nil {
		return nil, err
	}
	return &Identity{
		login:        login,
		organization: org,
		state:        membership.State,
		role:         membership.Role,
		token:        token,
	}, nil
}

func (p *Provider) redeem(ctx context.Context, deviceCode, clientID string) (*oauth2.Token, error) {
	const op = "redeem device code"
	values := url.Values{}
	values.Set("client_id", clientID)
	values.Set("device_code", deviceCode)
	values.Set("grant_type", deviceGrantType)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.oauthConfig(clientID).Endpoint.TokenURL, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, transportError(op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isSuccess(resp.StatusCode) {
		return nil, responseError(op, resp)
	}

	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, protocolError(op, fmt.Sprintf("failed to decode token response: %v", err))
	}
	if payload.AccessToken == "" {
		// GitHub answers 200 with an error code while the grant is pending,
		// denied or expired.
		detail := payload.Error
		if payload.ErrorDesc != "" {
			detail += ": " + payload.ErrorDesc
		}
		return nil, &Error{Kind: KindUnauthorized, Op: op, StatusCode: resp.StatusCode, Detail: detail}
	}
	return &oauth2.Token{AccessToken: payload.AccessToken, TokenType: payload.TokenType}, nil
}

func (p *Provider) verifyLogin(ctx context.Context, client *http.Client, username string) (string, error) {
	const op = "verify user"
	resp, err := p.get(ctx, client, op, p.apiURL+"/user", "application/vnd.github+json")
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isSuccess(resp.StatusCode) {
		return "", responseError(op, resp)
	}
	var user userResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", protocolError(op, fmt.Sprintf("failed to decode user: %v", err))
	}
	if user.Login == "" {
		return "", protocolError(op, "user response has no login")
	}
	if !strings.EqualFold(user.Login, username) {
		return "", &Error{Kind: KindInvalidUser, Op: op, Detail: fmt.Sprintf("username does not match: %s != %s", username, user.Login)}
	}
	return user.Login, nil
}

func (p *Provider) orgMembership(ctx context.Context, client *http.Client, org, login string) (*membershipResponse, error) {
	const op = "fetch organization membership"
	endpoint := fmt.Sprintf("%s/orgs/%s/memberships/%s", p.apiURL, url.PathEscape(org), url.PathEscape(login))
	resp, err := p.get(ctx, client, op, endpoint, "application/vnd.github+json")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isSuccess(resp.StatusCode) {
		return nil, responseError(op, resp)
	}
	var membership membershipResponse
	if err := json.NewDecoder(resp.Body).Decode(&membership); err != nil {
		return nil, protocolError(op, fmt.Sprintf("failed to decode membership: %v", err))
	}
	if !membership.State.valid() {
		return nil, protocolError(op, fmt.Sprintf("unknown membership state %q", membership.State))
	}
	if !membership.Role.valid() {
		return nil, protocolError(op, fmt.Sprintf("unknown membership role %q", membership.Role))
	}
	return &membership, nil
}
