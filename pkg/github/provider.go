package github

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Paulkm2006/ssh-github-auth/pkg/version"
)

const (
	DefaultWebURL  = "https://github.com"
	DefaultAPIURL  = "https://api.github.com"
	DefaultTimeout = 30 * time.Second

	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"
	apiVersion      = "2022-11-28"
)

// Config describes how to reach GitHub (or a GitHub Enterprise Server).
type Config struct {
	WebURL          string
	APIURL          string
	Scopes          []string
	CAFile          string
	InsecureSkipTLS bool
	Timeout         time.Duration
	UserAgent       string
	Logger          *zap.SugaredLogger
}

// Provider is the unauthenticated handle. Authenticate turns a device code
// into an Identity which the remaining calls operate on.
type Provider struct {
	webURL string
	apiURL string
	scopes []string
	client *http.Client
	log    *zap.SugaredLogger
}

func NewProvider(cfg Config) (*Provider, error) {
	webURL := strings.TrimRight(cfg.WebURL, "/")
	if webURL == "" {
		webURL = DefaultWebURL
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	transport, err := buildTransport(cfg.CAFile, cfg.InsecureSkipTLS)
	if err != nil {
		return nil, err
	}
	return &Provider{
		webURL: webURL,
		apiURL: apiURL,
		scopes: cfg.Scopes,
		client: &http.Client{
			Transport: &userAgentTransport{base: transport, userAgent: userAgent},
			Timeout:   timeout,
		},
		log: log,
	}, nil
}

func (p *Provider) oauthConfig(clientID string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Scopes:   p.scopes,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: p.webURL + "/login/device/code",
			TokenURL:      p.webURL + "/login/oauth/access_token",
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}
}

// authorizedClient returns an HTTP client that sends token as a bearer
// credential on top of the provider's transport.
func (p *Provider) authorizedClient(ctx context.Context, token *oauth2.Token) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	client.Timeout = p.client.Timeout
	return client
}

func (p *Provider) get(ctx context.Context, client *http.Client, op, endpoint, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, transportError(op, err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	resp, err := client.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	return resp, nil
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(clone)
}

func buildTransport(caFile string, insecure bool) (http.RoundTripper, error) {
	tlsConfig, err := loadTLSConfig(caFile, insecure)
	if err != nil {
		return nil, err
	}
	return &http.Transport{Proxy: http.ProxyFromEnvironment, TLSClientConfig: tlsConfig}, nil
}

func loadTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	if caFile == "" && !insecure {
		return &tls.Config{MinVersion: tls.VersionTLS12}, nil
	}
	certPool, err := loadCertPool(caFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecure, //nolint:gosec // opt-in for test GitHub Enterprise instances
		RootCAs:            certPool,
	}, nil
}

func loadCertPool(caFile string) (*x509.CertPool, error) {
	if caFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return nil, errors.New("failed to parse CA file")
	}
	return pool, nil
}
