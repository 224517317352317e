// Copyright (c) 2026, git-annex-remote-hubic contributors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package credential implements the credential manager (component B): the
// OAuth2/Swift token state machine described in spec.md §4.B, including
// first-time interactive authorization.
package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	authorizeURL = "https://api.hubic.com/oauth/auth"
	tokenURL     = "https://api.hubic.com/oauth/token"
	apiBaseURL   = "https://api.hubic.com/1.0/"
	redirectURI  = "http://localhost:18181/"

	// swiftExpirySkew is how far ahead of the declared expiry we treat a
	// Swift token as already expired, so a request doesn't race a token
	// that dies mid-flight.
	swiftExpirySkew = 30 * time.Second
)

// envClientID and envClientSecret are the well-known fallback environment
// variables used when no oauth_client credentials are configured for this
// remote (spec.md §6).
const (
	envClientID     = "HUBIC_CLIENT_ID"
	envClientSecret = "HUBIC_CLIENT_SECRET"
)

// dateMin is the sentinel "always expired" timestamp both tokens start at.
var dateMin = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.Local)

// ErrNoRefreshToken indicates PREPARE was called before INITREMOTE ever
// completed successfully; there is nothing to refresh.
var ErrNoRefreshToken = errors.New("credential: no refresh token stored for this remote")

// AuthError wraps a failure in the OAuth2 or Swift credential exchange.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// ConfigurationError indicates the OAuth client id/secret could not be
// determined from host credentials or the environment.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return e.Err.Error() }
func (e *ConfigurationError) Unwrap() error { return e.Err }

// Host is the small slice of the protocol adapter the credential manager
// depends on: config/credential accessors and a debug sink. It never calls
// Send/Fatal directly so that INITREMOTE/PREPARE reply wording stays the
// dispatcher's responsibility.
type Host interface {
	Debug(msg string)
	GetConfig(name string) (string, bool)
	SetConfig(name, value string)
	GetCreds(name string) (user, password string, ok bool)
	SetCreds(name, user, password string)
}

// AuthorizeFunc drives the interactive, one-shot browser authorization
// described in spec.md §4.B and §9: given the authorize URL, it opens it
// for the user, waits for the single redirect, and returns the "code" query
// parameter. Production code uses OpenBrowserAndListen; tests inject a
// fake.
type AuthorizeFunc func(ctx context.Context, url string) (code string, err error)

// Manager is the credential manager (component B). It is not safe for
// concurrent use; the host serializes commands (spec.md §5), so none is
// needed.
type Manager struct {
	host      Host
	oauthConf *oauth2.Config
	authorize AuthorizeFunc

	refreshToken string

	accessToken      string
	accessExpiration time.Time

	swiftEndpoint   string
	swiftToken      string
	swiftExpiration time.Time

	swiftCredentialsURL string
}

// Option customizes a Manager at construction time. The only current use
// is pointing the OAuth2/Swift-credentials endpoints at a test double;
// production callers never need one.
type Option func(*Manager)

// WithEndpoints overrides the OAuth2 authorize/token URLs and the Swift
// account-credentials URL a Manager talks to.
func WithEndpoints(authorizeURL, tokenURL, swiftCredentialsURL string) Option {
	return func(m *Manager) {
		m.oauthConf.Endpoint = oauth2.Endpoint{AuthURL: authorizeURL, TokenURL: tokenURL}
		m.swiftCredentialsURL = swiftCredentialsURL
	}
}

// NewManager resolves the OAuth2 client id/secret (from host credentials,
// falling back to the well-known environment variables) and constructs a
// Manager. It returns a *ConfigurationError if neither source has them.
func NewManager(host Host, authorize AuthorizeFunc, opts ...Option) (*Manager, error) {
	clientID, clientSecret, err := resolveClientCredentials(host)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	m := &Manager{
		host:      host,
		authorize: authorize,
		oauthConf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authorizeURL,
				TokenURL: tokenURL,
			},
			RedirectURL: redirectURI,
			Scopes:      []string{"credentials.r"},
		},
		accessExpiration:    dateMin,
		swiftExpiration:     dateMin,
		swiftCredentialsURL: apiBaseURL + "account/credentials",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func resolveClientCredentials(host Host) (id, secret string, err error) {
	if id, secret, ok := host.GetCreds("oauth_client"); ok && id != "" && secret != "" {
		return id, secret, nil
	}
	id = os.Getenv(envClientID)
	secret = os.Getenv(envClientSecret)
	if id == "" || secret == "" {
		return "", "", errors.New("no OAuth2 client id/secret: set oauth_client credentials or " +
			envClientID + "/" + envClientSecret)
	}
	return id, secret, nil
}

// APIBaseURL returns the hubiC API base URL, the same value NewManager
// builds its default account/credentials URL from.
func APIBaseURL() string { return apiBaseURL }

// Initialize implements the INITREMOTE state transition (spec.md §4.B). If a
// refresh token is already available from host storage it just refreshes
// the access token; otherwise it drives the interactive browser
// authorization flow.
func (m *Manager) Initialize(ctx context.Context) error {
	m.host.Debug("starting first-time OAuth2 authentication")

	if token := m.loadRefreshToken(); token != "" {
		m.refreshToken = token
		if err := m.refreshAccessToken(ctx); err != nil {
			return &AuthError{Op: "refresh access token", Err: err}
		}
		return nil
	}

	state := newState()
	authURL := m.oauthConf.AuthCodeURL(state, oauth2.SetAuthURLParam("response_type", "code"))

	m.host.Debug("starting the HTTP server to handle the redirection URL")
	code, err := m.authorize(ctx, authURL)
	if err != nil {
		return &AuthError{Op: "interactive authorization", Err: err}
	}

	tok, err := m.oauthConf.Exchange(ctx, code)
	if err != nil {
		return &AuthError{Op: "exchange authorization code", Err: err}
	}

	m.refreshToken = tok.RefreshToken
	m.accessToken = tok.AccessToken
	m.accessExpiration = tok.Expiry
	m.host.Debug(fmt.Sprintf("the current OAuth access token expires at %s", m.accessExpiration))

	m.storeRefreshToken(m.refreshToken)
	return nil
}

// Prepare implements the PREPARE state transition: load the refresh token
// and eagerly refresh the Swift token so that the first transfer command
// doesn't pay the latency.
func (m *Manager) Prepare(ctx context.Context) error {
	m.host.Debug("preparing the remote")
	token := m.loadRefreshToken()
	if token == "" {
		return ErrNoRefreshToken
	}
	m.refreshToken = token

	if err := m.refreshSwiftToken(ctx); err != nil {
		return &AuthError{Op: "refresh swift token", Err: err}
	}
	return nil
}

// SwiftCredentials returns the current (endpoint, token) pair, refreshing
// first if the Swift token has expired or will within swiftExpirySkew.
func (m *Manager) SwiftCredentials(ctx context.Context) (endpoint, token string, err error) {
	if m.SwiftTokenExpired() {
		if err := m.refreshSwiftToken(ctx); err != nil {
			return "", "", &AuthError{Op: "refresh swift token", Err: err}
		}
	}
	return m.swiftEndpoint, m.swiftToken, nil
}

// RefreshSwiftCredentials forces a refresh of the Swift token regardless of
// its locally tracked expiry. Used when a request comes back 401 before the
// expiry we cached would predict it: the remote side is free to invalidate
// tokens early.
func (m *Manager) RefreshSwiftCredentials(ctx context.Context) (endpoint, token string, err error) {
	if err := m.refreshSwiftToken(ctx); err != nil {
		return "", "", &AuthError{Op: "refresh swift token", Err: err}
	}
	return m.swiftEndpoint, m.swiftToken, nil
}

// SwiftTokenExpired reports whether the cached Swift token is stale.
func (m *Manager) SwiftTokenExpired() bool {
	return !time.Now().Add(swiftExpirySkew).Before(m.swiftExpiration)
}

func (m *Manager) accessTokenExpired() bool {
	return !time.Now().Before(m.accessExpiration)
}

func (m *Manager) refreshAccessToken(ctx context.Context) error {
	m.host.Debug("refreshing the OAuth access token")
	src := m.oauthConf.TokenSource(ctx, &oauth2.Token{RefreshToken: m.refreshToken})
	tok, err := src.Token()
	if err != nil {
		return err
	}
	m.accessToken = tok.AccessToken
	m.accessExpiration = tok.Expiry
	if tok.RefreshToken != "" {
		m.refreshToken = tok.RefreshToken
		m.storeRefreshToken(m.refreshToken)
	}
	m.host.Debug(fmt.Sprintf("the current OAuth access token expires at %s", m.accessExpiration))
	return nil
}

func (m *Manager) loadRefreshToken() string {
	if m.embedCreds() {
		if token, ok := m.host.GetConfig("hubic_refresh_token"); ok && token != "" {
			return token
		}
		if _, token, ok := m.host.GetCreds("token"); ok && token != "" {
			m.host.SetConfig("hubic_refresh_token", token)
			return token
		}
		return ""
	}
	_, token, ok := m.host.GetCreds("token")
	if !ok {
		return ""
	}
	return token
}

func (m *Manager) storeRefreshToken(token string) {
	if m.embedCreds() {
		m.host.SetConfig("hubic_refresh_token", token)
		return
	}
	m.host.SetCreds("token", "hubic", token)
}

func (m *Manager) embedCreds() bool {
	v, ok := m.host.GetConfig("embedcreds")
	if !ok {
		return false
	}
	switch strings.ToLower(v) {
	case "yes", "true", "1":
		return true
	default:
		return false
	}
}
