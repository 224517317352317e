// Copyright (c) 2026, git-annex-remote-hubic contributors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
)

// newState mints a fresh CSRF state token for the OAuth2 authorize URL. The
// Python original (original_source/hubic_remote/auth.py) never sent one;
// this is a supplemented feature matching current OAuth2 practice.
func newState() string {
	return uuid.NewString()
}

// callbackAddr is the fixed loopback address the Python original listened
// on (REDIRECT_PORT = 18181); hubiC's registered application redirect URI
// is pinned to this port, so it cannot be made configurable.
const callbackAddr = "127.0.0.1:18181"

const callbackSuccessPage = `<!DOCTYPE html>
<html><head><title>git-annex-remote-hubic</title></head>
<body><p>Authorization complete. You may close this tab and return to git-annex.</p></body>
</html>`

// OpenBrowserAndListen is the production AuthorizeFunc. It launches the
// user's browser against authURL and runs a one-shot HTTP server on
// callbackAddr to catch the redirect, validating the returned state before
// handing back the authorization code.
func OpenBrowserAndListen(ctx context.Context, authURL string) (string, error) {
	expectedState, err := stateFromURL(authURL)
	if err != nil {
		return "", err
	}

	ln, err := net.Listen("tcp", callbackAddr)
	if err != nil {
		return "", fmt.Errorf("listen on %s for the OAuth2 redirect: %w", callbackAddr, err)
	}

	type result struct {
		code string
		err  error
	}
	resultCh := make(chan result, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errMsg := q.Get("error"); errMsg != "" {
			resultCh <- result{err: fmt.Errorf("hubic denied authorization: %s", errMsg)}
			http.Error(w, "authorization denied", http.StatusOK)
			return
		}
		if q.Get("state") != expectedState {
			resultCh <- result{err: errors.New("OAuth2 state mismatch on redirect, possible CSRF")}
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			resultCh <- result{err: errors.New("redirect carried no authorization code")}
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, callbackSuccessPage)
		resultCh <- result{code: code}
	})

	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	// Launch in a goroutine with its own stdout/stderr handling so nothing
	// the browser helper writes lands on the protocol stream (spec.md §9).
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
	go func() {
		_ = browser.OpenURL(authURL)
	}()

	select {
	case r := <-resultCh:
		return r.code, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Minute):
		return "", errors.New("timed out waiting for the OAuth2 redirect")
	}
}

func stateFromURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse authorize URL: %w", err)
	}
	state := parsed.Query().Get("state")
	if state == "" {
		return "", errors.New("authorize URL carries no state parameter")
	}
	return state, nil
}

// swiftCredentialsResponse mirrors hubiC's account/credentials response
// body (original_source/hubic_remote/auth.py's get_swift_credentials).
type swiftCredentialsResponse struct {
	Token    string `json:"token"`
	Endpoint string `json:"endpoint"`
	Expires  string `json:"expires"`
}

// refreshSwiftToken exchanges the current OAuth2 access token (refreshing
// it first if stale) for a fresh Swift endpoint/token pair from hubiC's
// account credentials endpoint.
func (m *Manager) refreshSwiftToken(ctx context.Context) error {
	if m.accessTokenExpired() {
		if err := m.refreshAccessToken(ctx); err != nil {
			return fmt.Errorf("refresh access token before swift exchange: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.swiftCredentialsURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request swift credentials: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("swift credentials request returned status %d", resp.StatusCode)
	}

	var body swiftCredentialsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode swift credentials response: %w", err)
	}

	expiry, err := time.Parse(time.RFC3339, body.Expires)
	if err != nil {
		return fmt.Errorf("parse swift token expiry %q: %w", body.Expires, err)
	}

	m.swiftToken = body.Token
	m.swiftEndpoint = body.Endpoint
	m.swiftExpiration = expiry
	m.host.Debug(fmt.Sprintf("the current swift token expires at %s", m.swiftExpiration))
	return nil
}
