package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/spotify"
)

var (
	// ErrMissingCredentials is returned when the client id or secret is empty.
	ErrMissingCredentials = errors.New("client id and client secret are required")
	// ErrMissingAccessToken is returned when the token endpoint answers without an access_token.
	ErrMissingAccessToken = errors.New("token response has no access_token")
)

// Credentials identify a Spotify application for the client-credentials grant.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

func (c Credentials) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return ErrMissingCredentials
	}
	return nil
}

// BasicAuthHeader returns the Authorization value for the token request:
// "Basic " followed by base64("client_id:client_secret").
func BasicAuthHeader(c Credentials) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.ClientID+":"+c.ClientSecret))
}

// AuthError reports a failed token exchange.
type AuthError struct {
	StatusCode  int    // 0 when no response was received
	Code        string // OAuth "error" field, if the server sent one
	Description string // OAuth "error_description" field
	Err         error
}

func (e *AuthError) Error() string {
	var b strings.Builder
	b.WriteString("token exchange failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
		if e.Description != "" {
			fmt.Fprintf(&b, " (%s)", e.Description)
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *AuthError) Unwrap() error { return e.Err }

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ClientCredentialsService exchanges application credentials for a bearer token.
type ClientCredentialsService struct {
	creds      Credentials
	tokenURL   string
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
}

// NewClientCredentialsService creates a service posting to tokenURL, or to
// Spotify's token endpoint when tokenURL is empty. A nil httpClient means
// http.DefaultClient.
func NewClientCredentialsService(creds Credentials, tokenURL string, httpClient *http.Client, logger zerolog.Logger) *ClientCredentialsService {
	if tokenURL == "" {
		tokenURL = spotify.Endpoint.TokenURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ClientCredentialsService{
		creds:      creds,
		tokenURL:   tokenURL,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "oauth").Logger(),
		now:        time.Now,
	}
}

// Authenticate performs a single client-credentials exchange. It never
// returns a token with an empty AccessToken.
func (s *ClientCredentialsService) Authenticate(ctx context.Context) (*oauth2.Token, error) {
	if err := s.creds.Validate(); err != nil {
		return nil, &AuthError{Err: err}
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthError{Err: fmt.Errorf("failed to create token request: %w", err)}
	}
	req.Header.Set("Authorization", BasicAuthHeader(s.creds))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	s.logger.Debug().Str("url", s.tokenURL).Msg("requesting client credentials token")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &AuthError{Err: fmt.Errorf("failed to execute token request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read token response: %w", err)}
	}

	var tr tokenResponse
	decodeErr := json.Unmarshal(body, &tr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		aerr := &AuthError{StatusCode: resp.StatusCode}
		if decodeErr == nil && tr.Error != "" {
			aerr.Code = tr.Error
			aerr.Description = tr.ErrorDescription
		} else {
			aerr.Err = fmt.Errorf("token endpoint returned %s: %s", resp.Status, truncate(body, 256))
		}
		return nil, aerr
	}

	if decodeErr != nil {
		return nil, &AuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode token response: %w", decodeErr)}
	}
	if tr.AccessToken == "" {
		return nil, &AuthError{StatusCode: resp.StatusCode, Err: ErrMissingAccessToken}
	}

	token := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
	}
	if tr.ExpiresIn > 0 {
		token.Expiry = s.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	s.logger.Info().
		Str("token_type", tr.TokenType).
		Int64("expires_in", tr.ExpiresIn).
		Msg("client credentials token acquired")

	return token, nil
}

// TokenSource returns a caching oauth2.TokenSource backed by Authenticate.
// A new exchange happens only once the cached token has expired, and
// concurrent callers share a single exchange.
func (s *ClientCredentialsService) TokenSource(ctx context.Context) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &tokenSource{ctx: ctx, svc: s})
}

type tokenSource struct {
	ctx context.Context
	svc *ClientCredentialsService
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	return ts.svc.Authenticate(ts.ctx)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
