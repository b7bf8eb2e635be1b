package oauth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, creds Credentials, handler http.HandlerFunc) (*ClientCredentialsService, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClientCredentialsService(creds, srv.URL, srv.Client(), zerolog.Nop()), &calls
}

func TestBasicAuthHeader(t *testing.T) {
	testCases := []struct {
		name  string
		creds Credentials
		want  string
	}{
		{
			name:  "simple pair",
			creds: Credentials{ClientID: "abc", ClientSecret: "xyz"},
			want:  "Basic YWJjOnh5eg==",
		},
		{
			name:  "reserved characters are not escaped",
			creds: Credentials{ClientID: "a:b", ClientSecret: "c&d"},
			want:  "Basic YTpiOmMmZA==",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, BasicAuthHeader(tc.creds))
		})
	}
}

func TestAuthenticate_Success(t *testing.T) {
	creds := Credentials{ClientID: "abc", ClientSecret: "xyz"}
	svc, calls := newTestService(t, creds, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Basic YWJjOnh5eg==", r.Header.Get("Authorization"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "grant_type=client_credentials", string(body))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token": "T1", "token_type": "Bearer", "expires_in": 3600}`)
	})
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	token, err := svc.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T1", token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, fixed.Add(time.Hour), token.Expiry)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestAuthenticate_Failures(t *testing.T) {
	testCases := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantCode   string
		wantErr    error
	}{
		{
			name:       "missing access_token",
			status:     http.StatusOK,
			body:       `{"token_type": "Bearer", "expires_in": 3600}`,
			wantStatus: http.StatusOK,
			wantErr:    ErrMissingAccessToken,
		},
		{
			name:       "empty access_token",
			status:     http.StatusOK,
			body:       `{"access_token": ""}`,
			wantStatus: http.StatusOK,
			wantErr:    ErrMissingAccessToken,
		},
		{
			name:       "malformed json",
			status:     http.StatusOK,
			body:       `<html>nope</html>`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "oauth error body",
			status:     http.StatusBadRequest,
			body:       `{"error": "invalid_client", "error_description": "Invalid client secret"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_client",
		},
		{
			name:       "server error",
			status:     http.StatusBadGateway,
			body:       `upstream down`,
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, calls := newTestService(t, Credentials{ClientID: "id", ClientSecret: "secret"}, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			})

			token, err := svc.Authenticate(context.Background())
			require.Error(t, err)
			assert.Nil(t, token)

			var authErr *AuthError
			require.True(t, errors.As(err, &authErr), "expected *AuthError, got %T", err)
			assert.Equal(t, tc.wantStatus, authErr.StatusCode)
			assert.Equal(t, tc.wantCode, authErr.Code)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
			assert.EqualValues(t, 1, atomic.LoadInt32(calls))
		})
	}
}

func TestAuthenticate_MissingCredentials(t *testing.T) {
	svc, calls := newTestService(t, Credentials{ClientID: "id"}, func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint should not be called")
	})

	_, err := svc.Authenticate(context.Background())

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.EqualValues(t, 0, atomic.LoadInt32(calls))
}

func TestAuthenticate_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	svc := NewClientCredentialsService(Credentials{ClientID: "id", ClientSecret: "secret"}, url, nil, zerolog.Nop())
	_, err := svc.Authenticate(context.Background())

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Zero(t, authErr.StatusCode)
}

func TestNewClientCredentialsService_DefaultTokenURL(t *testing.T) {
	svc := NewClientCredentialsService(Credentials{}, "", nil, zerolog.Nop())
	assert.Equal(t, "https://accounts.spotify.com/api/token", svc.tokenURL)
	assert.Equal(t, http.DefaultClient, svc.httpClient)
}

func TestTokenSource_ReusesValidToken(t *testing.T) {
	svc, calls := newTestService(t, Credentials{ClientID: "id", ClientSecret: "secret"}, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"access_token": "T1", "token_type": "Bearer", "expires_in": 3600}`)
	})

	ts := svc.TokenSource(context.Background())
	for i := 0; i < 3; i++ {
		token, err := ts.Token()
		require.NoError(t, err)
		assert.Equal(t, "T1", token.AccessToken)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestTokenSource_RefreshesExpiredToken(t *testing.T) {
	var n int32
	svc, calls := newTestService(t, Credentials{ClientID: "id", ClientSecret: "secret"}, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			// expires inside oauth2's early-expiry window, so it is never reused
			io.WriteString(w, `{"access_token": "T1", "token_type": "Bearer", "expires_in": 1}`)
			return
		}
		io.WriteString(w, `{"access_token": "T2", "token_type": "Bearer", "expires_in": 3600}`)
	})

	ts := svc.TokenSource(context.Background())
	first, err := ts.Token()
	require.NoError(t, err)
	second, err := ts.Token()
	require.NoError(t, err)

	assert.Equal(t, "T1", first.AccessToken)
	assert.Equal(t, "T2", second.AccessToken)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}
