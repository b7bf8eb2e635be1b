package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/teal-fm/genres/models"
)

const (
	DefaultAPIBaseURL = "https://api.spotify.com/v1"
	DefaultLimit      = 50
)

var (
	// ErrEmptyToken is returned before any request when no access token is given.
	ErrEmptyToken = errors.New("access token is empty")
	// ErrMalformedResponse is returned when the body lacks an expected key.
	ErrMalformedResponse = errors.New("malformed categories response")
)

// FetchError reports a failed category listing.
type FetchError struct {
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch categories failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch categories failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Pointers distinguish a missing key from an empty value.
type categoriesResponse struct {
	Categories *struct {
		Items []*categoryItem `json:"items"`
	} `json:"categories"`
}

type categoryItem struct {
	ID   *string `json:"id"`
	Name *string `json:"name"`
}

type Service struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// NewSpotifyService creates a Web API client rooted at baseURL, or at
// DefaultAPIBaseURL when baseURL is empty.
func NewSpotifyService(baseURL string, httpClient *http.Client, logger zerolog.Logger) *Service {
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Service{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		logger:     logger.With().Str("component", "spotify").Logger(),
	}
}

// WithRateLimit caps outbound requests at rps per second. rps <= 0 disables the limit.
func (s *Service) WithRateLimit(rps float64) *Service {
	if rps <= 0 {
		s.limiter = rate.NewLimiter(rate.Inf, 1)
		return s
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	return s
}

func buildCategoriesEndpoint(baseURL string, limit, offset int) string {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	return baseURL + "/browse/categories?" + params.Encode()
}

// FetchCategories returns one page of browse categories in the order the
// API lists them. limit and offset are passed through unchanged.
func (s *Service) FetchCategories(ctx context.Context, accessToken string, limit, offset int) ([]models.Category, error) {
	if accessToken == "" {
		return nil, &FetchError{Err: ErrEmptyToken}
	}
	if limit < 0 || offset < 0 {
		return nil, &FetchError{Err: fmt.Errorf("limit and offset must be non-negative, got limit=%d offset=%d", limit, offset)}
	}

	endpoint := buildCategoriesEndpoint(s.baseURL, limit, offset)

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Err: fmt.Errorf("rate limiter error: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	token := &oauth2.Token{AccessToken: accessToken}
	token.SetAuthHeader(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Err: fmt.Errorf("failed to execute request to %s: %w", endpoint, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("spotify API error: %s", body)}
	}

	var result categoriesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response from %s: %w", endpoint, err)}
	}

	categories, err := result.toCategories()
	if err != nil {
		return nil, &FetchError{StatusCode: resp.StatusCode, Err: err}
	}

	s.logger.Debug().
		Int("limit", limit).
		Int("offset", offset).
		Int("count", len(categories)).
		Msg("fetched browse categories")

	return categories, nil
}

func (r categoriesResponse) toCategories() ([]models.Category, error) {
	if r.Categories == nil {
		return nil, fmt.Errorf("%w: missing \"categories\"", ErrMalformedResponse)
	}
	if r.Categories.Items == nil {
		return nil, fmt.Errorf("%w: missing \"categories.items\"", ErrMalformedResponse)
	}

	categories := make([]models.Category, 0, len(r.Categories.Items))
	for i, item := range r.Categories.Items {
		if item == nil {
			return nil, fmt.Errorf("%w: item %d is null", ErrMalformedResponse, i)
		}
		if item.ID == nil {
			return nil, fmt.Errorf("%w: item %d has no \"id\"", ErrMalformedResponse, i)
		}
		if item.Name == nil {
			return nil, fmt.Errorf("%w: item %d has no \"name\"", ErrMalformedResponse, i)
		}
		categories = append(categories, models.Category{ID: *item.ID, Name: *item.Name})
	}
	return categories, nil
}
