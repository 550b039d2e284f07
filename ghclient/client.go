package ghclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spi-tools/ghapp-broker/pkg/env"
	"github.com/spi-tools/ghapp-broker/pkg/robusthttp"
)

const (
	DefaultBaseURL = "https://api.github.com"

	// AcceptHeader is the structured JSON media type of the GitHub REST API.
	AcceptHeader = "application/vnd.github+json"

	apiVersion = "2022-11-28"
)

// Minter produces signed app assertions. Satisfied by *appauth.Minter.
type Minter interface {
	Mint(issuer string) (string, error)
}

type Config struct {
	// BaseURL of the upstream API. Defaults to DefaultBaseURL.
	BaseURL string

	// AppID is the issuer placed in every assertion.
	AppID string

	// AppName is sent as the User-Agent.
	AppName string

	Minter Minter

	// HTTPClient defaults to robusthttp.NewClient with Timeout.
	HTTPClient *http.Client

	// Timeout bounds each upstream call. Defaults to 30 seconds.
	Timeout time.Duration

	Logger *slog.Logger
}

// Client calls the GitHub App endpoints, authenticating every request with a
// freshly minted assertion. Nothing is cached between calls.
type Client struct {
	baseURL    string
	appID      string
	userAgent  string
	minter     Minter
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// Result is the outcome of a call that reached upstream and returned JSON.
type Result struct {
	// Status is the status reported to the local caller. Any upstream
	// response that parses as JSON is a local success.
	Status int

	// UpstreamStatus is the status code upstream actually replied with.
	UpstreamStatus int

	// Body is the upstream JSON, re-encoded with indentation.
	Body []byte
}

func New(config Config) (*Client, error) {
	if config.AppID == "" {
		return nil, fmt.Errorf("ghclient: app ID is required")
	}
	if config.Minter == nil {
		return nil, fmt.Errorf("ghclient: assertion minter is required")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("ghclient: invalid base URL: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ghclient")

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = robusthttp.NewClient(
			robusthttp.WithLogger(logger),
			robusthttp.WithTimeout(timeout),
		)
	}

	userAgent := config.AppName
	if userAgent == "" {
		userAgent = env.UserAgent("")
	}

	return &Client{
		baseURL:    baseURL,
		appID:      config.AppID,
		userAgent:  userAgent,
		minter:     config.Minter,
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// ListInstallations calls GET /app/installations.
func (c *Client) ListInstallations(ctx context.Context) (*Result, error) {
	return c.do(ctx, "list_installations", http.MethodGet, c.baseURL+"/app/installations")
}

// ExchangeInstallationToken calls POST /app/installations/{id}/access_tokens.
// An empty installation ID fails with ErrBadRequest before any assertion is
// minted or request sent.
func (c *Client) ExchangeInstallationToken(ctx context.Context, installationID string) (*Result, error) {
	if installationID == "" {
		return nil, fmt.Errorf("%w: missing installation ID", ErrBadRequest)
	}
	u := c.baseURL + "/app/installations/" + url.PathEscape(installationID) + "/access_tokens"
	return c.do(ctx, "installation_access_token", http.MethodPost, u)
}

// Call performs an authenticated request against an arbitrary upstream URL.
func (c *Client) Call(ctx context.Context, method, u string) (*Result, error) {
	return c.do(ctx, "other", method, u)
}

func (c *Client) do(ctx context.Context, endpoint, method, u string) (*Result, error) {
	start := time.Now()
	res, err := c.call(ctx, method, u)

	status := "ok"
	if err != nil {
		status = errorLabel(err)
		c.logger.Warn("upstream call failed", "endpoint", endpoint, "method", method, "err", err)
	} else {
		c.logger.Debug("upstream call", "endpoint", endpoint, "method", method, "upstreamStatus", res.UpstreamStatus)
	}
	upstreamRequests.WithLabelValues(endpoint, status).Inc()
	upstreamDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
	return res, err
}

func (c *Client) call(ctx context.Context, method, u string) (*Result, error) {
	assertion, err := c.minter.Mint(c.appID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", AcceptHeader)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %w", ErrTransport, err)
	}

	body, err := prettyJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("%w (HTTP %d): %w", ErrUpstreamParse, resp.StatusCode, err)
	}

	return &Result{
		Status:         http.StatusOK,
		UpstreamStatus: resp.StatusCode,
		Body:           body,
	}, nil
}

// prettyJSON validates raw as a single JSON document and re-encodes it with
// two-space indentation. Object key order is preserved.
func prettyJSON(raw []byte) ([]byte, error) {
	var doc json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrSigning):
		return "signing_error"
	case errors.Is(err, ErrBuild):
		return "build_error"
	case errors.Is(err, ErrTransport):
		return "transport_error"
	case errors.Is(err, ErrUpstreamParse):
		return "parse_error"
	default:
		return "error"
	}
}
