package svcdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal svcdesk HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, for example http://127.0.0.1:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given envelope code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

// Me returns the authenticated principal.
func (c *Client) Me(ctx context.Context) (Principal, error) {
	var resp Principal
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// CreateRequest submits a service request.
func (c *Client) CreateRequest(ctx context.Context, in RequestInput) (ServiceRequest, error) {
	var resp ServiceRequest
	err := c.do(ctx, http.MethodPost, "requests", in, &resp)
	return resp, err
}

// GetRequest fetches a request by id.
func (c *Client) GetRequest(ctx context.Context, id int64) (ServiceRequest, error) {
	var resp ServiceRequest
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("requests/%d", id), nil, &resp)
	return resp, err
}

// RequestsPage lists requests; filter accepts status, service_id,
// requester_id, limit and cursor.
func (c *Client) RequestsPage(ctx context.Context, filter url.Values) (RequestPage, error) {
	var resp RequestPage
	err := c.do(ctx, http.MethodGet, withQuery("requests", filter), nil, &resp)
	return resp, err
}

// TransitionRequest moves a request to status.
func (c *Client) TransitionRequest(ctx context.Context, id int64, status string) (ServiceRequest, error) {
	var resp ServiceRequest
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("requests/%d/transition", id), map[string]string{"status": status}, &resp)
	return resp, err
}

// DeleteRequest removes a request.
func (c *Client) DeleteRequest(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("requests/%d", id), nil, nil)
}

// AuditPage reads the audit trail, newest first.
func (c *Client) AuditPage(ctx context.Context, filter url.Values) (AuditPage, error) {
	var resp AuditPage
	err := c.do(ctx, http.MethodGet, withQuery("audit", filter), nil, &resp)
	return resp, err
}

// Categories, Services, SlaLevels and Users return collection adapters.
func (c *Client) Categories() Resource[Category, CategoryInput] {
	return Resource[Category, CategoryInput]{Client: c, Path: "categories"}
}

func (c *Client) Services() Resource[Service, ServiceInput] {
	return Resource[Service, ServiceInput]{Client: c, Path: "services"}
}

func (c *Client) SlaLevels() Resource[SlaLevel, SlaLevelInput] {
	return Resource[SlaLevel, SlaLevelInput]{Client: c, Path: "sla-levels"}
}

func (c *Client) Users() Resource[User, UserInput] {
	return Resource[User, UserInput]{Client: c, Path: "users"}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return newAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}
