package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"github.com/oportunyfam/chatsync/pkg/errcode"
)

// HeaderRequestId carries a per-call id so both sides can correlate logs
const HeaderRequestId = "X-Request-Id"

// Client is the client for the OportunyFam REST API. It is stateless between calls
// and performs no retries.
type Client struct {
	baseURL    string
	httpClient *client.Client
	token      string
}

// ClientOption is a function to configure the client
type ClientOption func(*Client)

// Timeouts groups the transport timeouts of the underlying Hertz client
type Timeouts struct {
	Dial  time.Duration
	Read  time.Duration
	Write time.Duration
}

var defaultTimeouts = Timeouts{Dial: 10 * time.Second, Read: 30 * time.Second, Write: 30 * time.Second}

// WithHertzClient sets a custom Hertz client
func WithHertzClient(httpClient *client.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithToken sets the authentication token
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// NewClient creates a new API client
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	return NewClientWithTimeouts(baseURL, defaultTimeouts, opts...)
}

// NewClientWithTimeouts creates a new API client with explicit transport timeouts
func NewClientWithTimeouts(baseURL string, t Timeouts, opts ...ClientOption) (*Client, error) {
	c := &Client{baseURL: baseURL}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		httpClient, err := client.NewClient(
			client.WithDialTimeout(t.Dial),
			client.WithClientReadTimeout(t.Read),
			client.WithWriteTimeout(t.Write),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create http client: %w", err)
		}
		c.httpClient = httpClient
	}

	return c, nil
}

// MustNewClient creates a new API client and panics on error
func MustNewClient(baseURL string, opts ...ClientOption) *Client {
	c, err := NewClient(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// WithUserToken returns a copy bound to another session token. The Hertz client is shared.
func (c *Client) WithUserToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// GetToken returns the current token
func (c *Client) GetToken() string {
	return c.token
}

// errorBody is the error shape of the API; either field may be set
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// request makes an HTTP request and decodes a 2xx JSON response into result.
// Transport failures become *errcode.NetworkError, non-2xx statuses *errcode.ServerError.
func (c *Client) request(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer func() {
		protocol.ReleaseRequest(req)
		protocol.ReleaseResponse(resp)
	}()

	req.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestId, uuid.NewString())

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.SetBody(jsonBody)
	}

	op := method + " " + path
	if err := ctx.Err(); err != nil {
		return &errcode.NetworkError{Op: op, Err: err}
	}
	if err := c.httpClient.Do(ctx, req, resp); err != nil {
		return &errcode.NetworkError{Op: op, Err: err}
	}

	status := resp.StatusCode()
	if status < consts.StatusOK || status >= consts.StatusMultipleChoices {
		return &errcode.ServerError{Code: status, Msg: errorMessage(resp.Body())}
	}

	if result == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var eb errorBody
	if len(body) == 0 || json.Unmarshal(body, &eb) != nil {
		return ""
	}
	if eb.Message != "" {
		return eb.Message
	}
	return eb.Error
}

// get makes a GET request
func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	return c.request(ctx, consts.MethodGet, path, nil, result)
}

// post makes a POST request
func (c *Client) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.request(ctx, consts.MethodPost, path, body, result)
}
