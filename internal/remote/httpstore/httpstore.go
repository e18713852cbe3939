// Package httpstore implements remote.Store against a REST document API.
//
// Endpoints, relative to the server URL:
//
//	POST  /v1/{collection}        create, responds {"id": "..."}
//	PATCH /v1/{collection}/{id}   merge fields, 404 when missing
//	GET   /v1/{collection}?f=v    list documents as a JSON array
//
// ServerTime placeholders are sent as {".sv":"timestamp"}.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/oapi-codegen/runtime"

	"github.com/roach88/tablesync/internal/model"
	"github.com/roach88/tablesync/internal/remote"
)

// RequestEditorFn is called on every request right before it is sent.
type RequestEditorFn func(ctx context.Context, req *http.Request) error

// HttpRequestDoer performs HTTP requests.
//
// The standard http.Client implements this interface.
type HttpRequestDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a remote.Store speaking the REST document API.
type Client struct {
	// Server is the base URL, with scheme, always ending in a slash.
	Server string

	// Client performs the requests, typically an *http.Client.
	Client HttpRequestDoer

	// RequestEditors mutate each request before it is sent.
	RequestEditors []RequestEditorFn
}

// ClientOption allows setting custom parameters during construction.
type ClientOption func(*Client) error

// NewClient creates a client for server with reasonable defaults.
func NewClient(server string, opts ...ClientOption) (*Client, error) {
	client := Client{Server: server}
	for _, o := range opts {
		if err := o(&client); err != nil {
			return nil, err
		}
	}
	if !strings.HasSuffix(client.Server, "/") {
		client.Server += "/"
	}
	if client.Client == nil {
		client.Client = &http.Client{}
	}
	return &client, nil
}

// WithHTTPClient overrides the default Doer. This is useful for tests.
func WithHTTPClient(doer HttpRequestDoer) ClientOption {
	return func(c *Client) error {
		c.Client = doer
		return nil
	}
}

// WithRequestEditorFn adds a callback run right before each request is sent.
func WithRequestEditorFn(fn RequestEditorFn) ClientOption {
	return func(c *Client) error {
		c.RequestEditors = append(c.RequestEditors, fn)
		return nil
	}
}

// WithBearerToken authenticates every request with token.
func WithBearerToken(token string) ClientOption {
	return WithRequestEditorFn(func(_ context.Context, req *http.Request) error {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	})
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Create implements remote.Store.
func (c *Client) Create(ctx context.Context, collection string, fields model.Fields) (string, error) {
	req, err := newCreateRequest(c.Server, collection, fields)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", collection, err)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, req, &out); err != nil {
		return "", fmt.Errorf("create %s: %w", collection, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("create %s: server returned no id", collection)
	}
	return out.ID, nil
}

// Update implements remote.Store.
func (c *Client) Update(ctx context.Context, collection, id string, fields model.Fields) error {
	req, err := newUpdateRequest(c.Server, collection, id, fields)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if err := c.do(ctx, req, nil); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return nil
}

// GetAll implements remote.Store.
func (c *Client) GetAll(ctx context.Context, collection string, filters ...remote.Filter) ([]model.Document, error) {
	req, err := newListRequest(c.Server, collection, filters)
	if err != nil {
		return nil, fmt.Errorf("get all %s: %w", collection, err)
	}
	var docs []model.Document
	if err := c.do(ctx, req, &docs); err != nil {
		return nil, fmt.Errorf("get all %s: %w", collection, err)
	}
	if docs == nil {
		docs = []model.Document{}
	}
	return docs, nil
}

func (c *Client) do(ctx context.Context, req *http.Request, out any) error {
	req = req.WithContext(ctx)
	for _, r := range c.RequestEditors {
		if err := r(ctx, req); err != nil {
			return err
		}
	}
	rsp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer rsp.Body.Close()

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if rsp.StatusCode == http.StatusNotFound && req.Method == http.MethodPatch {
		return remote.ErrNotFound
	}
	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		return &StatusError{
			Method:     req.Method,
			URL:        req.URL.String(),
			StatusCode: rsp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newCreateRequest(server, collection string, fields model.Fields) (*http.Request, error) {
	pathParam0, err := runtime.StyleParamWithLocation("simple", false, "collection", runtime.ParamLocationPath, collection)
	if err != nil {
		return nil, err
	}
	return newJSONRequest(http.MethodPost, server, fmt.Sprintf("/v1/%s", pathParam0), fields)
}

func newUpdateRequest(server, collection, id string, fields model.Fields) (*http.Request, error) {
	pathParam0, err := runtime.StyleParamWithLocation("simple", false, "collection", runtime.ParamLocationPath, collection)
	if err != nil {
		return nil, err
	}
	pathParam1, err := runtime.StyleParamWithLocation("simple", false, "id", runtime.ParamLocationPath, id)
	if err != nil {
		return nil, err
	}
	return newJSONRequest(http.MethodPatch, server, fmt.Sprintf("/v1/%s/%s", pathParam0, pathParam1), fields)
}

func newListRequest(server, collection string, filters []remote.Filter) (*http.Request, error) {
	pathParam0, err := runtime.StyleParamWithLocation("simple", false, "collection", runtime.ParamLocationPath, collection)
	if err != nil {
		return nil, err
	}
	queryURL, err := resolve(server, fmt.Sprintf("/v1/%s", pathParam0))
	if err != nil {
		return nil, err
	}

	if len(filters) > 0 {
		queryValues := queryURL.Query()
		for _, f := range filters {
			queryFrag, err := runtime.StyleParamWithLocation("form", true, f.Field, runtime.ParamLocationQuery, f.Value)
			if err != nil {
				return nil, err
			}
			parsed, err := url.ParseQuery(queryFrag)
			if err != nil {
				return nil, err
			}
			for k, v := range parsed {
				for _, v2 := range v {
					queryValues.Add(k, v2)
				}
			}
		}
		queryURL.RawQuery = queryValues.Encode()
	}

	return http.NewRequest(http.MethodGet, queryURL.String(), nil)
}

func newJSONRequest(method, server, operationPath string, body any) (*http.Request, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	queryURL, err := resolve(server, operationPath)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(method, queryURL.String(), bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/json")
	return req, nil
}

func resolve(server, operationPath string) (*url.URL, error) {
	serverURL, err := url.Parse(server)
	if err != nil {
		return nil, err
	}
	if operationPath[0] == '/' {
		operationPath = "." + operationPath
	}
	return serverURL.Parse(operationPath)
}
