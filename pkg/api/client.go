package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jobport-labs/chatsync/pkg/errorx"
	"github.com/jobport-labs/chatsync/pkg/xcontext"
)

type Client interface {
	Header(name, value string) Client
	Query(query Parameter) Client
	Body(body any) Client
	GET(ctx context.Context) (*Response, error)
	POST(ctx context.Context) (*Response, error)
	PUT(ctx context.Context) (*Response, error)
}

// Generator builds request clients against one base URL, attaching the
// bearer credential to every call.
type Generator struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func NewGenerator(baseURL, token string) *Generator {
	return &Generator{baseURL: baseURL, token: token, httpc: http.DefaultClient}
}

// WithHTTPClient is used by tests to swap the transport.
func (g *Generator) WithHTTPClient(c *http.Client) *Generator {
	g.httpc = c
	return g
}

func (g *Generator) New(path string) Client {
	c := &defaultClient{
		gen:     g,
		path:    path,
		headers: make(http.Header),
	}

	if g.token != "" {
		c.headers.Set("Authorization", "Bearer "+g.token)
	}

	return c
}

type defaultClient struct {
	gen     *Generator
	method  string
	path    string
	headers http.Header
	query   Parameter
	body    any
}

func (c *defaultClient) Header(name, value string) Client {
	c.headers.Set(name, value)
	return c
}

func (c *defaultClient) Query(query Parameter) Client {
	c.query = query
	return c
}

func (c *defaultClient) Body(body any) Client {
	c.body = body
	return c
}

func (c *defaultClient) GET(ctx context.Context) (*Response, error) {
	c.method = http.MethodGet
	return c.call(ctx)
}

func (c *defaultClient) POST(ctx context.Context) (*Response, error) {
	c.method = http.MethodPost
	return c.call(ctx)
}

func (c *defaultClient) PUT(ctx context.Context) (*Response, error) {
	c.method = http.MethodPut
	return c.call(ctx)
}

func (c *defaultClient) call(ctx context.Context) (*Response, error) {
	var reader io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		if err != nil {
			return nil, err
		}

		reader = bytes.NewReader(b)
		c.headers.Set("Content-Type", "application/json")
	}

	url := c.gen.baseURL + c.path
	if len(c.query) > 0 {
		url = url + "?" + c.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, c.method, url, reader)
	if err != nil {
		return nil, err
	}

	for h, values := range c.headers {
		for _, v := range values {
			req.Header.Add(h, v)
		}
	}

	result, err := c.gen.httpc.Do(req)
	if err != nil {
		xcontext.Logger(ctx).Warnf("An error occured when calling to %s: %v", url, err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errorx.New(errorx.Timeout, "call to %s timed out", c.path)
		}

		return nil, errorx.New(errorx.Unavailable, "cannot call %s: %v", c.path, err)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		xcontext.Logger(ctx).Warnf("An error occured when reading body of %s: %v", url, err)
		return nil, errorx.New(errorx.BadResponse, "cannot read response of %s", c.path)
	}

	return &Response{
		Code:    result.StatusCode,
		Header:  result.Header,
		RawBody: body,
	}, nil
}
