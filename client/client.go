package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/richinsley/viewcomfy/auth"
)

// ErrEmptyResponse is returned when a successful response has no body to decode.
var ErrEmptyResponse = errors.New("client: empty response body")

type Options struct {
	// BaseURL of the ViewComfy app serving /api/comfy and /api/playground.
	BaseURL string
	// ComfyUIURL is host:port of the ComfyUI server, without a scheme.
	ComfyUIURL    string
	ComfyUISecure bool

	HTTPClient   *http.Client
	Credentials  auth.Supplier
	TokenOptions auth.TokenOptions
	Logger       *zerolog.Logger
}

// Client talks to the ViewComfy app and, for model listings, to ComfyUI directly.
type Client struct {
	baseURL      string
	comfyBaseURL string
	clientid     string
	httpclient   *http.Client
	credentials  auth.Supplier
	tokenOptions auth.TokenOptions
	log          zerolog.Logger
}

func New(opts Options) *Client {
	httpclient := opts.HTTPClient
	if httpclient == nil {
		httpclient = &http.Client{Timeout: 5 * time.Minute}
	}
	comfyURL := opts.ComfyUIURL
	if comfyURL == "" {
		comfyURL = "127.0.0.1:8188"
	}
	scheme := "http://"
	if opts.ComfyUISecure {
		scheme = "https://"
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		comfyBaseURL: scheme + strings.TrimRight(comfyURL, "/"),
		clientid:     uuid.New().String(),
		httpclient:   httpclient,
		credentials:  opts.Credentials,
		tokenOptions: opts.TokenOptions,
		log:          logger.With().Str("component", "client").Logger(),
	}
}

// ClientID returns the unique id sent with every request from this client
func (c *Client) ClientID() string {
	return c.clientid
}

// return the underlying http client
func (c *Client) HttpClient() *http.Client {
	return c.httpclient
}

// authorize attaches the client id and, when signed in, a bearer token.
func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	req.Header.Set("X-Client-Id", c.clientid)
	if c.credentials == nil || !c.credentials.SignedIn() {
		return nil
	}
	token, err := c.credentials.GetToken(ctx, c.tokenOptions)
	if err != nil {
		return fmt.Errorf("client: get token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// do executes req and decodes a 2xx JSON body into out. Anything else becomes a
// *ResponseError.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp, body)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.log.Error().Err(err).Str("url", req.URL.String()).Int("bytes", len(body)).Msg("error unmarshalling response")
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, url string, authorize bool, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if authorize {
		if err := c.authorize(ctx, req); err != nil {
			return err
		}
	}
	return c.do(req, out)
}
