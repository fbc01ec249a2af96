package content

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	APIURL   string
	ClientID string
	APIKey   string
}

// Client pulls published catalog and quiz documents from the content API.
type Client struct {
	client *http.Client
	config Config
}

func NewClient(cfg Config) *Client {
	return &Client{
		client: &http.Client{
			Transport: &AuthTransport{
				ClientID: cfg.ClientID,
				APIKey:   cfg.APIKey,
				Base:     http.DefaultTransport,
			},
			Timeout: 10 * time.Second,
		},
		config: cfg,
	}
}

// AuthTransport adds Basic Auth headers
type AuthTransport struct {
	ClientID string
	APIKey   string
	Base     http.RoundTripper
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	req = req.Clone(req.Context())
	if t.ClientID != "" || t.APIKey != "" {
		auth := t.ClientID + ":" + t.APIKey
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth)))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "br")
	return t.Base.RoundTrip(req)
}

// FetchBundle downloads items, manuls and quizzes concurrently. Any failed
// request fails the whole bundle so a partial catalog is never published.
func (c *Client) FetchBundle(ctx context.Context) (*Bundle, error) {
	g, ctx := errgroup.WithContext(ctx)
	var bundle Bundle

	g.Go(func() error {
		if err := c.fetch(ctx, "items", &bundle.Items); err != nil {
			return fmt.Errorf("failed to fetch items: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := c.fetch(ctx, "manuls", &bundle.Manuls); err != nil {
			return fmt.Errorf("failed to fetch manuls: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := c.fetch(ctx, "quizzes", &bundle.Quizzes); err != nil {
			return fmt.Errorf("failed to fetch quizzes: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (c *Client) fetch(ctx context.Context, resource string, out any) error {
	url := fmt.Sprintf("%s/%s", strings.TrimRight(c.config.APIURL, "/"), resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}

	if resp.Header.Get("Content-Encoding") == "br" {
		resp.Body = &readCloserWrapper{Reader: brotli.NewReader(resp.Body), Closer: resp.Body}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var apiErr ErrorResponse
		if err := json.Unmarshal(body, &apiErr); err == nil && len(apiErr.Errors) > 0 {
			return &apiErr
		}
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

type readCloserWrapper struct {
	io.Reader
	io.Closer
}

func (r *readCloserWrapper) Read(p []byte) (n int, err error) {
	return r.Reader.Read(p)
}

func (r *readCloserWrapper) Close() error {
	return r.Closer.Close()
}
