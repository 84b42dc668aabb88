// Package remote implements the client side of the chunk-store HTTP
// protocol: the existence probe, chunk upload, and root/status calls, with
// bounded retries for idempotent requests.
package remote

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"mbackup/internal/backuperr"
)

// Probe is the three-way result of has_chunk.
type Probe int

const (
	No Probe = iota
	Yes
	YesCached
)

// Client talks to one server over a single authenticated HTTP connection.
type Client struct {
	httpClient *http.Client
	baseURL    string
	user       string
	password   string
	bucket     string

	retries    int
	retryDelay time.Duration
}

// New builds a Client. baseURL has no trailing slash.
func New(httpClient *http.Client, baseURL, user, password, bucket string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		user:       user,
		password:   password,
		bucket:     bucket,
		retries:    3,
		retryDelay: 200 * time.Millisecond,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, backuperr.New(backuperr.Http, err)
	}
	req.SetBasicAuth(c.user, c.password)
	return req, nil
}

// doIdempotent retries transport failures and 5xx responses with
// exponential backoff; the caller still owns interpreting the final
// response's status code.
func (c *Client) doIdempotent(req *http.Request, bodyBytes []byte) (*http.Response, error) {
	delay := c.retryDelay
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
			if bodyBytes != nil {
				req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			}
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = backuperr.New(backuperr.Http, err)
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = backuperr.NewHTTP(resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

// Status fetches the bucket's current delete epoch, called once per run.
func (c *Client) Status(ctx context.Context) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/status/"+c.bucket, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.doIdempotent(req, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, backuperr.NewHTTP(resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, backuperr.New(backuperr.Io, err)
	}
	t, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, backuperr.New(backuperr.Http, err)
	}
	return t, nil
}

// HasChunk issues the network half of the existence probe (the cache-first
// half lives in internal/cache). size is not used here: every call issues a
// HEAD request. The small-chunk skip below chunkmodel.SmallSize is applied by
// the caller in internal/backup before this method is reached.
func (c *Client) HasChunk(ctx context.Context, hash string, size int64) (Probe, error) {
	req, err := c.newRequest(ctx, http.MethodHead, "/chunks/"+c.bucket+"/"+hash, nil)
	if err != nil {
		return No, err
	}
	resp, err := c.doIdempotent(req, nil)
	if err != nil {
		return No, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return Yes, nil
	case http.StatusNotFound:
		return No, nil
	default:
		return No, backuperr.NewHTTP(resp.StatusCode)
	}
}

// PushChunk uploads sealed (nonce || ciphertext) bytes for hash. A 409
// response means another client already installed the same content-addressed
// chunk and is treated as success.
func (c *Client) PushChunk(ctx context.Context, hash string, sealed []byte) error {
	req, err := c.newRequest(ctx, http.MethodPut, "/chunks/"+c.bucket+"/"+hash, bytes.NewReader(sealed))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(sealed))
	resp, err := c.doIdempotent(req, sealed)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusConflict:
		return nil
	default:
		return backuperr.NewHTTP(resp.StatusCode)
	}
}

// FetchChunk downloads a chunk's sealed bytes.
func (c *Client) FetchChunk(ctx context.Context, hash string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/chunks/"+c.bucket+"/"+hash, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.doIdempotent(req, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, backuperr.NewHTTP(resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backuperr.New(backuperr.Io, err)
	}
	return data, nil
}

// PutRoot uploads the snapshot root hash for host. Not retried: a duplicate
// retry would create a second root row.
func (c *Client) PutRoot(ctx context.Context, host, hash string) error {
	req, err := c.newRequest(ctx, http.MethodPut, "/roots/"+c.bucket+"/"+host, bytes.NewReader([]byte(hash)))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(hash))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return backuperr.New(backuperr.Http, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return backuperr.NewHTTP(resp.StatusCode)
	}
	return nil
}

// DeleteChunks issues a bulk, non-retried delete for the given hashes.
func (c *Client) DeleteChunks(ctx context.Context, hashes []string) error {
	body := make([]byte, 0, 65*len(hashes))
	for i, h := range hashes {
		if i > 0 {
			body = append(body, 0)
		}
		body = append(body, h...)
	}
	req, err := c.newRequest(ctx, http.MethodDelete, "/chunks/"+c.bucket, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(body))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return backuperr.New(backuperr.Http, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return backuperr.NewHTTP(resp.StatusCode)
	}
	return nil
}
