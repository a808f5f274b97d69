package ipfs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// StatusError is a non-200 answer from the IPFS API or gateway.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ipfs %s failed: %d %s", e.Op, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("ipfs %s failed: %d %s: %s", e.Op, e.Code, http.StatusText(e.Code), e.Body)
}

// Config selects the API endpoint and credentials. Token is sent as a bearer
// header, which is what hosted pinning APIs expect.
type Config struct {
	APIURL     string
	GatewayURL string
	Token      string
	Timeout    time.Duration
}

type Client struct {
	apiURL     string
	gatewayURL string
	token      string
	client     *http.Client
}

// ConfigFromEnv reads IPFS_API_URL, IPFS_GATEWAY_URL, IPFS_JWT and
// IPFS_HTTP_TIMEOUT_SEC.
func ConfigFromEnv() Config {
	apiURL := os.Getenv("IPFS_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:5001"
	}
	timeout := 30 * time.Second
	if raw := os.Getenv("IPFS_HTTP_TIMEOUT_SEC"); raw != "" {
		if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && v > 0 {
			timeout = time.Duration(v) * time.Second
		}
	}
	return Config{
		APIURL:     apiURL,
		GatewayURL: os.Getenv("IPFS_GATEWAY_URL"),
		Token:      os.Getenv("IPFS_JWT"),
		Timeout:    timeout,
	}
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		gatewayURL: strings.TrimRight(cfg.GatewayURL, "/"),
		token:      cfg.Token,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

func NewClientFromEnv() *Client {
	return NewClient(ConfigFromEnv())
}

// HasToken reports whether credentials are configured.
func (c *Client) HasToken() bool {
	return c.token != ""
}

func (c *Client) AddBytes(ctx context.Context, name string, data []byte) (string, error) {
	return c.addStream(ctx, name, bytes.NewReader(data))
}

func (c *Client) addStream(ctx context.Context, name string, reader io.Reader) (string, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		defer pw.Close()
		part, err := writer.CreateFormFile("file", name)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, reader); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = writer.Close()
	}()

	reqURL := fmt.Sprintf("%s/api/v0/add?pin=true&cid-version=1", c.apiURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("add", resp)
	}

	var lastHash string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var entry struct {
			Hash string `json:"Hash"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err == nil && entry.Hash != "" {
			lastHash = entry.Hash
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if lastHash == "" {
		return "", fmt.Errorf("ipfs add returned empty hash")
	}
	return lastHash, nil
}

// Cat fetches cid through the API, falling back to the gateway when one is
// configured and the API could not be reached.
func (c *Client) Cat(ctx context.Context, cid string) ([]byte, error) {
	if strings.TrimSpace(cid) == "" {
		return nil, fmt.Errorf("ipfs cat missing cid")
	}
	data, err := c.catAPI(ctx, cid)
	if err == nil || c.gatewayURL == "" {
		return data, err
	}
	if _, isStatus := err.(*StatusError); isStatus {
		return nil, err
	}
	return c.catGateway(ctx, cid)
}

func (c *Client) catAPI(ctx context.Context, cid string) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/api/v0/cat?arg=%s", c.apiURL, url.QueryEscape(cid))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("cat", resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) catGateway(ctx context.Context, cid string) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/ipfs/%s", c.gatewayURL, url.PathEscape(cid))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("gateway", resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
