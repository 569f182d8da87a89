package backendclient

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

	"github.com/oklog/ulid/v2"

	"github.com/bodiless/contentsync/internal/content"
)

const (
	contentPrefix = "/___backend/content/"
	pagesPath     = "/___backend/pages"
	snapshotPath  = "/___backend/snapshot"
	eventsPath    = "/___backend/events"
)

var ErrConflict = errors.New("resource already exists")

type ConflictError struct {
	Path string
}

func (e *ConflictError) Error() string {
	if e.Path == "" {
		return "resource already exists"
	}
	return fmt.Sprintf("resource already exists: %s", e.Path)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// PageResult is returned by the backend after creating a page.
type PageResult struct {
	Path     string `json:"path"`
	Template string `json:"template"`
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      backoff
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8001"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		retry:      defaultBackoff,
	}
}

// SavePath stores data under resourcePath.
func (c *HTTPClient) SavePath(ctx context.Context, resourcePath string, data content.Data) error {
	if data == nil {
		data = content.Data{}
	}
	return c.doJSON(ctx, http.MethodPost, contentURLPath(resourcePath), data, nil)
}

func (c *HTTPClient) DeletePath(ctx context.Context, resourcePath string) error {
	return c.doJSON(ctx, http.MethodDelete, contentURLPath(resourcePath), nil, nil)
}

// LoadPath reads one stored resource.
func (c *HTTPClient) LoadPath(ctx context.Context, resourcePath string) (content.Data, error) {
	var out content.Data
	if err := c.doJSON(ctx, http.MethodGet, contentURLPath(resourcePath), nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = content.Data{}
	}
	return out, nil
}

// SavePage creates a new page at pagePath from template. An existing page is
// reported as a ConflictError.
func (c *HTTPClient) SavePage(ctx context.Context, pagePath, template string) (PageResult, error) {
	body := map[string]string{
		"path":     pagePath,
		"template": template,
	}
	var out PageResult
	err := c.doJSON(ctx, http.MethodPost, pagesPath, body, &out)
	return out, err
}

func (c *HTTPClient) FetchSnapshot(ctx context.Context, slug string) (content.Snapshot, error) {
	q := url.Values{}
	q.Set("page", slug)
	var out content.Snapshot
	if err := c.doJSON(ctx, http.MethodGet, snapshotPath+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func contentURLPath(resourcePath string) string {
	segments := strings.Split(strings.Trim(resourcePath, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return contentPrefix + strings.Join(segments, "/")
}

// reply is one backend response, read in full.
type reply struct {
	status int
	header http.Header
	body   []byte
}

// doJSON sends body as JSON and decodes a 2xx answer into out. Content
// writes replace the whole resource, so they are retried on transient
// failures like reads are. Page creation is attempted once.
func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, requestPath, err)
		}
		payload = encoded
	}
	retries := c.retry.retries
	if method == http.MethodPost && requestPath == pagesPath {
		retries = 0
	}

	for n := 1; ; n++ {
		res, err := c.roundTrip(ctx, method, requestPath, payload)
		hint := ""
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return err
			}
		case res.status >= 200 && res.status <= 299:
			if out == nil || len(res.body) == 0 {
				return nil
			}
			return json.Unmarshal(res.body, out)
		default:
			err = responseError(requestPath, res)
			if !retryableStatus(res.status) {
				return err
			}
			hint = res.header.Get("Retry-After")
		}
		if n > retries {
			return err
		}
		if waitErr := pause(ctx, c.retry.wait(n, hint, time.Now())); waitErr != nil {
			if errors.Is(waitErr, errNoTimeLeft) {
				return err
			}
			return waitErr
		}
	}
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, requestPath string, payload []byte) (reply, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return reply{}, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Correlation-Id", correlationID())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return reply{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return reply{}, err
	}
	return reply{status: resp.StatusCode, header: resp.Header, body: raw}, nil
}

func responseError(requestPath string, res reply) error {
	if res.status == http.StatusConflict {
		return &ConflictError{Path: requestPath}
	}
	var detail struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(res.body, &detail)
	return &HTTPError{StatusCode: res.status, Code: detail.Code, Message: detail.Message}
}

func correlationID() string {
	return "client_" + strings.ToLower(ulid.Make().String())
}
