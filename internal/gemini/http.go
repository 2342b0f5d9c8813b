package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/fsmirror/internal/common"
)

// Options configures HTTPClient. Zero values fall back to production
// defaults.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	MaxRetries uint64
	BaseDelay  time.Duration
}

// HTTPClient talks to the Gemini File Search REST API. Every request carries
// the API key in the x-goog-api-key header; 429 and 5xx responses and
// transport faults are retried with fibonacci backoff up to MaxRetries.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries uint64
	baseDelay  time.Duration
}

// NewHTTPClient builds a client from opts, filling in defaults for anything
// unset.
func NewHTTPClient(opts Options) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// do executes one API request with retry, decoding the JSON response into
// out when out is non-nil. A 404 surfaces as common.ErrNotFound; other
// non-2xx statuses surface as common.ErrRemoteFailure with the remote
// message attached.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, contentType string, body []byte, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewFibonacci(c.baseDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return err
		}
		req.Header.Set("x-goog-api-key", c.apiKey)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return retry.RetryableError(apiError(resp.StatusCode, data))
		case resp.StatusCode == http.StatusNotFound:
			return common.ErrNotFound
		default:
			return apiError(resp.StatusCode, data)
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

// apiError extracts the message from a google.rpc error payload, falling
// back to the raw body.
func apiError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}
	return fmt.Errorf("%w: status %d: %s", common.ErrRemoteFailure, status, msg)
}

func (c *HTTPClient) CreateStore(ctx context.Context, displayName string) (*Store, error) {
	body, err := json.Marshal(createStoreRequest{DisplayName: displayName})
	if err != nil {
		return nil, err
	}
	var store Store
	if err := c.do(ctx, http.MethodPost, "/v1beta/fileSearchStores", nil, "application/json", body, &store); err != nil {
		return nil, err
	}
	return &store, nil
}

func (c *HTTPClient) GetStore(ctx context.Context, name string) (*Store, error) {
	var store Store
	if err := c.do(ctx, http.MethodGet, "/v1beta/"+name, nil, "", nil, &store); err != nil {
		return nil, err
	}
	return &store, nil
}

func (c *HTTPClient) DeleteStore(ctx context.Context, name string, force bool) error {
	var query url.Values
	if force {
		query = url.Values{"force": {"true"}}
	}
	err := c.do(ctx, http.MethodDelete, "/v1beta/"+name, query, "", nil, nil)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	return err
}

func (c *HTTPClient) ListDocuments(ctx context.Context, storeName string) ([]Document, error) {
	var docs []Document
	pageToken := ""
	for {
		query := url.Values{"pageSize": {"100"}}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		var page listDocumentsResponse
		if err := c.do(ctx, http.MethodGet, "/v1beta/"+storeName+"/documents", query, "", nil, &page); err != nil {
			return nil, err
		}

		docs = append(docs, page.Documents...)
		if page.NextPageToken == "" {
			return docs, nil
		}
		pageToken = page.NextPageToken
	}
}

// Upload sends the document as a multipart/related request: a JSON metadata
// part followed by the media part. The whole payload is buffered so retries
// can replay it.
func (c *HTTPClient) Upload(ctx context.Context, storeName string, req UploadRequest) (*Operation, error) {
	metaJSON, err := json.Marshal(uploadMetadata{
		DisplayName:    req.DisplayName,
		CustomMetadata: req.CustomMetadata,
		MimeType:       req.MimeType,
	})
	if err != nil {
		return nil, err
	}

	content, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(metaJSON); err != nil {
		return nil, err
	}

	mediaType := req.MimeType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	part, err = mw.CreatePart(textproto.MIMEHeader{"Content-Type": {mediaType}})
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	query := url.Values{"uploadType": {"multipart"}}
	contentType := "multipart/related; boundary=" + mw.Boundary()

	var op Operation
	if err := c.do(ctx, http.MethodPost, "/upload/v1beta/"+storeName+":uploadToFileSearchStore", query, contentType, buf.Bytes(), &op); err != nil {
		return nil, err
	}
	return &op, nil
}

func (c *HTTPClient) GetOperation(ctx context.Context, name string) (*Operation, error) {
	var op Operation
	if err := c.do(ctx, http.MethodGet, "/v1beta/"+name, nil, "", nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

func (c *HTTPClient) GetDocument(ctx context.Context, name string) (*Document, error) {
	var doc Document
	if err := c.do(ctx, http.MethodGet, "/v1beta/"+name, nil, "", nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *HTTPClient) DeleteDocument(ctx context.Context, name string) error {
	err := c.do(ctx, http.MethodDelete, "/v1beta/"+name, nil, "", nil, nil)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	return err
}
