// Package remote talks to an objectstore HTTP server and exposes it as an
// objectstore.Backend.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/jwtauth"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
	"github.com/tendant/simple-objectstore/pkg/objectstore/api"
)

// Backend is an HTTP implementation of the objectstore.Backend interface
type Backend struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// Config holds the remote endpoint settings
type Config struct {
	BaseURL string // e.g. http://localhost:8080
	Token   string // static bearer token, optional

	// SigningSecret issues an HS256 token for Subject when Token is empty
	SigningSecret string
	Subject       string

	Timeout time.Duration
}

// Option configures the backend
type Option func(*Backend)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(b *Backend) {
		if client != nil {
			b.httpClient = client
		}
	}
}

// New creates a remote backend
func New(config Config, options ...Option) (*Backend, error) {
	if config.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	b := &Backend{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		token:      config.Token,
	}

	if b.token == "" && config.SigningSecret != "" {
		subject := config.Subject
		if subject == "" {
			subject = "objectstore"
		}
		token, err := IssueToken(config.SigningSecret, subject, 24*time.Hour)
		if err != nil {
			return nil, err
		}
		b.token = token
	}

	for _, option := range options {
		option(b)
	}
	return b, nil
}

// IssueToken signs an HS256 token accepted by a server configured with secret
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	auth := jwtauth.New("HS256", []byte(secret), nil)
	claims := map[string]interface{}{"sub": subject}
	jwtauth.SetIssuedNow(claims)
	jwtauth.SetExpiryIn(claims, ttl)

	_, token, err := auth.Encode(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

func containerPath(container string) string {
	return "/containers/" + url.PathEscape(container)
}

func objectPath(container, name string) string {
	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return containerPath(container) + "/objects/" + strings.Join(segments, "/")
}

func (b *Backend) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return nil, objectstore.WrapError(objectstore.KindValidation, fmt.Errorf("failed to create request: %w", err))
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	return req, nil
}

// do sends req and turns non-2xx responses into classified errors. The caller
// owns the body of a successful response.
func (b *Backend) do(req *http.Request) (*http.Response, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, objectstore.WrapError(objectstore.KindTransient, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err))
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp)
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body api.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Kind != "" {
		return objectstore.NewError(objectstore.ParseKind(string(body.Kind)), "remote: %s", body.Message)
	}

	kind := api.KindForStatus(resp.StatusCode)
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return objectstore.NewError(kind, "remote returned status %d: %s", resp.StatusCode, msg)
}

func (b *Backend) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return objectstore.WrapError(objectstore.KindValidation, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := b.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return objectstore.WrapError(objectstore.KindTransient, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// CreateContainer creates a container on the server
func (b *Backend) CreateContainer(ctx context.Context, name string) (*objectstore.Container, error) {
	var container objectstore.Container
	if err := b.doJSON(ctx, http.MethodPut, containerPath(name), nil, &container); err != nil {
		return nil, err
	}
	return &container, nil
}

// GetContainerProperties fetches the container properties
func (b *Backend) GetContainerProperties(ctx context.Context, name string) (*objectstore.ContainerProperties, error) {
	var props objectstore.ContainerProperties
	if err := b.doJSON(ctx, http.MethodGet, containerPath(name), nil, &props); err != nil {
		return nil, err
	}
	return &props, nil
}

// SetContainerMetadata replaces the container metadata
func (b *Backend) SetContainerMetadata(ctx context.Context, name string, metadata map[string]string) error {
	return b.doJSON(ctx, http.MethodPut, containerPath(name)+"/metadata", objectstore.CloneMetadata(metadata), nil)
}

// GetContainerMetadata fetches the container metadata
func (b *Backend) GetContainerMetadata(ctx context.Context, name string) (map[string]string, error) {
	md := map[string]string{}
	if err := b.doJSON(ctx, http.MethodGet, containerPath(name)+"/metadata", nil, &md); err != nil {
		return nil, err
	}
	return md, nil
}

// SetPublicAccess changes the container's anonymous access level
func (b *Backend) SetPublicAccess(ctx context.Context, name string, access objectstore.PublicAccess) error {
	return b.doJSON(ctx, http.MethodPut, containerPath(name)+"/access", api.AccessRequest{PublicAccess: access}, nil)
}

// PutObject streams reader as the request body
func (b *Backend) PutObject(ctx context.Context, container, name string, reader io.Reader) (*objectstore.ObjectEntry, error) {
	req, err := b.newRequest(ctx, http.MethodPut, objectPath(container, name), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := b.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var entry objectstore.ObjectEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, objectstore.WrapError(objectstore.KindTransient, fmt.Errorf("failed to decode response: %w", err))
	}
	return &entry, nil
}

// ListObjects fetches one page of objects
func (b *Backend) ListObjects(ctx context.Context, container string, opts objectstore.ListOptions) (*objectstore.ObjectPage, error) {
	query := url.Values{}
	if opts.Marker != "" {
		query.Set("marker", opts.Marker)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := containerPath(container) + "/objects"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var page objectstore.ObjectPage
	if err := b.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetObject opens the object as a streamed response body
func (b *Backend) GetObject(ctx context.Context, container, name string) (io.ReadCloser, *objectstore.ObjectEntry, error) {
	req, err := b.newRequest(ctx, http.MethodGet, objectPath(container, name), nil)
	if err != nil {
		return nil, nil, err
	}

	resp, err := b.do(req)
	if err != nil {
		return nil, nil, err
	}

	entry := &objectstore.ObjectEntry{Container: container, Name: name}
	if resp.ContentLength > 0 {
		entry.Size = resp.ContentLength
	}
	if lm, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		entry.LastModified = lm
	}
	return resp.Body, entry, nil
}

// DeleteObject removes one object
func (b *Backend) DeleteObject(ctx context.Context, container, name string) error {
	req, err := b.newRequest(ctx, http.MethodDelete, objectPath(container, name), nil)
	if err != nil {
		return err
	}
	resp, err := b.do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// DeleteContainer removes a container with its objects
func (b *Backend) DeleteContainer(ctx context.Context, name string) error {
	return b.doJSON(ctx, http.MethodDelete, containerPath(name), nil, nil)
}
