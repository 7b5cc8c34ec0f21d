// Package relay talks to the backend that acts as the trust anchor of the pairing handshake. The
// payloads it ferries between the backend and the device are opaque JSON.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	connectPath = "/devices/connect"
	confirmPath = "/devices/confirm"
)

// ErrMalformedPayload is returned when a payload that must be a JSON object is not one
var ErrMalformedPayload = errors.New("malformed relay payload")

// BackendError is returned when the backend could not be reached or rejected the request
type BackendError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Body       string
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("backend call to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("backend returned status code %d when called %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Confirmation is the backend's answer to a confirmed relay exchange
type Confirmation struct {
	PIN uint32 `json:"pin"`
	// TokenID is set when the backend provisioned a fast-connect token for the device
	TokenID *uint32 `json:"tokenId,omitempty"`
}

type connectRequest struct {
	Cert string `json:"cert"`
}

// Client performs the two backend calls of the handshake
type Client interface {
	Connect(ctx context.Context, cert string) (json.RawMessage, error)
	Confirm(ctx context.Context, deviceResponse json.RawMessage, cert string) (Confirmation, error)
}

type httpClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func (c *httpClient) Connect(ctx context.Context, cert string) (json.RawMessage, error) {
	body, encodeErr := json.Marshal(connectRequest{Cert: cert})
	if encodeErr != nil {
		return nil, encodeErr
	}
	response, postErr := c.post(ctx, connectPath, body)
	if postErr != nil {
		return nil, postErr
	}
	if !json.Valid(response) {
		return nil, fmt.Errorf("%w: connect response is not valid JSON", ErrMalformedPayload)
	}
	return json.RawMessage(response), nil
}

func (c *httpClient) Confirm(ctx context.Context, deviceResponse json.RawMessage, cert string) (Confirmation, error) {
	body, attachErr := AttachCert(deviceResponse, cert)
	if attachErr != nil {
		return Confirmation{}, attachErr
	}
	response, postErr := c.post(ctx, confirmPath, body)
	if postErr != nil {
		return Confirmation{}, postErr
	}
	var confirmation struct {
		PIN     *uint32 `json:"pin"`
		TokenID *uint32 `json:"tokenId"`
	}
	if decodeErr := json.Unmarshal(response, &confirmation); decodeErr != nil {
		return Confirmation{}, fmt.Errorf("%w: %v", ErrMalformedPayload, decodeErr)
	}
	if confirmation.PIN == nil {
		return Confirmation{}, fmt.Errorf("%w: confirm response carries no pin", ErrMalformedPayload)
	}
	return Confirmation{PIN: *confirmation.PIN, TokenID: confirmation.TokenID}, nil
}

func (c *httpClient) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	postURL := c.baseURL + path
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(body))
	if requestErr != nil {
		return nil, &BackendError{URL: postURL, Err: requestErr}
	}
	request.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}
	logrus.Debugf("POST %s (%d bytes)", postURL, len(body))
	resp, postErr := c.client.Do(request)
	if postErr != nil {
		return nil, &BackendError{URL: postURL, Err: postErr}
	}
	defer resp.Body.Close()
	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, &BackendError{URL: postURL, StatusCode: resp.StatusCode, Err: readErr}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &BackendError{
			URL:        postURL,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
	return respBody, nil
}

// ClientOption configures the HTTP client
type ClientOption func(*httpClient)

// WithToken authenticates backend calls with a bearer token
func WithToken(token string) ClientOption {
	return func(c *httpClient) {
		c.token = token
	}
}

// WithHTTPClient replaces the underlying *http.Client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *httpClient) {
		c.client = client
	}
}

// NewHTTPClient creates a Client calling the backend at baseURL
func NewHTTPClient(baseURL string, timeout time.Duration, opts ...ClientOption) Client {
	c := &httpClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AttachCert adds the certificate to an opaque JSON object under the "cert" key
func AttachCert(payload json.RawMessage, cert string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if decodeErr := json.Unmarshal(payload, &fields); decodeErr != nil || fields == nil {
		return nil, fmt.Errorf("%w: device response is not a JSON object", ErrMalformedPayload)
	}
	encodedCert, encodeErr := json.Marshal(cert)
	if encodeErr != nil {
		return nil, encodeErr
	}
	fields["cert"] = encodedCert
	return json.Marshal(fields)
}
