package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectAndConfirmAgainstDevelopmentServer(t *testing.T) {
	// given
	backend := httptest.NewServer(NewServer(
		WithTokens(),
		WithPINs(func() uint32 { return 424242 }),
		WithTokenIDs(func() uint32 { return 77 }),
	).Handler())
	defer backend.Close()
	client := NewHTTPClient(backend.URL, time.Second)

	// when
	payload, connectErr := client.Connect(context.Background(), "-----BEGIN CERTIFICATE-----")
	confirmation, confirmErr := client.Confirm(context.Background(), payload, "-----BEGIN CERTIFICATE-----")

	// then
	require.NoError(t, connectErr)
	require.NoError(t, confirmErr)
	var relayPayload map[string]string
	assert.NoError(t, json.Unmarshal(payload, &relayPayload))
	assert.Len(t, relayPayload["relay"], 32)
	assert.Equal(t, uint32(424242), confirmation.PIN)
	require.NotNil(t, confirmation.TokenID)
	assert.Equal(t, uint32(77), *confirmation.TokenID)
}

func TestConfirmWithoutConnectIsRejected(t *testing.T) {
	// given
	backend := httptest.NewServer(NewServer().Handler())
	defer backend.Close()
	client := NewHTTPClient(backend.URL, time.Second)

	// when
	_, err := client.Confirm(context.Background(), json.RawMessage(`{"relay":"x"}`), "unknown")

	// then
	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, http.StatusConflict, backendErr.StatusCode)
	assert.Contains(t, backendErr.Error(), "no pending connect")
}

func TestConfirmSendsDeviceResponseWithCert(t *testing.T) {
	// given
	var received map[string]any
	var authorization string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		_, _ = w.Write([]byte(`{"pin": 4242}`))
	}))
	defer backend.Close()
	client := NewHTTPClient(backend.URL+"/", time.Second, WithToken("s3cr3t"))

	// when
	confirmation, err := client.Confirm(
		context.Background(), json.RawMessage(`{"signature":"abc","nested":{"a":1}}`), "CERT",
	)

	// then
	assert.NoError(t, err)
	assert.Equal(t, uint32(4242), confirmation.PIN)
	assert.Nil(t, confirmation.TokenID)
	assert.Equal(t, "Bearer s3cr3t", authorization)
	assert.Equal(t, map[string]any{
		"signature": "abc",
		"nested":    map[string]any{"a": float64(1)},
		"cert":      "CERT",
	}, received)
}

func TestConfirmRejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name           string
		deviceResponse string
		backendBody    string
	}{
		{name: "device response is an array", deviceResponse: `[1,2]`, backendBody: `{"pin":1}`},
		{name: "device response is null", deviceResponse: `null`, backendBody: `{"pin":1}`},
		{name: "device response is not JSON", deviceResponse: `{"a":`, backendBody: `{"pin":1}`},
		{name: "backend omits pin", deviceResponse: `{}`, backendBody: `{"tokenId":1}`},
		{name: "backend returns garbage", deviceResponse: `{}`, backendBody: `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.backendBody))
			}))
			defer backend.Close()
			client := NewHTTPClient(backend.URL, time.Second)

			_, err := client.Confirm(context.Background(), json.RawMessage(tt.deviceResponse), "CERT")

			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestConnectReportsNon2xxAsBackendError(t *testing.T) {
	// given
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "certificate revoked", http.StatusForbidden)
	}))
	defer backend.Close()
	client := NewHTTPClient(backend.URL, time.Second)

	// when
	_, err := client.Connect(context.Background(), "CERT")

	// then
	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, http.StatusForbidden, backendErr.StatusCode)
	assert.Equal(t, "certificate revoked", backendErr.Body)
}

func TestConnectReportsUnreachableBackend(t *testing.T) {
	// given
	backend := httptest.NewServer(http.NotFoundHandler())
	url := backend.URL
	backend.Close()
	client := NewHTTPClient(url, time.Second)

	// when
	_, err := client.Connect(context.Background(), "CERT")

	// then
	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, 0, backendErr.StatusCode)
}
