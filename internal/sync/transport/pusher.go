package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/backline-app/backline/internal/errors"
	"github.com/backline-app/backline/internal/models"
)

// Pusher confirms one local mutation with the cloud. Implementations return
// SYNC_REJECTED for payloads the cloud refuses (never retried) and
// SYNC_TRANSIENT for network-class failures (retried by the queue).
type Pusher interface {
	Push(ctx context.Context, change *models.PendingChange) error
}

// HTTPPusher pushes mutations to the cloud REST API.
type HTTPPusher struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPPusher creates a pusher for the given API base URL.
func NewHTTPPusher(baseURL, token string, httpClient *http.Client) *HTTPPusher {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPPusher{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
}

// Push sends one change. Method and path depend on the operation:
// create POSTs the collection, update PATCHes the record, delete DELETEs it.
func (p *HTTPPusher) Push(ctx context.Context, change *models.PendingChange) error {
	id, _ := change.Payload["id"].(string)

	var method, path string
	switch change.Operation {
	case models.OperationCreate:
		method = http.MethodPost
		path = fmt.Sprintf("/v1/%s", url.PathEscape(string(change.RecordType)))
	case models.OperationUpdate:
		method = http.MethodPatch
		path = fmt.Sprintf("/v1/%s/%s", url.PathEscape(string(change.RecordType)), url.PathEscape(id))
	case models.OperationDelete:
		method = http.MethodDelete
		path = fmt.Sprintf("/v1/%s/%s", url.PathEscape(string(change.RecordType)), url.PathEscape(id))
	default:
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown operation %q", change.Operation))
	}

	var body io.Reader
	if change.Operation != models.OperationDelete {
		data, err := json.Marshal(change.Payload)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrSyncRejected, "payload not serializable", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncTransient, "push request failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound && change.Operation == models.OperationDelete:
		// Already gone remotely; the delete is confirmed.
		return nil
	case resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return apperrors.New(apperrors.ErrSyncTransient,
			fmt.Sprintf("push returned HTTP %d", resp.StatusCode))
	default:
		// Remaining 4xx: the cloud rejected the payload; retrying cannot
		// change the outcome.
		return apperrors.New(apperrors.ErrSyncRejected,
			fmt.Sprintf("push rejected with HTTP %d", resp.StatusCode))
	}
}
