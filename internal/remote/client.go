// Package remote talks to the hosted chat history service, the events feed
// and the guide's workflow webhook.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tripmate/tripmate-sync/internal/events"
	"github.com/tripmate/tripmate-sync/internal/model"
	"github.com/tripmate/tripmate-sync/pkg/logger"
	"github.com/tripmate/tripmate-sync/pkg/metrics"
)

// ErrNotFound is matched by errors for 404 responses.
var ErrNotFound = errors.New("remote: not found")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Config holds remote endpoints.
type Config struct {
	BaseURL    string
	WebhookURL string
	UserID     string
	Location   model.Coords
	Timeout    time.Duration
}

// Client is the HTTP client for all remote collaborators.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *logger.Logger
}

// New creates a remote client.
func New(cfg Config, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		tracer:     otel.Tracer("tripmate-sync/remote"),
		logger:     log,
	}
}

// CreateSession registers a new session with the chat history service.
func (c *Client) CreateSession(ctx context.Context, payload model.SessionPayload) (*model.SessionPayload, error) {
	var out model.SessionPayload
	found, err := c.do(ctx, "create_session", http.MethodPost, c.cfg.BaseURL+"/chat/sessions", payload, &out)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &out, nil
}

// SyncSession replaces the remote copy of a session.
func (c *Client) SyncSession(ctx context.Context, payload model.SessionPayload) (*model.SessionPayload, error) {
	var out model.SessionPayload
	found, err := c.do(ctx, "sync_session", http.MethodPut, c.sessionURL(payload.ID), payload, &out)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &out, nil
}

// FetchSession loads a session by id. A 404 yields an error matching ErrNotFound.
func (c *Client) FetchSession(ctx context.Context, id string) (*model.SessionPayload, error) {
	var out model.SessionPayload
	found, err := c.do(ctx, "fetch_session", http.MethodGet, c.sessionURL(id), nil, &out)
	if err != nil {
		return nil, err
	}
	if !found || out.ID == "" {
		return nil, ErrNotFound
	}
	return &out, nil
}

// ListSessions enumerates remote sessions. Accepts a bare array or {"sessions": [...]}.
func (c *Client) ListSessions(ctx context.Context) ([]model.SessionPayload, error) {
	var raw json.RawMessage
	found, err := c.do(ctx, "list_sessions", http.MethodGet, c.cfg.BaseURL+"/chat/sessions", nil, &raw)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var sessions []model.SessionPayload
	if err := json.Unmarshal(raw, &sessions); err == nil {
		return sessions, nil
	}
	var wrapped struct {
		Sessions []model.SessionPayload `json:"sessions"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode session list: %w", err)
	}
	return wrapped.Sessions, nil
}

// ListEvents fetches the events feed and converts it to event pins.
func (c *Client) ListEvents(ctx context.Context) ([]model.Pin, error) {
	var records []events.Record
	if _, err := c.do(ctx, "list_events", http.MethodGet, c.cfg.BaseURL+"/events", nil, &records); err != nil {
		return nil, err
	}
	return events.Pins(records, time.Now().UnixMilli()), nil
}

// Name identifies the webhook responder in metrics.
func (c *Client) Name() string {
	return "webhook"
}

// Reply forwards a user turn to the workflow webhook.
func (c *Client) Reply(ctx context.Context, req *model.GuideRequest) (*model.GuideReply, error) {
	if c.cfg.WebhookURL == "" {
		return nil, errors.New("chat webhook is not configured")
	}
	body := *req
	if body.UserID == "" {
		body.UserID = c.cfg.UserID
	}
	if body.Location == (model.Coords{}) {
		body.Location = c.cfg.Location
	}

	var raw json.RawMessage
	if img, ok, err := parseDataURI(body.ImageURI); err != nil {
		return nil, err
	} else if ok {
		form, contentType, err := attachmentForm(&body, img)
		if err != nil {
			return nil, err
		}
		if _, err := c.send(ctx, "send_chat", http.MethodPost, c.cfg.WebhookURL, form, contentType, &raw); err != nil {
			return nil, err
		}
		return decodeReply(raw)
	}
	if _, err := c.do(ctx, "send_chat", http.MethodPost, c.cfg.WebhookURL, body, &raw); err != nil {
		return nil, err
	}
	return decodeReply(raw)
}

type inlineImage struct {
	mimeType string
	data     []byte
}

// parseDataURI decodes a base64 data: URI. Other URIs are not inline images
// and are forwarded to the webhook as a plain imageUri field.
func parseDataURI(uri string) (inlineImage, bool, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return inlineImage{}, false, nil
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return inlineImage{}, false, errors.New("image data URI must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return inlineImage{}, false, fmt.Errorf("failed to decode image data URI: %w", err)
	}
	mimeType := strings.TrimSuffix(meta, ";base64")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return inlineImage{mimeType: mimeType, data: data}, true, nil
}

// attachmentForm builds the multipart body the webhook expects for a turn
// with a photo: the image file plus coords as "lat lon".
func attachmentForm(req *model.GuideRequest, img inlineImage) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"userId", req.UserID},
		{"coords", fmt.Sprintf("%v %v", req.Location.Latitude, req.Location.Longitude)},
	}
	if req.SessionID != nil {
		fields = append(fields, [2]string{"sessionId", *req.SessionID})
	}
	if req.Message != "" {
		fields = append(fields, [2]string{"message", req.Message})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write %s field: %w", f[0], err)
		}
	}

	ext, mimeType := "jpg", "image/jpeg"
	if img.mimeType == "image/png" {
		ext, mimeType = "png", "image/png"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="image.%s"`, ext))
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create image part: %w", err)
	}
	if _, err := part.Write(img.data); err != nil {
		return nil, "", fmt.Errorf("failed to write image part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// decodeReply accepts a reply object or a workflow output array of them.
func decodeReply(raw json.RawMessage) (*model.GuideReply, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("empty guide reply")
	}
	if raw[0] == '[' {
		var items []model.GuideReply
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to decode guide reply: %w", err)
		}
		if len(items) == 0 {
			return nil, errors.New("empty guide reply")
		}
		return &items[0], nil
	}
	var reply model.GuideReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("failed to decode guide reply: %w", err)
	}
	return &reply, nil
}

func (c *Client) sessionURL(id string) string {
	return c.cfg.BaseURL + "/chat/sessions/" + url.PathEscape(id)
}

// do performs a JSON request. It reports false when the response had no body.
func (c *Client) do(ctx context.Context, op, method, endpoint string, in, out any) (bool, error) {
	var (
		body        io.Reader
		contentType string
	)
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return false, fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body, contentType = bytes.NewReader(data), "application/json"
	}
	return c.send(ctx, op, method, endpoint, body, contentType, out)
}

// send performs a request with an encoded body and decodes a JSON response.
func (c *Client) send(ctx context.Context, op, method, endpoint string, body io.Reader, contentType string, out any) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "remote."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("http.url", endpoint))

	start := time.Now()
	status := "error"
	defer func() {
		metrics.RecordRemote(op, status, time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return false, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	status = strconv.Itoa(resp.StatusCode)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return false, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Operation: op, StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
		span.SetStatus(codes.Error, statusErr.Error())
		c.logger.Debug("remote call rejected",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
		)
		return false, statusErr
	}

	if len(bytes.TrimSpace(data)) == 0 || out == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return true, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
