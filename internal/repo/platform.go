package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

const platformAccept = "application/vnd.heroku+json; version=3"

// PlatformClient talks to a Heroku-style platform API for fleet inventory,
// worker control and live log sessions.
type PlatformClient struct {
	baseURL      string
	app          string
	apiKey       string
	httpClient   *http.Client
	streamClient *http.Client
	now          func() time.Time
}

// NewPlatformClient constructs a client for one app. timeout bounds API calls;
// log streams are bounded only by their context.
func NewPlatformClient(baseURL, app, apiKey string, timeout time.Duration) *PlatformClient {
	return &PlatformClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		app:          app,
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
		now:          time.Now,
	}
}

type dynoResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListWorkers returns one snapshot per dyno of the given role. Uptime is
// measured from the dyno's last state change.
func (c *PlatformClient) ListWorkers(ctx context.Context, role string) ([]models.WorkerSnapshot, error) {
	const op = "platform.ListWorkers"
	if err := c.ready(); err != nil {
		return nil, utils.NewAppError(op, "client not configured", err)
	}

	var dynos []dynoResponse
	if err := c.doJSON(ctx, http.MethodGet, c.appURL("dynos"), nil, &dynos); err != nil {
		return nil, utils.NewAppError(op, "list dynos", err)
	}

	now := c.now()
	snapshots := make([]models.WorkerSnapshot, 0, len(dynos))
	for _, d := range dynos {
		id := models.WorkerID(d.Name)
		if role != "" && d.Type != role && id.Role() != role {
			continue
		}
		uptime := time.Duration(0)
		if !d.UpdatedAt.IsZero() && now.After(d.UpdatedAt) {
			uptime = now.Sub(d.UpdatedAt)
		}
		snapshots = append(snapshots, models.WorkerSnapshot{
			ID:     id,
			State:  models.WorkerState(d.State),
			Uptime: uptime,
		})
	}
	return snapshots, nil
}

// StopWorker asks the platform to stop one dyno.
func (c *PlatformClient) StopWorker(ctx context.Context, id models.WorkerID) error {
	const op = "platform.StopWorker"
	if err := c.ready(); err != nil {
		return utils.NewAppError(op, "client not configured", err)
	}
	endpoint := c.appURL("dynos", url.PathEscape(string(id)), "actions", "stop")
	if err := c.doJSON(ctx, http.MethodPost, endpoint, map[string]any{}, nil); err != nil {
		return utils.NewAppError(op, fmt.Sprintf("stop %s", id), err)
	}
	return nil
}

// TailLogs opens a tailing log session for the role and returns its body.
func (c *PlatformClient) TailLogs(ctx context.Context, role string) (io.ReadCloser, error) {
	const op = "platform.TailLogs"
	if err := c.ready(); err != nil {
		return nil, utils.NewAppError(op, "client not configured", err)
	}

	payload := map[string]any{
		"source": "app",
		"dyno":   role,
		"tail":   true,
	}
	var session struct {
		LogplexURL string `json:"logplex_url"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.appURL("log-sessions"), payload, &session); err != nil {
		return nil, utils.NewAppError(op, "create log session", err)
	}
	if session.LogplexURL == "" {
		return nil, utils.NewAppError(op, "log session has no stream url", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, session.LogplexURL, nil)
	if err != nil {
		return nil, utils.NewAppError(op, "build stream request", err)
	}
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, utils.NewAppError(op, "open stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := statusError(resp)
		resp.Body.Close()
		return nil, utils.NewAppError(op, "open stream", err)
	}
	return resp.Body, nil
}

func (c *PlatformClient) ready() error {
	if c == nil {
		return fmt.Errorf("platform client not initialised")
	}
	if c.baseURL == "" {
		return fmt.Errorf("platform base URL not configured")
	}
	if c.app == "" {
		return fmt.Errorf("platform app name not configured")
	}
	return nil
}

func (c *PlatformClient) appURL(parts ...string) string {
	elems := append([]string{"apps", url.PathEscape(c.app)}, parts...)
	return c.resolvePath(strings.Join(elems, "/"))
}

func (c *PlatformClient) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *PlatformClient) doJSON(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", platformAccept)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError reads the platform's error body, which carries a "message"
// field on API errors.
func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		msg = body.Message
	}
	return &utils.StatusError{Code: resp.StatusCode, Message: msg}
}
