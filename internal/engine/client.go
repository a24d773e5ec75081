// Package engine talks to the out-of-process conversion engine: JSON
// commands are posted to /invoke/<command> and pushed task events are read
// from a websocket at /events.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"svs-converter/internal/domain"
	"svs-converter/internal/logging"
)

// Command names understood by the engine.
const (
	CommandAppVersion      = "app_version"
	CommandOptionSchema    = "option_schema"
	CommandStartConversion = "start_conversion"
	CommandMoveFile        = "move_file"
)

const maxErrorBody = 64 << 10

// HTTPDoer describes the HTTP client used to invoke engine commands.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RemoteError is returned when the engine answers a command with a non-2xx
// status.
type RemoteError struct {
	Command string
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("engine %s returned %d", e.Command, e.Status)
	}
	return fmt.Sprintf("engine %s returned %d: %s", e.Command, e.Status, e.Message)
}

// Client invokes engine commands.
type Client struct {
	baseURL string
	timeout time.Duration
	http    HTTPDoer
	logger  *slog.Logger
}

// NewClient returns a client for the engine listening at baseURL. A nil doer
// uses http.DefaultClient; a non-positive timeout disables the per-call limit.
func NewClient(baseURL string, timeout time.Duration, doer HTTPDoer, logger *slog.Logger) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		timeout: timeout,
		http:    doer,
		logger:  logging.NewComponentLogger(logger, "engine"),
	}
}

// BaseURL returns the engine address the client was built for.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Version asks the engine for its application version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp struct {
		Version string `json:"version"`
	}
	if err := c.invoke(ctx, CommandAppVersion, struct{}{}, &resp); err != nil {
		return "", err
	}
	if resp.Version == "" {
		return "", errors.New("engine returned an empty version")
	}
	return resp.Version, nil
}

// OptionSchema fetches the option schema of one plugin entry point.
func (c *Client) OptionSchema(ctx context.Context, option domain.PluginOption) (domain.SchemaConfig, error) {
	var schema domain.SchemaConfig
	if err := c.invoke(ctx, CommandOptionSchema, option, &schema); err != nil {
		return domain.SchemaConfig{}, err
	}
	return schema, nil
}

// StartConversion submits a batch. Results arrive as pushed events.
func (c *Client) StartConversion(ctx context.Context, req domain.BatchRequest) error {
	return c.invoke(ctx, CommandStartConversion, req, nil)
}

// MoveFile asks the engine to move a finished temp output into place.
func (c *Client) MoveFile(ctx context.Context, params domain.MoveFileParams) error {
	return c.invoke(ctx, CommandMoveFile, params, nil)
}

func (c *Client) invoke(ctx context.Context, command string, params, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode %s params: %w", command, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoke/"+command, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", command, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("invoke %s: %w", command, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("engine command",
		logging.String("command", command),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RemoteError{Command: command, Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", command, err)
	}
	return nil
}

// readErrorMessage extracts {"error": "..."} or falls back to the raw body.
func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
