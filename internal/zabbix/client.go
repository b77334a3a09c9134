// Package zabbix implements the JSON-RPC client for the monitoring server's
// API. The client is stateless apart from the session token; classification of
// API failures into the agent's error taxonomy happens here so the sync loop
// only ever reasons about error categories.
package zabbix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	agenterrors "github.com/zabbar/zabbar/internal/errors"
	"github.com/zabbar/zabbar/internal/models"
	"github.com/zabbar/zabbar/pkg/tlsutil"
)

const (
	apiPath = "/api_jsonrpc.php"

	// Server-side cap on fetched problems; the agent caps again after
	// filtering.
	problemFetchLimit = 200
)

// sessionErrorPatterns identify an expired or invalidated session in API
// error payloads. The server reports these as generic -32602/-32500 errors,
// so matching the message text is the only classification available.
var sessionErrorPatterns = []string{
	"re-login",
	"not authorised",
	"not authorized",
	"session terminated",
}

// Client talks to one monitoring server.
type Client struct {
	baseURL    string
	serverID   string
	httpClient *http.Client

	authTimeout  time.Duration
	fetchTimeout time.Duration

	mu    sync.RWMutex
	token string

	reqID atomic.Uint64
}

// ClientConfig holds construction parameters for the API client.
type ClientConfig struct {
	ServerURL      string
	ServerIdentity string
	VerifyTLS      bool
	TLSFingerprint string
	AuthTimeout    time.Duration
	FetchTimeout   time.Duration
}

// NewClient creates an API client. The returned client carries no session;
// call SetToken with a stored token or Login to establish one.
func NewClient(cfg ClientConfig) *Client {
	host := cfg.ServerURL
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
		log.Debug().Str("host", host).Msg("No protocol specified in server URL, defaulting to HTTPS")
	}

	authTimeout := cfg.AuthTimeout
	if authTimeout <= 0 {
		authTimeout = 15 * time.Second
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}

	// The transport timeout is a backstop; per-call context deadlines below
	// are the operative bounds.
	httpClient := tlsutil.CreateHTTPClientWithTimeout(cfg.VerifyTLS, cfg.TLSFingerprint, fetchTimeout+10*time.Second)

	return &Client{
		baseURL:      strings.TrimSuffix(host, "/") + apiPath,
		serverID:     cfg.ServerIdentity,
		httpClient:   httpClient,
		authTimeout:  authTimeout,
		fetchTimeout: fetchTimeout,
	}
}

// SetToken installs a previously stored session token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current session token, empty when logged out.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login exchanges credentials for a session token. The token is retained on
// the client and returned for external storage.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.authTimeout)
	defer cancel()

	var token string
	err := c.call(ctx, "user.login", loginParams{Username: username, Password: password}, &token, false)
	if err != nil {
		// A rejected login is an auth error, not a session problem.
		var ae *agenterrors.AgentError
		if errors.As(err, &ae) {
			switch ae.Type {
			case agenterrors.ErrorTypeSessionExpired:
				return "", agenterrors.NewAuthError("login", c.serverID, fmt.Errorf("invalid credentials"))
			case agenterrors.ErrorTypeAPI:
				return "", agenterrors.NewAuthError("login", c.serverID, ae.Err)
			}
		}
		return "", err
	}
	if token == "" {
		return "", agenterrors.NewMalformedResponseError("login", c.serverID, fmt.Errorf("empty session token"))
	}

	c.SetToken(token)
	return token, nil
}

// Logout invalidates the session server-side and clears the local token.
// Remote failures are reported but callers treat logout as best-effort.
func (c *Client) Logout(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.authTimeout)
	defer cancel()

	var ok bool
	err := c.call(ctx, "user.logout", []string{}, &ok, true)
	c.SetToken("")
	return err
}

// ActiveProblems fetches currently-firing problems, most recent first, capped
// server-side.
func (c *Client) ActiveProblems(ctx context.Context) ([]models.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	params := problemParams{
		Output:     "extend",
		Recent:     false,
		SortField:  []string{"eventid"},
		SortOrder:  []string{"DESC"},
		Limit:      problemFetchLimit,
		Suppressed: false,
	}

	var problems []problem
	if err := c.call(ctx, "problem.get", params, &problems, true); err != nil {
		return nil, err
	}

	alerts := make([]models.Alert, 0, len(problems))
	for _, p := range problems {
		alert, err := p.toAlert()
		if err != nil {
			// One malformed record poisons the fetch; a mixed-quality
			// snapshot is worse than retrying next tick.
			return nil, agenterrors.NewMalformedResponseError("fetch_problems", c.serverID, err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// Hosts fetches the monitored hosts.
func (c *Client) Hosts(ctx context.Context) ([]Host, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	params := hostParams{
		Output:         []string{"hostid", "host", "name"},
		MonitoredHosts: true,
		SortField:      []string{"name"},
	}

	var hosts []Host
	if err := c.call(ctx, "host.get", params, &hosts, true); err != nil {
		return nil, err
	}
	return hosts, nil
}

// Acknowledge acknowledges a problem by its event identity, with an optional
// message. Event identity is required here; trigger identities are rejected
// by the server.
func (c *Client) Acknowledge(ctx context.Context, eventID, message string) error {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	action := actionAcknowledge
	if message != "" {
		action |= actionAddMessage
	}
	params := ackParams{
		EventIDs: []string{eventID},
		Action:   action,
		Message:  message,
	}

	var result json.RawMessage
	return c.call(ctx, "event.acknowledge", params, &result, true)
}

// call performs one JSON-RPC round trip. authed calls carry the session token
// as a bearer header.
func (c *Client) call(ctx context.Context, method string, params, result interface{}, authed bool) error {
	op := strings.ReplaceAll(method, ".", "_")

	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.reqID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json-rpc")
	if authed {
		token := c.Token()
		if token == "" {
			return agenterrors.New(agenterrors.ErrorTypeSessionExpired, op, c.serverID, agenterrors.ErrNotAuthenticated)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return agenterrors.NewTimeoutError(op, c.serverID, err)
		}
		return agenterrors.NewConnectionError(op, c.serverID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return agenterrors.NewConnectionError(op, c.serverID, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode))
	}

	var envelope response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return agenterrors.NewMalformedResponseError(op, c.serverID, err)
	}

	if envelope.Error != nil {
		if isSessionError(envelope.Error) {
			log.Debug().Str("method", method).Str("detail", envelope.Error.Error()).
				Msg("API reported session expiry")
			return agenterrors.NewSessionExpiredError(op, c.serverID)
		}
		e := agenterrors.New(agenterrors.ErrorTypeAPI, op, c.serverID, envelope.Error)
		e.Code = envelope.Error.Code
		return e
	}

	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return agenterrors.NewMalformedResponseError(op, c.serverID, err)
		}
	}
	return nil
}

func isSessionError(e *rpcError) bool {
	detail := strings.ToLower(e.Message + " " + e.Data)
	for _, pattern := range sessionErrorPatterns {
		if strings.Contains(detail, pattern) {
			return true
		}
	}
	return false
}

func (p problem) toAlert() (models.Alert, error) {
	if p.EventID == "" {
		return models.Alert{}, fmt.Errorf("problem record missing eventid")
	}
	severity, err := strconv.Atoi(p.Severity)
	if err != nil || severity < models.SeverityNotClassified || severity > models.SeverityDisaster {
		return models.Alert{}, fmt.Errorf("problem %s: bad severity %q", p.EventID, p.Severity)
	}
	clock, err := strconv.ParseInt(p.Clock, 10, 64)
	if err != nil {
		return models.Alert{}, fmt.Errorf("problem %s: bad clock %q", p.EventID, p.Clock)
	}
	return models.Alert{
		ID:           p.EventID,
		Title:        p.Name,
		Severity:     severity,
		OccurredAt:   time.Unix(clock, 0).UTC(),
		Acknowledged: p.Acknowledged == "1",
	}, nil
}
