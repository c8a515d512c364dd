package command

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// KlipperPrefix marks commands routed to the Klipper API instead of the
// shell. The payload format is METHOD|<JSON_PARAMS>, e.g.
// klipper:printer.gcode.script|{"script":"G28"}.
const KlipperPrefix = "klipper:"

// IsKlipperCommand reports whether a trigger command targets the Klipper
// API.
func IsKlipperCommand(command string) bool {
	return strings.HasPrefix(command, KlipperPrefix)
}

// EventKind discriminates Klipper client events.
type EventKind int

const (
	// EventIssued is emitted when a request leaves the client, so the
	// consumer can persist metadata for later correlation.
	EventIssued EventKind = iota
	// EventResponse carries the server's reply, or the final failure.
	EventResponse
)

// Event flows over the Klipper client's event channel.
type Event struct {
	Kind        EventKind
	RequestID   string
	TriggerInfo string
	Success     bool
	Status      string
	Body        json.RawMessage
}

// KlipperClient posts JSON-RPC 2.0 requests to a Moonraker/Klipper server,
// retrying transient failures with bounded exponential backoff.
type KlipperClient struct {
	baseURL    string
	apiKey     string
	hc         *http.Client
	logger     *zap.Logger
	events     chan Event
	maxRetries uint64
}

// NewKlipperClient creates a client for the given base URL.
func NewKlipperClient(baseURL, apiKey string, logger *zap.Logger) *KlipperClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KlipperClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		hc:         &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		events:     make(chan Event, 32),
		maxRetries: 4,
	}
}

// Events returns the channel carrying Issued and Response events. The
// channel is buffered; when the consumer falls behind, events are dropped
// rather than stalling command dispatch.
func (c *KlipperClient) Events() <-chan Event {
	return c.events
}

// NewRequestID returns a random identifier for request correlation.
func NewRequestID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

// Send posts one klipper: command. It blocks through the retry budget and
// always emits a Response event at the end, successful or not.
func (c *KlipperClient) Send(ctx context.Context, command, requestID, triggerInfo string) {
	payload := strings.TrimPrefix(command, KlipperPrefix)
	method, paramsStr, found := strings.Cut(payload, "|")
	if !found {
		paramsStr = "{}"
	}

	var params json.RawMessage
	if err := json.Unmarshal([]byte(paramsStr), &params); err != nil {
		c.logger.Warn("bad klipper params", zap.String("command", command), zap.Error(err))
		c.emit(Event{Kind: EventResponse, RequestID: requestID, Status: "invalid_params"})
		return
	}

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      requestID,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		c.emit(Event{Kind: EventResponse, RequestID: requestID, Status: "encode: " + err.Error()})
		return
	}

	c.emit(Event{Kind: EventIssued, RequestID: requestID, TriggerInfo: triggerInfo})

	var (
		status   string
		respBody json.RawMessage
	)
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-Api-Key", c.apiKey)
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		status = resp.Status
		if resp.StatusCode >= 500 {
			return fmt.Errorf("klipper: server error: %s", resp.Status)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("klipper: rejected: %s", resp.Status))
		}
		if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
			respBody = nil
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		c.logger.Warn("klipper request failed",
			zap.String("requestID", requestID),
			zap.String("method", method),
			zap.Error(err),
		)
		if status == "" {
			status = "error: " + err.Error()
		}
		c.emit(Event{Kind: EventResponse, RequestID: requestID, Status: status})
		return
	}

	c.logger.Debug("klipper request ok",
		zap.String("requestID", requestID),
		zap.String("method", method),
		zap.String("status", status),
	)
	c.emit(Event{Kind: EventResponse, RequestID: requestID, Success: true, Status: status, Body: respBody})
}

func (c *KlipperClient) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.logger.Warn("klipper event dropped, consumer too slow",
			zap.String("requestID", e.RequestID))
	}
}
