package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"medikiosk/config"
	"medikiosk/internal/medicine"
	"medikiosk/internal/metrics"
)

// ErrTransportUnavailable marks failures to reach the device or to read a
// well-formed reply from it: connection errors, timeouts, malformed bodies and
// an open circuit.
var ErrTransportUnavailable = errors.New("dispensing device unavailable")

// invalidMotorCode is the device's error code for an out-of-range motor number.
const invalidMotorCode = "invalid_motor"

// RejectedError is a well-formed error reply: the device was reached and
// refused the command.
type RejectedError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("device rejected command (HTTP %d): %s", e.StatusCode, e.Message)
}

// InvalidMotor reports whether the device rejected the motor number itself.
func (e *RejectedError) InvalidMotor() bool {
	return e.Code == invalidMotorCode
}

// Command is the dispense message sent to the device.
type Command struct {
	MotorNumber int `json:"motorNumber"`
}

// Result is the outcome of a successful SendDispense.
type Result struct {
	// Simulated is true when the device could not be reached and the dispense
	// was simulated instead of confirmed by hardware.
	Simulated bool
	Message   string
}

// reply covers both the current and the legacy ({"error": "..."}) reply shapes.
type reply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

// Client sends dispense commands to the device over HTTP.
type Client struct {
	cfg     config.DeviceConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
}

// NewClient creates a device client from cfg. m may be nil.
func NewClient(cfg config.DeviceConfig, m *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Breaker.ConsecutiveFailures == 0 {
		cfg.Breaker.ConsecutiveFailures = 3
	}

	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Warn().Err(err).Str("proxy", cfg.HTTPProxy).Msg("invalid proxy URL; device client will not use a proxy")
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	c := &Client{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		metrics: m,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "device",
		// Half-open admits one request per slot so concurrent dispenses for
		// different medicines all reach the device.
		MaxRequests: uint32(len(medicine.All())),
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.ConsecutiveFailures
		},
		// A rejection is a completed round trip and an abandoned call says nothing
		// about the device; only transport failures trip the breaker.
		IsSuccessful: func(err error) bool {
			return !errors.Is(err, ErrTransportUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("device circuit breaker state changed")
			c.metrics.SetBreakerState(name, int(to))
		},
	})
	return c
}

// Endpoint returns the configured device base URL.
func (c *Client) Endpoint() string {
	return c.cfg.URL
}

// SendDispense commands the device to run motorNumber (1-based) once. It makes a
// single attempt. When the device cannot be reached and simulation is enabled, it
// waits the simulated delay and reports a simulated success; otherwise the
// returned error wraps ErrTransportUnavailable. A device rejection is returned as
// *RejectedError.
//
// If ctx ends before the device replies, the context error is returned without
// ErrTransportUnavailable: the device may still complete the cycle, and the
// caller giving up is not evidence that the device is down.
func (c *Client) SendDispense(ctx context.Context, motorNumber int) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, abandoned(err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, Command{MotorNumber: motorNumber})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = unavailable(err)
	}

	switch {
	case err == nil:
		r := out.(*reply)
		c.metrics.DeviceResult(metrics.DeviceConfirmed)
		log.Info().Int("motor", motorNumber).Bool("simulated", false).Str("reply", r.Message).Msg("device confirmed dispense")
		return &Result{Message: r.Message}, nil
	case errors.Is(err, ErrTransportUnavailable):
		c.metrics.DeviceResult(metrics.DeviceUnavailable)
		return c.fallback(ctx, motorNumber, err)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		c.metrics.DeviceResult(metrics.DeviceAbandoned)
		log.Warn().Err(err).Int("motor", motorNumber).Msg("caller gave up before the device replied")
		return nil, err
	default:
		c.metrics.DeviceResult(metrics.DeviceRejected)
		log.Warn().Err(err).Int("motor", motorNumber).Msg("device rejected dispense")
		return nil, err
	}
}

func (c *Client) fallback(ctx context.Context, motorNumber int, cause error) (*Result, error) {
	if !c.cfg.SimulateOnTransportFailure {
		log.Error().Err(cause).Int("motor", motorNumber).Msg("device unreachable; simulation disabled")
		return nil, cause
	}

	log.Warn().Err(cause).Int("motor", motorNumber).Bool("simulated", true).
		Dur("delay", c.cfg.SimulatedDelay).Msg("device unreachable; simulating dispense")

	timer := time.NewTimer(c.cfg.SimulatedDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("simulated dispense interrupted: %w", ctx.Err())
	case <-timer.C:
	}

	c.metrics.DeviceResult(metrics.DeviceSimulated)
	log.Warn().Int("motor", motorNumber).Bool("simulated", true).Msg("simulated dispense completed")
	return &Result{
		Simulated: true,
		Message:   fmt.Sprintf("Simulated dispense using motor %d", motorNumber),
	}, nil
}

// Probe checks the device liveness endpoint. It is informational only and does
// not go through the circuit breaker.
func (c *Client) Probe(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/test"), nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, nil
	}
	var r reply
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return false, fmt.Errorf("failed to decode probe reply: %w", err)
	}
	return r.Status == "success", nil
}

func (c *Client) post(ctx context.Context, cmd Command) (*reply, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	jsonBody, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url("/api/dispense"), bytes.NewReader(jsonBody))
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportFailure(ctx, fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, transportFailure(ctx, fmt.Errorf("failed to read response body: %w", err))
	}

	var r reply
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, unavailable(fmt.Errorf("malformed device reply (HTTP %d): %w", resp.StatusCode, err))
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
	switch {
	case ok && r.Status == "success":
		return &r, nil
	case r.Status == "error" || r.Error != "":
		msg := r.Message
		if msg == "" {
			msg = r.Error
		}
		return nil, &RejectedError{StatusCode: resp.StatusCode, Code: r.Code, Message: msg}
	default:
		return nil, unavailable(fmt.Errorf("unexpected device reply (HTTP %d, status %q)", resp.StatusCode, r.Status))
	}
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.cfg.URL, "/") + path
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
}

// transportFailure classifies a failed round trip. Only the client's own
// timeout or a network error counts against the device; a done parent ctx
// means the caller left.
func transportFailure(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return abandoned(ctxErr)
	}
	return unavailable(err)
}

func abandoned(ctxErr error) error {
	return fmt.Errorf("dispense request abandoned: %w", ctxErr)
}
