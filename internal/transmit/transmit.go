// =============================================================================
// Reinf Transmitter - Transmission Client
// =============================================================================
//
// This module delivers a signed event to the regulator over mutual TLS and
// classifies the response.
//
// STATE MACHINE:
//
//   Idle -> Connecting -> Sending -> AwaitingResponse -> Done
//
// RESPONSE CLASSIFICATION:
//   - 200/201           : Accepted (protocol number and status scanned)
//   - 400/422           : Rejected (validation message scanned)
//   - any other status  : TransportError "HTTP <code>"
//   - connection failure: TransportError
//
// Outcomes are values, never Go errors. The server certificate is always
// verified; there is no option to skip verification.
//
// =============================================================================

package transmit

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ginjaninja78/reinf-transmitter/internal/diag"
	"github.com/ginjaninja78/reinf-transmitter/internal/keystore"
)

// =============================================================================
// ENVIRONMENT
// =============================================================================

// Environment selects the regulator endpoint.
type Environment string

const (
	Sandbox    Environment = "sandbox"
	Production Environment = "production"
)

const (
	SandboxEndpoint    = "https://pre-reinf.receita.economia.gov.br/recepcao/lotes"
	ProductionEndpoint = "https://reinf.receita.economia.gov.br/recepcao/lotes"
)

// ParseEnvironment accepts "sandbox" or "production" and their Portuguese
// names. Empty input is an error; the environment is never inferred.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sandbox", "homologacao", "homologação", "pre", "restricted":
		return Sandbox, nil
	case "production", "producao", "produção", "prod":
		return Production, nil
	default:
		return "", fmt.Errorf("unknown environment %q (expected sandbox or production)", s)
	}
}

// Endpoint returns the fixed URL of the environment.
func (e Environment) Endpoint() string {
	if e == Production {
		return ProductionEndpoint
	}
	return SandboxEndpoint
}

// TpAmb returns the header environment flag: "1" production, "2" restricted.
func (e Environment) TpAmb() string {
	if e == Production {
		return "1"
	}
	return "2"
}

// =============================================================================
// RESULT
// =============================================================================

// Outcome is the classification of a transmission.
type Outcome int

const (
	Accepted Outcome = iota
	Rejected
	TransportError
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "transport_error"
	}
}

// DefaultRejectionMessage is used when a rejection carries no message.
const DefaultRejectionMessage = "Erro de validação no XML enviado"

// Result is the outcome of one transmission.
type Result struct {
	Outcome Outcome `json:"-"`

	// ProtocolNumber and StatusText are set when Accepted. Either may be empty.
	ProtocolNumber string `json:"protocolNumber,omitempty"`
	StatusText     string `json:"status,omitempty"`

	// ValidationMessage is set when Rejected.
	ValidationMessage string `json:"validationMessage,omitempty"`

	// Message describes a TransportError.
	Message string `json:"message,omitempty"`

	// StatusCode and Body are the raw response, kept for audit. StatusCode is
	// zero when no response was received.
	StatusCode int    `json:"statusCode"`
	Body       []byte `json:"-"`

	Duration time.Duration `json:"-"`
}

// Retryable is true only for transport errors.
func (r Result) Retryable() bool {
	return r.Outcome == TransportError
}

var (
	protocolPattern = regexp.MustCompile(`<numeroProtocolo>([^<]+)</numeroProtocolo>`)
	statusPattern   = regexp.MustCompile(`<status>([^<]+)</status>`)
	messagePattern  = regexp.MustCompile(`<mensagem>([^<]+)</mensagem>`)
)

// Classify interprets a regulator response.
func Classify(status int, body []byte) Result {
	r := Result{StatusCode: status, Body: body}

	switch status {
	case http.StatusOK, http.StatusCreated:
		r.Outcome = Accepted
		r.ProtocolNumber = firstMatch(protocolPattern, body)
		r.StatusText = firstMatch(statusPattern, body)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		r.Outcome = Rejected
		r.ValidationMessage = firstMatch(messagePattern, body)
		if r.ValidationMessage == "" {
			r.ValidationMessage = DefaultRejectionMessage
		}
	default:
		r.Outcome = TransportError
		r.Message = fmt.Sprintf("HTTP %d", status)
	}

	return r
}

func firstMatch(re *regexp.Regexp, body []byte) string {
	if m := re.FindSubmatch(body); m != nil {
		return string(m[1])
	}
	return ""
}

// =============================================================================
// STATE
// =============================================================================

// State is a step of a transmission.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateSending
	StateAwaitingResponse
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSending:
		return "sending"
	case StateAwaitingResponse:
		return "awaiting_response"
	default:
		return "done"
	}
}

// =============================================================================
// CLIENT
// =============================================================================

const (
	// DefaultTimeout bounds one transmission.
	DefaultTimeout = 30 * time.Second

	contentType  = "application/xml; charset=utf-8"
	maxBodyBytes = 10 << 20
)

type options struct {
	timeout  time.Duration
	rootCAs  *x509.CertPool
	endpoint string
	sink     diag.Sink
	onState  func(State)
}

// Option configures a Client.
type Option func(*options)

// WithTimeout bounds each transmission. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRootCAs replaces the system roots used to verify the server.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(o *options) { o.rootCAs = pool }
}

// WithEndpoint overrides the environment URL.
func WithEndpoint(url string) Option {
	return func(o *options) { o.endpoint = url }
}

// WithDiagnostics sets the diagnostics sink.
func WithDiagnostics(s diag.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithStateHook observes state transitions. The hook may be called from a
// transport goroutine.
func WithStateHook(fn func(State)) Option {
	return func(o *options) { o.onState = fn }
}

// Client transmits signed events. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	endpoint   string
	sink       diag.Sink
	onState    func(State)
}

// NewClient creates a client presenting cert for mutual TLS.
func NewClient(cert tls.Certificate, env Environment, opts ...Option) *Client {
	o := options{timeout: DefaultTimeout, endpoint: env.Endpoint()}
	for _, opt := range opts {
		opt(&o)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
			RootCAs:      o.rootCAs,
		},
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: o.timeout,
		MaxIdleConns:        4,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: o.timeout},
		endpoint:   o.endpoint,
		sink:       diag.OrDiscard(o.sink),
		onState:    o.onState,
	}
}

// Endpoint returns the URL the client posts to.
func (c *Client) Endpoint() string { return c.endpoint }

// Send posts the signed document and classifies the response.
func (c *Client) Send(ctx context.Context, signed []byte) Result {
	start := time.Now()
	states := c.tracker()
	states.set(StateIdle)
	defer states.set(StateDone)

	trace := &httptrace.ClientTrace{
		GetConn:      func(string) { states.set(StateConnecting) },
		GotConn:      func(httptrace.GotConnInfo) { states.set(StateSending) },
		WroteRequest: func(httptrace.WroteRequestInfo) { states.set(StateAwaitingResponse) },
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodPost, c.endpoint, bytes.NewReader(signed))
	if err != nil {
		return c.transportError(ctx, start, fmt.Sprintf("invalid request: %v", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/xml")

	c.sink.Record(ctx, diag.LevelDebug, "transmitting event", diag.Fields{
		"endpoint": c.endpoint,
		"bytes":    len(signed),
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(ctx, start, fmt.Sprintf("connection failed: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return c.transportError(ctx, start, fmt.Sprintf("failed to read response: %v", err))
	}

	result := Classify(resp.StatusCode, body)
	result.Duration = time.Since(start)

	level := diag.LevelInfo
	if result.Outcome != Accepted {
		level = diag.LevelWarn
	}
	c.sink.Record(ctx, level, "transmission finished", diag.Fields{
		"outcome":     result.Outcome.String(),
		"status_code": result.StatusCode,
		"protocol":    result.ProtocolNumber,
		"duration":    result.Duration.String(),
	})

	return result
}

func (c *Client) transportError(ctx context.Context, start time.Time, msg string) Result {
	c.sink.Record(ctx, diag.LevelWarn, "transmission failed", diag.Fields{
		"endpoint": c.endpoint,
		"error":    msg,
	})
	return Result{Outcome: TransportError, Message: msg, Duration: time.Since(start)}
}

// Transmit sends signed with the key and certificate of bundle.
func Transmit(ctx context.Context, signed []byte, bundle *keystore.Bundle, env Environment, opts ...Option) Result {
	return NewClient(bundle.TLSCertificate(), env, opts...).Send(ctx, signed)
}

// =============================================================================
// STATE TRACKING
// =============================================================================

type stateTracker struct {
	mu      sync.Mutex
	current State
	started bool
	hook    func(State)
}

func (c *Client) tracker() *stateTracker {
	return &stateTracker{hook: c.onState}
}

// set moves forward only; repeated or backward transitions are ignored.
func (s *stateTracker) set(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started && next <= s.current {
		return
	}
	s.started = true
	s.current = next
	if s.hook != nil {
		s.hook(next)
	}
}
