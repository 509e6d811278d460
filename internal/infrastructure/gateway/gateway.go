// Package gateway is the single path by which the client talks to the campus
// backend. It attaches the stored credential, classifies the
// {code, data, msg} envelope, shows exactly one notification per failure and
// hands authentication failures to the expiry coordinator.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tyust/tyust-client/internal/domain/session"
	"github.com/tyust/tyust-client/internal/domain/shared"
	"github.com/tyust/tyust-client/pkg/circuitbreaker"
	"github.com/tyust/tyust-client/pkg/logger"
)

// User-facing messages.
const (
	MsgLoginRequired  = "请先登录"
	MsgSessionExpired = "登录已失效，请重新登录"
	MsgServerFallback = "服务开小差啦！"
	MsgNetworkFailure = "网络请求失败"
)

// Application codes of the response envelope.
const (
	CodeOK           = 0
	CodeFailure      = -1
	CodeUnauthorized = 401
	CodeForbidden    = 403
)

// Headers attached to every authenticated request.
const (
	HeaderToken     = "token"
	HeaderStudentID = "studentId"
	HeaderRequestID = "X-Request-ID"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLLABORATORS
// ══════════════════════════════════════════════════════════════════════════════

// SessionReader supplies the stored credential and identity.
type SessionReader interface {
	Credential(ctx context.Context) string
	Identity(ctx context.Context) session.Identity
}

// ExpiryTrigger is notified of authentication failures.
type ExpiryTrigger interface {
	Trigger(ctx context.Context, message string) bool
}

// Indicator is the blocking "loading" overlay.
type Indicator interface {
	Show(ctx context.Context)
	Hide(ctx context.Context)
}

// Notifier shows a transient message.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

type nopIndicator struct{}

func (nopIndicator) Show(context.Context) {}
func (nopIndicator) Hide(context.Context) {}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string) {}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST SPEC
// ══════════════════════════════════════════════════════════════════════════════

// RequestSpec describes one call. The zero value of SkipAuth and NoIndicator
// means the request requires a credential and shows the indicator.
type RequestSpec struct {
	Path        string `validate:"required,startswith=/"`
	Method      string `validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Query       url.Values
	Body        any
	SkipAuth    bool
	NoIndicator bool
	Timeout     time.Duration `validate:"gte=0"`

	// Into, when set, receives the decoded data of a successful envelope.
	// A null or missing payload leaves it untouched.
	Into any
	// Accept runs after Into is filled. A payload that fails to decode or
	// is rejected by Accept is reported as an unknown server error.
	Accept func() error
}

func (s RequestSpec) method() string {
	if s.Method == "" {
		return http.MethodGet
	}
	return s.Method
}

func (s RequestSpec) op() string {
	return s.method() + " " + s.Path
}

// accept decodes data into Into and runs Accept.
func (s RequestSpec) accept(data json.RawMessage) error {
	if s.Into != nil && len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, s.Into); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	if s.Accept != nil {
		if err := s.Accept(); err != nil {
			return fmt.Errorf("reject payload: %w", err)
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GATEWAY
// ══════════════════════════════════════════════════════════════════════════════

// Config holds gateway settings.
type Config struct {
	// BaseURL is prepended to every path.
	BaseURL string
	// Timeout is the default per-request timeout. Zero means DefaultTimeout.
	Timeout time.Duration

	// Breaker tuning for the default breaker. Zero keeps the preset.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Gateway sends requests through a Dispatcher.
type Gateway struct {
	cfg        Config
	dispatcher Dispatcher
	session    SessionReader
	expiry     ExpiryTrigger
	indicator  Indicator
	notifier   Notifier
	breaker    *circuitbreaker.CircuitBreaker
	validate   *validator.Validate
	tracer     trace.Tracer
	log        *logger.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

func WithIndicator(i Indicator) Option {
	return func(g *Gateway) {
		if i != nil {
			g.indicator = i
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(g *Gateway) {
		if n != nil {
			g.notifier = n
		}
	}
}

// WithBreaker replaces the default transport circuit breaker.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(g *Gateway) {
		if cb != nil {
			g.breaker = cb
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

// New creates a Gateway.
func New(cfg Config, dispatcher Dispatcher, sess SessionReader, expiry ExpiryTrigger, opts ...Option) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	g := &Gateway{
		cfg:        cfg,
		dispatcher: dispatcher,
		session:    sess,
		expiry:     expiry,
		indicator:  nopIndicator{},
		notifier:   nopNotifier{},
		validate:   validator.New(),
		tracer:     otel.Tracer("github.com/tyust/tyust-client/internal/infrastructure/gateway"),
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With(logger.Component("gateway"))
	if g.breaker == nil {
		var overrides []circuitbreaker.Option
		if cfg.BreakerThreshold > 0 {
			overrides = append(overrides, circuitbreaker.WithFailureThreshold(cfg.BreakerThreshold))
		}
		if cfg.BreakerCooldown > 0 {
			overrides = append(overrides, circuitbreaker.WithCooldown(cfg.BreakerCooldown))
		}
		g.breaker = circuitbreaker.CampusAPIBreaker(isTransportFailure, func(name string, from, to circuitbreaker.State) {
			g.log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		}, overrides...)
	}
	return g
}

// BaseURL returns the normalised API root.
func (g *Gateway) BaseURL() string { return g.cfg.BaseURL }

// Send performs one request and returns the envelope's data on success.
// Failures are *shared.GatewayError values matching one of the shared.Err*
// kinds. There are no automatic retries.
func (g *Gateway) Send(ctx context.Context, spec RequestSpec) (json.RawMessage, error) {
	start := time.Now()
	requestID := uuid.NewString()
	log := g.log.With(logger.RequestID(requestID), logger.Operation(spec.op()))
	ctx = logger.WithContext(ctx, log)

	ctx, span := g.tracer.Start(ctx, "gateway.send", trace.WithAttributes(
		attribute.String("http.method", spec.method()),
		attribute.String("http.path", spec.Path),
		attribute.String("request.id", requestID),
		attribute.Bool("auth.required", !spec.SkipAuth),
	))
	defer span.End()

	data, err := g.send(ctx, spec, requestID)

	outcome := outcomeOf(err)
	requestsTotal.WithLabelValues(spec.method(), spec.Path, outcome).Inc()
	requestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, shared.UserMessage(err))
		log.Warn("request failed",
			logger.String("outcome", outcome),
			logger.Latency(time.Since(start)),
			logger.Err(err))
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	log.Debug("request done", logger.Latency(time.Since(start)))
	return data, nil
}

func (g *Gateway) send(ctx context.Context, spec RequestSpec, requestID string) (json.RawMessage, error) {
	op := spec.op()

	if err := g.validate.Struct(spec); err != nil {
		return nil, shared.WrapGatewayError(shared.ErrInvalidInput, op, "invalid request", err)
	}

	// The credential rides along whenever one is stored, even on
	// requests that do not require it.
	header := http.Header{}
	token := g.session.Credential(ctx)
	if token == "" && !spec.SkipAuth {
		g.expiry.Trigger(ctx, MsgLoginRequired)
		return nil, shared.NewGatewayError(shared.ErrUnauthenticated, op, CodeUnauthorized, MsgLoginRequired)
	}
	if token != "" {
		header.Set(HeaderToken, token)
		if id := g.session.Identity(ctx).StudentID; id != "" {
			header.Set(HeaderStudentID, id)
		}
	}

	req, err := g.buildRequest(spec, header, requestID)
	if err != nil {
		return nil, shared.WrapGatewayError(shared.ErrInvalidInput, op, "invalid request", err)
	}

	if !spec.NoIndicator {
		g.indicator.Show(ctx)
		defer g.indicator.Hide(ctx)
	}

	if err := g.breaker.Allow(); err != nil {
		logger.FromContext(ctx).Debug("request rejected by circuit breaker",
			logger.String("breaker_state", g.breaker.State().String()))
		g.notifier.Notify(ctx, MsgNetworkFailure)
		return nil, shared.WrapGatewayError(shared.ErrNetwork, op, MsgNetworkFailure, err)
	}
	resp, err := g.dispatcher.Dispatch(ctx, req)
	g.breaker.Record(err)
	if err != nil {
		g.notifier.Notify(ctx, MsgNetworkFailure)
		return nil, shared.WrapGatewayError(shared.ErrNetwork, op, MsgNetworkFailure, err)
	}

	return g.classify(ctx, spec, resp)
}

func (g *Gateway) buildRequest(spec RequestSpec, header http.Header, requestID string) (Request, error) {
	target := g.cfg.BaseURL + spec.Path
	if len(spec.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + spec.Query.Encode()
	}

	var body []byte
	if spec.Body != nil {
		raw, err := json.Marshal(spec.Body)
		if err != nil {
			return Request{}, fmt.Errorf("marshal body: %w", err)
		}
		body = raw
	}

	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")
	header.Set(HeaderRequestID, requestID)

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = g.cfg.Timeout
	}
	return Request{Method: spec.method(), URL: target, Header: header, Body: body, Timeout: timeout}, nil
}

// envelope is the backend's response wrapper. Older endpoints use "message"
// instead of "msg".
type envelope struct {
	Code    *int            `json:"code"`
	Data    json.RawMessage `json:"data"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
}

func (e envelope) text() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Message
}

func (g *Gateway) classify(ctx context.Context, spec RequestSpec, resp *Response) (json.RawMessage, error) {
	op := spec.op()
	log := logger.FromContext(ctx)

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil || env.Code == nil {
		log.Debug("response is not an envelope", logger.Int("status", resp.StatusCode))
		g.notifier.Notify(ctx, MsgServerFallback)
		gwErr := shared.NewGatewayError(shared.ErrUnknownServer, op, 0, MsgServerFallback)
		if err != nil {
			gwErr.Err = fmt.Errorf("decode envelope (status %d): %w", resp.StatusCode, err)
		}
		return nil, gwErr
	}

	code := *env.Code
	if code != CodeOK {
		log.Debug("envelope rejected", logger.AppCode(code))
	}
	switch code {
	case CodeOK:
		if err := spec.accept(env.Data); err != nil {
			g.notifier.Notify(ctx, MsgServerFallback)
			return nil, shared.WrapGatewayError(shared.ErrUnknownServer, op, MsgServerFallback, err)
		}
		return env.Data, nil

	case CodeFailure:
		msg := env.text()
		if msg == "" {
			msg = MsgServerFallback
		}
		g.notifier.Notify(ctx, msg)
		return nil, shared.NewGatewayError(shared.ErrApplication, op, code, msg)

	case CodeUnauthorized, CodeForbidden:
		g.expiry.Trigger(ctx, MsgSessionExpired)
		return nil, shared.NewGatewayError(shared.ErrUnauthenticated, op, code, MsgSessionExpired)

	default:
		msg := env.text()
		if msg == "" {
			msg = MsgServerFallback
		}
		g.notifier.Notify(ctx, msg)
		return nil, shared.NewGatewayError(shared.ErrUnknownServer, op, code, msg)
	}
}

// isTransportFailure excludes cancellations made by the caller.
func isTransportFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, shared.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, shared.ErrApplication):
		return "application_error"
	case errors.Is(err, shared.ErrNetwork):
		return "network_error"
	case errors.Is(err, shared.ErrUnknownServer):
		return "unknown_server_error"
	default:
		return "invalid"
	}
}
