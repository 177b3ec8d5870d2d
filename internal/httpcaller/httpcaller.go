// Package httpcaller is the single call path every upstream adapter goes
// through: rate limiter, circuit breaker, retry, then the HTTP transport
// itself, composed in that order (spec §4.5), grounded on the teacher's
// infrastructure/httputil client construction and the gasbank client's
// do-request/read-body/decode-or-error shape.
package httpcaller

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bacoco/firmia/internal/breaker"
	"github.com/bacoco/firmia/internal/credential"
	"github.com/bacoco/firmia/internal/obslog"
	"github.com/bacoco/firmia/internal/ratelimit"
	"github.com/bacoco/firmia/internal/retry"
	"github.com/bacoco/firmia/internal/svcerrors"
)

const defaultMaxBodyBytes = 10 << 20 // 10MiB

// Request describes a single outbound call.
type Request struct {
	Provider string
	Method   string
	URL      string
	Body     []byte
	Headers  map[string]string
	Timeout  time.Duration // zero uses the Caller's default
	ClientKey string       // rate-limit partition key; defaults to "default"
}

// Response is the decoded outcome of a successful call.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Caller composes C3-C6 into the single path every C9 adapter uses.
type Caller struct {
	httpClient   *http.Client
	limiter      *ratelimit.Limiter
	breakers     *breaker.Registry
	credentials  *credential.Store
	logger       *obslog.Logger
	defaultTimeout time.Duration
	maxBodyBytes   int64
}

// Config wires a Caller's collaborators.
type Config struct {
	HTTPClient     *http.Client
	Limiter        *ratelimit.Limiter
	Breakers       *breaker.Registry
	Credentials    *credential.Store
	Logger         *obslog.Logger
	DefaultTimeout time.Duration
	MaxBodyBytes   int64
}

// New builds a Caller.
func New(cfg Config) *Caller {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Caller{
		httpClient:     httpClient,
		limiter:        cfg.Limiter,
		breakers:       cfg.Breakers,
		credentials:    cfg.Credentials,
		logger:         cfg.Logger,
		defaultTimeout: timeout,
		maxBodyBytes:   maxBody,
	}
}

// Do executes req through limiter -> breaker -> retry -> transport,
// injecting the provider's credential and retrying/invalidating on 401,
// surfacing 429 as KindRateLimited and 5xx as a retryable KindUpstream.
func (c *Caller) Do(ctx context.Context, req Request) (*Response, error) {
	clientKey := req.ClientKey
	if clientKey == "" {
		clientKey = "default"
	}

	if c.limiter != nil {
		decision, err := c.limiter.Admit(ctx, req.Provider, clientKey)
		if err == nil && !decision.Allowed {
			return nil, svcerrors.RateLimited(req.Provider, decision.RetryAfterSecs)
		}
	}

	var brk *breaker.Breaker
	if c.breakers != nil {
		brk = c.breakers.Get(req.Provider)
		if brk.State() == breaker.StateOpen {
			return nil, svcerrors.CircuitOpenErr(req.Provider)
		}
	}

	var result *Response
	attempted401Retry := false

	call := func() error {
		resp, err := c.doOnce(ctx, req)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			if c.credentials != nil && !attempted401Retry {
				attempted401Retry = true
				c.credentials.Invalidate(req.Provider)
				resp2, err2 := c.doOnce(ctx, req)
				if err2 != nil {
					return err2
				}
				if resp2.StatusCode == http.StatusUnauthorized {
					return retry.Permanent(svcerrors.AuthUnavailable(req.Provider, fmt.Errorf("still unauthorized after credential refresh")))
				}
				result = resp2
				if retry.RetryableStatus(resp2.StatusCode) {
					return fmt.Errorf("upstream status %d", resp2.StatusCode)
				}
				return nil
			}
			return retry.Permanent(svcerrors.AuthExpired(req.Provider))

		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp.Headers.Get("Retry-After"))
			return retry.Permanent(svcerrors.RateLimited(req.Provider, retryAfter))

		case retry.RetryableStatus(resp.StatusCode):
			result = resp
			return fmt.Errorf("upstream status %d", resp.StatusCode)

		case resp.StatusCode == http.StatusNotFound:
			result = resp
			return retry.Permanent(svcerrors.NotFound(req.Provider, ""))

		case resp.StatusCode >= 400:
			result = resp
			return retry.Permanent(fmt.Errorf("upstream status %d", resp.StatusCode))

		default:
			result = resp
			return nil
		}
	}

	run := func() error {
		if brk == nil {
			return call()
		}
		// Only network errors, 5xx and 429 count against the breaker; auth,
		// not-found and other 4xx failures are handed back outside it.
		var uncounted error
		err := brk.Execute(func() error {
			err := call()
			switch svcerrors.KindOf(err) {
			case svcerrors.KindAuthExpired, svcerrors.KindAuthUnavailable, svcerrors.KindNotFound:
				uncounted = err
				return nil
			}
			if err != nil && result != nil && result.StatusCode >= 400 && result.StatusCode < 500 && result.StatusCode != http.StatusTooManyRequests {
				uncounted = err
				return nil
			}
			return err
		})
		if uncounted != nil {
			return uncounted
		}
		return err
	}

	err := retry.Do(ctx, retry.DefaultConfig(), run)
	if err != nil {
		if err == breaker.ErrCircuitOpen {
			return nil, svcerrors.CircuitOpenErr(req.Provider)
		}
		if sErr, ok := svcerrors.As(err); ok {
			return nil, sErr
		}
		return nil, svcerrors.Upstream(req.Provider, err)
	}

	if result != nil && result.StatusCode >= 400 {
		return result, svcerrors.Upstream(req.Provider, fmt.Errorf("status %d", result.StatusCode))
	}
	return result, nil
}

func (c *Caller) doOnce(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, svcerrors.Internal("build request", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	if c.credentials != nil {
		token, err := c.credentials.Get(callCtx, req.Provider)
		if err != nil {
			return nil, err
		}
		if token != nil && token.Value != "" {
			tokenType := token.TokenType
			if tokenType == "" {
				tokenType = "Bearer"
			}
			httpReq.Header.Set("Authorization", tokenType+" "+token.Value)
			for k, v := range token.AdditionalHeaders {
				httpReq.Header.Set(k, v)
			}
		}
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	duration := time.Since(start)
	if c.logger != nil {
		c.logger.LogUpstreamCall(ctx, req.Provider, req.Method+" "+req.URL, duration, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Provider, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxBodyBytes))
	if err != nil {
		return nil, svcerrors.Upstream(req.Provider, err)
	}

	return &Response{StatusCode: httpResp.StatusCode, Body: body, Headers: httpResp.Header}, nil
}

func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return secs
	}
	if when, err := http.ParseTime(header); err == nil {
		d := time.Until(when)
		if d < 0 {
			return 0
		}
		return int(d.Seconds())
	}
	return 0
}
