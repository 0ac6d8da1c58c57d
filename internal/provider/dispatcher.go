package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lin-1259/ai-xiutu/internal/redact"
	"github.com/sethvargo/go-retry"
)

// DefaultRequestTimeout bounds a single outbound provider call.
const DefaultRequestTimeout = 60 * time.Second

// Options configures a Dispatcher.
type Options struct {
	// RequestTimeout bounds each outbound call attempt.
	RequestTimeout time.Duration
	// HTTPClient is shared by the HTTP-based clients. Nil uses a default client.
	HTTPClient *http.Client
	// Clients overrides the client used for a kind.
	Clients map[Kind]Client
	// Now is the clock for the rate-limit window.
	Now func() time.Time
}

// Dispatcher presents one transform operation over the configured providers.
// It owns the provider registry, the current provider pointer and the
// per-provider rate-limit windows.
type Dispatcher struct {
	mu        sync.RWMutex
	providers map[string]Config
	order     []string
	current   string

	clients map[Kind]Client
	limiter *Limiter
	timeout time.Duration
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher with the given providers. The current
// pointer is set to current when it names a registered provider, otherwise to
// the default.
func NewDispatcher(configs []Config, current string, opts Options, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	log := logger.With("component", "provider_dispatcher")
	clients := map[Kind]Client{
		KindGemini:  NewGeminiClient(httpClient, log),
		KindQwen:    NewQwenClient(httpClient, log),
		KindGeneric: NewGenericClient(httpClient),
	}
	for kind, c := range opts.Clients {
		clients[kind] = c
	}

	d := &Dispatcher{
		providers: make(map[string]Config),
		clients:   clients,
		limiter:   NewLimiter(time.Second, opts.Now),
		timeout:   timeout,
		logger:    log,
	}
	for _, cfg := range configs {
		if err := d.add(cfg); err != nil {
			return nil, err
		}
	}
	d.mu.Lock()
	if _, ok := d.providers[current]; ok {
		d.current = current
	} else {
		d.current = d.defaultLocked()
	}
	d.mu.Unlock()
	return d, nil
}

func (d *Dispatcher) add(cfg Config) error {
	if cfg.Kind == KindGeneric && cfg.AuthMode == "" {
		cfg.AuthMode = AuthBearer
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.providers[cfg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, cfg.ID)
	}
	d.providers[cfg.ID] = cfg.clone()
	d.order = append(d.order, cfg.ID)
	if cfg.APIKey != "" {
		redact.RegisterSecret(cfg.APIKey)
	}
	return nil
}

// defaultLocked returns the first usable provider in registration order, or
// the first provider when none is usable.
func (d *Dispatcher) defaultLocked() string {
	for _, id := range d.order {
		if d.providers[id].Usable() {
			return id
		}
	}
	if len(d.order) > 0 {
		return d.order[0]
	}
	return ""
}

// AddCustomProvider registers a user-defined generic provider.
func (d *Dispatcher) AddCustomProvider(cfg Config) error {
	cfg.Kind = KindGeneric
	cfg.BuiltIn = false
	if err := d.add(cfg); err != nil {
		return err
	}
	d.logger.Info("custom provider added", "provider_id", cfg.ID)
	return nil
}

// UpdateProviderConfig replaces the mutable settings of a provider. The id,
// kind and built-in flag are kept. An empty or masked credential keeps the
// stored one so masked listings can be sent back unchanged.
func (d *Dispatcher) UpdateProviderConfig(id string, cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.providers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	cfg.ID = existing.ID
	cfg.Kind = existing.Kind
	cfg.BuiltIn = existing.BuiltIn
	if cfg.Name == "" {
		cfg.Name = existing.Name
	}
	if cfg.APIKey == "" || strings.HasPrefix(cfg.APIKey, "****") {
		cfg.APIKey = existing.APIKey
	}
	if cfg.Kind == KindGeneric && cfg.AuthMode == "" {
		cfg.AuthMode = existing.AuthMode
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.APIKey != "" {
		redact.RegisterSecret(cfg.APIKey)
	}
	d.providers[id] = cfg.clone()
	d.logger.Info("provider updated", "provider_id", id, "enabled", cfg.Enabled)
	return nil
}

// RemoveCustomProvider deletes a user-defined provider. Removing the current
// provider resets the pointer to the default.
func (d *Dispatcher) RemoveCustomProvider(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cfg, ok := d.providers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	if cfg.BuiltIn {
		return fmt.Errorf("%w: %s", ErrBuiltInProvider, id)
	}
	delete(d.providers, id)
	for i, existing := range d.order {
		if existing == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.limiter.Forget(id)
	if d.current == id {
		d.current = d.defaultLocked()
		d.logger.Info("current provider removed, pointer reset", "provider_id", id, "current", d.current)
	}
	return nil
}

// SetCurrent moves the current provider pointer.
func (d *Dispatcher) SetCurrent(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.providers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	d.current = id
	return nil
}

// Current returns the id of the current provider.
func (d *Dispatcher) Current() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// Get returns the provider configuration for id.
func (d *Dispatcher) Get(id string) (Config, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cfg, ok := d.providers[id]
	return cfg.clone(), ok
}

// List returns every provider in registration order with credentials masked.
func (d *Dispatcher) List() []Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Config, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.providers[id].Masked())
	}
	return out
}

// candidates returns a snapshot of the dispatch order: the current provider
// first, then the rest in registration order starting after it.
func (d *Dispatcher) candidates() []Config {
	d.mu.RLock()
	defer d.mu.RUnlock()

	start := 0
	for i, id := range d.order {
		if id == d.current {
			start = i
			break
		}
	}
	out := make([]Config, 0, len(d.order))
	for i := range d.order {
		id := d.order[(start+i)%len(d.order)]
		out = append(out, d.providers[id].clone())
	}
	return out
}

func (d *Dispatcher) switchTo(from, to string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == from || from == "" {
		d.current = to
	}
}

// Dispatch sends req to the current provider, failing over to the next usable
// provider after a transport failure. Unusable providers are skipped. Total hops
// are bounded by the number of registered providers.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	candidates := d.candidates()
	if len(candidates) == 0 {
		return nil, ErrNoProviderAvailable
	}

	var lastErr error
	previous := ""
	for hop, cfg := range candidates {
		if !cfg.Usable() {
			d.logger.WarnContext(ctx, "skipping unusable provider",
				"provider_id", cfg.ID,
				"enabled", cfg.Enabled,
				"has_credentials", cfg.HasCredentials())
			continue
		}
		if hop > 0 {
			d.switchTo(previous, cfg.ID)
			if previous != "" {
				d.logger.WarnContext(ctx, "failing over to alternate provider",
					"from_provider", previous,
					"provider_id", cfg.ID)
			}
		}

		result, err := d.call(ctx, cfg, req)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, ErrTransport) {
			return nil, err
		}
		d.logger.WarnContext(ctx, "provider call failed", "provider_id", cfg.ID, "error", err)
		lastErr = err
		previous = cfg.ID
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoProviderAvailable
}

// call performs one logical request against cfg with rate limiting and linear
// retry on transport failures.
func (d *Dispatcher) call(ctx context.Context, cfg Config, req Request) (*Result, error) {
	if !d.limiter.Allow(cfg.ID, cfg.RateLimit) {
		d.logger.WarnContext(ctx, "provider rate limited", "provider_id", cfg.ID, "rate_limit", cfg.RateLimit)
		return nil, &Error{ProviderID: cfg.ID, Class: ClassRateLimited, Err: ErrRateLimited}
	}

	client, ok := d.clients[cfg.Kind]
	if !ok {
		client = d.clients[KindGeneric]
	}

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1), linearBackoff(cfg.BaseDelay))

	var resp *Response
	started := time.Now()
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		r, err := client.Transform(attemptCtx, cfg, req)
		if err != nil {
			var perr *Error
			if !errors.As(err, &perr) {
				if attemptCtx.Err() != nil {
					err = transportError(cfg.ID, fmt.Errorf("request timed out: %w", err))
				} else {
					err = transportError(cfg.ID, err)
				}
			}
			if errors.Is(err, ErrTransport) {
				d.logger.DebugContext(ctx, "provider attempt failed",
					"provider_id", cfg.ID,
					"attempt", attempt,
					"max_attempts", attempts,
					"error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		if r == nil {
			return semanticError(cfg.ID, errors.New("empty response"))
		}
		if !r.Success {
			msg := strings.TrimSpace(r.Error)
			if msg == "" {
				msg = "provider reported failure"
			}
			return semanticError(cfg.ID, errors.New(msg))
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	image, err := base64.StdEncoding.DecodeString(resp.ImageBase64)
	if err != nil || len(image) == 0 {
		return nil, semanticError(cfg.ID, errors.New("response did not contain a valid image"))
	}

	cost := resp.Cost
	if cost <= 0 {
		cost = EstimateCost(cfg, req.Resolution)
	}
	elapsed := time.Duration(resp.ProcessingTimeMs) * time.Millisecond
	if elapsed <= 0 {
		elapsed = time.Since(started)
	}
	return &Result{
		Image:          image,
		ProviderID:     cfg.ID,
		Cost:           cost,
		ProcessingTime: elapsed,
	}, nil
}

// linearBackoff waits base * attemptNumber before each retry.
func linearBackoff(base time.Duration) retry.Backoff {
	var n int64
	return retry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return time.Duration(n) * base, false
	})
}
