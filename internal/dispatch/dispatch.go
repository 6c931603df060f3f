// Package dispatch renders and publishes a trigger's actions to their
// configured destinations, subject to throttling, an allow/deny list,
// per-destination rate limiting, and circuit breaking around publish.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"monitorrunner/internal/cache"
	apperrors "monitorrunner/internal/errors"
	"monitorrunner/internal/models"
	"monitorrunner/internal/recovery"
)

// DestinationResolver fetches a destination's stored configuration by
// id; the runner's composition root wires this to whatever registry
// holds destinations (a config file, a table, a secrets manager).
type DestinationResolver func(id string) (*DestinationConfig, error)

// DestinationFactory builds a Destination from its stored config.
type DestinationFactory func(cfg *DestinationConfig, logger *logrus.Logger) (Destination, error)

// Dispatcher renders action templates and publishes to destinations,
// bounding concurrent publishes with a semaphore sized per
// config.Runner.ActionExecutors; each publish runs on its caller's goroutine.
type Dispatcher struct {
	resolve      DestinationResolver
	factory      DestinationFactory
	templates    *cache.Compiled
	allowed      map[string]bool
	denied       map[string]bool
	hostDenyList []string
	limiters     sync.Map // destinationID -> *rate.Limiter
	breakers     sync.Map // destinationID -> *recovery.CircuitBreaker
	rateLimit    rate.Limit
	rateBurst    int
	publishRetry *recovery.LiveRetryConfig
	sem          chan struct{}
	logger       *logrus.Logger
}

// Options configures a Dispatcher's cross-cutting policies.
type Options struct {
	AllowedDestinations []string
	DeniedDestinations  []string
	// HostDenyList is spec.md §6's "destination.host.deny.list" — hosts
	// a destination must never publish to, independent of its type
	// being in AllowedDestinations.
	HostDenyList       []string
	ActionExecutors    int
	RateLimitPerSecond float64
	RateLimitBurst     int
	PublishRetry       *recovery.LiveRetryConfig
}

func New(resolve DestinationResolver, factory DestinationFactory, templates *cache.Compiled, opts Options, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	executors := opts.ActionExecutors
	if executors <= 0 {
		executors = 1
	}

	allowed := toSet(opts.AllowedDestinations)
	denied := toSet(opts.DeniedDestinations)

	rl := rate.Limit(opts.RateLimitPerSecond)
	if rl <= 0 {
		rl = rate.Inf
	}
	burst := opts.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	return &Dispatcher{
		resolve:      resolve,
		factory:      factory,
		templates:    templates,
		allowed:      allowed,
		denied:       denied,
		hostDenyList: opts.HostDenyList,
		rateLimit:    rl,
		rateBurst:    burst,
		publishRetry: opts.PublishRetry,
		sem:          make(chan struct{}, executors),
		logger:       logger,
	}
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, i := range items {
		s[i] = true
	}
	return s
}

// IsActionActionable reports whether an action's throttle allows
// dispatch right now, per spec.md §4.6.
func IsActionActionable(action models.Action, prior *models.Alert, now time.Time) bool {
	if prior == nil || action.Throttle == nil || !action.Throttle.Enabled {
		return true
	}

	var last *time.Time
	for _, r := range prior.ActionExecutionResults {
		if r.ActionID == action.ID {
			t := r.LastExecutionTime
			last = &t
			break
		}
	}
	if last == nil {
		return true
	}
	window := time.Duration(action.Throttle.Value) * action.Throttle.Unit
	return last.Before(now.Add(-window))
}

// IsTriggerActionable reports whether a triggered result should run
// its actions at all: an acknowledged alert suppresses further
// actions unless a new error makes the firing visible again.
func IsTriggerActionable(triggerResult models.TriggerRunResult, prior *models.Alert, monitorErr error) bool {
	if !triggerResult.Triggered {
		return false
	}
	if prior != nil && prior.State == models.AlertStateAcknowledged && triggerResult.Error == nil && monitorErr == nil {
		return false
	}
	return true
}

// TemplateParams is extended with {"ctx": ...} per spec.md §4.6 before
// rendering an action's subject/message templates.
type TemplateParams struct {
	Ctx map[string]interface{}
}

// RunActions runs a trigger's actions, in declaration order, against
// the dry-run flag and the trigger's current alert state. Per-action
// failures never propagate — they're captured in that action's result.
func (d *Dispatcher) RunActions(ctx context.Context, actions []models.Action, prior *models.Alert, params TemplateParams, dryrun bool, now time.Time) []models.ActionRunResult {
	results := make([]models.ActionRunResult, 0, len(actions))
	for _, action := range actions {
		results = append(results, d.runAction(ctx, action, prior, params, dryrun, now))
	}
	return results
}

func (d *Dispatcher) runAction(ctx context.Context, action models.Action, prior *models.Alert, params TemplateParams, dryrun bool, now time.Time) models.ActionRunResult {
	result := models.ActionRunResult{ActionID: action.ID, Name: action.Name}

	if !IsActionActionable(action, prior, now) {
		result.Throttled = true
		return result
	}

	subject, message, err := d.renderTemplates(action, params)
	if err != nil {
		result.Error = apperrors.NewActionTemplateError(err, action.ID)
		result.ExecutionTime = now
		return result
	}

	if dryrun {
		result.ExecutionTime = now
		result.Output = map[string]string{"subject": subject, "message": message, "dryrun": "true"}
		return result
	}

	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	messageID, err := d.publish(ctx, action.DestinationID, subject, message)
	result.ExecutionTime = now
	if err != nil {
		result.Error = apperrors.NewActionPublishError(err, action.ID)
		return result
	}
	result.Output = map[string]string{"message_id": messageID}
	return result
}

func (d *Dispatcher) renderTemplates(action models.Action, params TemplateParams) (subject, message string, err error) {
	tmplParams := map[string]interface{}{"ctx": params.Ctx}

	subject, err = d.render(action.ID+":subject", action.SubjectTemplate, tmplParams)
	if err != nil {
		return "", "", err
	}

	message, err = d.render(action.ID+":message", action.MessageTemplate, tmplParams)
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(message) == "" {
		return "", "", fmt.Errorf("message content missing")
	}
	return subject, message, nil
}

func (d *Dispatcher) render(cacheKey, src string, params map[string]interface{}) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}
	compiled, err := d.templates.GetOrCompile("action:"+cacheKey, func() (interface{}, error) {
		return template.New(cacheKey).Parse(src)
	})
	if err != nil {
		return "", err
	}
	tmpl, ok := compiled.(*template.Template)
	if !ok {
		return "", fmt.Errorf("cached template entry is not a *template.Template")
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (d *Dispatcher) publish(ctx context.Context, destinationID, subject, message string) (string, error) {
	cfg, err := d.resolve(destinationID)
	if err != nil {
		return "", err
	}
	if d.denied[cfg.Type] {
		return "", fmt.Errorf("destination type %q is denied", cfg.Type)
	}
	if len(d.allowed) > 0 && !d.allowed[cfg.Type] {
		return "", fmt.Errorf("destination type %q is not in the allow-list", cfg.Type)
	}

	dest, err := d.factory(cfg, d.logger)
	if err != nil {
		return "", err
	}

	limiter := d.limiterFor(destinationID)
	if err := limiter.Wait(ctx); err != nil {
		return "", err
	}

	breaker := d.breakerFor(destinationID)
	retryCfg := recovery.DefaultRetryConfig()
	if d.publishRetry != nil {
		retryCfg = d.publishRetry.Get()
	}

	var messageID string
	err = recovery.RetryWithCircuitBreaker(ctx, retryCfg, breaker, func(ctx context.Context) error {
		id, pubErr := dest.Publish(ctx, subject, message, nil, d.hostDenyList)
		if pubErr != nil {
			return pubErr
		}
		messageID = id
		return nil
	})
	return messageID, err
}

func (d *Dispatcher) limiterFor(destinationID string) *rate.Limiter {
	if v, ok := d.limiters.Load(destinationID); ok {
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(d.rateLimit, d.rateBurst)
	actual, _ := d.limiters.LoadOrStore(destinationID, limiter)
	return actual.(*rate.Limiter)
}

func (d *Dispatcher) breakerFor(destinationID string) *recovery.CircuitBreaker {
	if v, ok := d.breakers.Load(destinationID); ok {
		return v.(*recovery.CircuitBreaker)
	}
	breaker := recovery.NewCircuitBreaker(recovery.CircuitBreakerConfig{
		Name:         "destination:" + destinationID,
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
	})
	actual, _ := d.breakers.LoadOrStore(destinationID, breaker)
	return actual.(*recovery.CircuitBreaker)
}

// ParseThrottleUnit converts a shorthand unit string ("m", "h") read
// from monitor definitions into a time.Duration multiplier, mirroring
// the compact duration-literal style monitor definitions use.
func ParseThrottleUnit(unit string) (time.Duration, error) {
	switch strings.ToLower(unit) {
	case "s", "second", "seconds":
		return time.Second, nil
	case "m", "minute", "minutes":
		return time.Minute, nil
	case "h", "hour", "hours":
		return time.Hour, nil
	case "d", "day", "days":
		return 24 * time.Hour, nil
	default:
		if n, err := strconv.Atoi(unit); err == nil {
			return time.Duration(n) * time.Millisecond, nil
		}
		return 0, fmt.Errorf("unrecognized throttle unit %q", unit)
	}
}
