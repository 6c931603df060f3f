// Package collector executes a monitor's search-shaped inputs against
// the cluster and converts the responses into generic key→value maps
// for the trigger evaluator to consume.
//
// No Elasticsearch/OpenSearch client library exists anywhere in this
// module's dependency corpus, so the search transport is a plain
// net/http + encoding/json client, grounded on the teacher's own
// external-HTTP-call shape (internal/notification/dingtalk.go,
// sms.go): a long-lived *http.Client with a fixed timeout, JSON
// request/response.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"monitorrunner/internal/cache"
	apperrors "monitorrunner/internal/errors"
	"monitorrunner/internal/models"
)

// contextKey avoids collisions with other packages' context values.
type contextKey string

const (
	keyMonitorID     contextKey = "monitor_id"
	keyRoles         contextKey = "roles"
	keyThreadContext contextKey = "thread_context"
	keyBypassSystemIndex contextKey = "bypass_system_index"
)

// SecurityContext is the (monitorId, roles, threadContext) bundle
// injected before a standard-variant search call, per spec.md §4.3.
type SecurityContext struct {
	MonitorID     string
	Roles         []string
	ThreadContext map[string]string
}

// InjectSecurityContext carries the security context through
// downstream HTTP calls as context.Context values, mirroring how the
// teacher's middleware threads request-scoped values via gin.Context.
func InjectSecurityContext(ctx context.Context, sc SecurityContext) context.Context {
	ctx = context.WithValue(ctx, keyMonitorID, sc.MonitorID)
	ctx = context.WithValue(ctx, keyRoles, sc.Roles)
	ctx = context.WithValue(ctx, keyThreadContext, sc.ThreadContext)
	return ctx
}

// RolesForMonitor resolves the backend roles a monitor's inputs
// should execute under: the owner's roles, or a legacy admin role set
// if the monitor has no owner.
func RolesForMonitor(m *models.Monitor, legacyAdminRoles []string) []string {
	if m.Owner == nil {
		return legacyAdminRoles
	}
	return m.Owner.BackendRoles
}

// Collector executes SearchInputs against the cluster's search endpoint.
type Collector struct {
	client      *http.Client
	baseURL     string
	templates   *cache.Compiled
	logger      *logrus.Logger
	isADMonitor func(*models.Monitor) bool
}

// New builds a Collector. baseURL is the cluster's search endpoint
// root (e.g. "http://localhost:9200"); isADMonitor identifies the
// anomaly-detector variant per spec.md §4.3 (nil means "never AD").
func New(baseURL string, templates *cache.Compiled, logger *logrus.Logger, isADMonitor func(*models.Monitor) bool) *Collector {
	if logger == nil {
		logger = logrus.New()
	}
	if isADMonitor == nil {
		isADMonitor = func(*models.Monitor) bool { return false }
	}
	return &Collector{
		client:      &http.Client{Timeout: 30 * time.Second},
		baseURL:     baseURL,
		templates:   templates,
		logger:      logger,
		isADMonitor: isADMonitor,
	}
}

// Collect runs every input of a monitor in declaration order,
// returning one InputRunResult per input. Errors never propagate past
// this call — each failure is captured into its InputRunResult.
func (c *Collector) Collect(ctx context.Context, monitor *models.Monitor, periodStart, periodEnd time.Time, legacyAdminRoles []string) []models.InputRunResult {
	results := make([]models.InputRunResult, 0, len(monitor.Inputs))

	roles := RolesForMonitor(monitor, legacyAdminRoles)
	searchCtx := InjectSecurityContext(ctx, SecurityContext{MonitorID: monitor.ID, Roles: roles})

	for i, input := range monitor.Inputs {
		res := c.collectOne(searchCtx, monitor, i, input, periodStart, periodEnd)
		results = append(results, res)
	}
	return results
}

func (c *Collector) collectOne(ctx context.Context, monitor *models.Monitor, index int, input models.Input, periodStart, periodEnd time.Time) models.InputRunResult {
	if input.Kind != models.InputKindSearch {
		return models.InputRunResult{Error: apperrors.NewFatalUnsupportedInput(input.Kind)}
	}

	body, err := c.renderQuery(monitor.ID, index, input.Search.QueryTemplate, periodStart, periodEnd)
	if err != nil {
		return models.InputRunResult{Error: apperrors.NewInputSearchError(err, index)}
	}

	if c.isADMonitor(monitor) {
		var adErr error
		ctx, body, adErr = c.prepareADSearch(ctx, monitor, body)
		if adErr != nil {
			return models.InputRunResult{Error: apperrors.NewInputSearchError(adErr, index)}
		}
	}

	results, err := c.execute(ctx, monitor.ID, input.Search.Indices, body)
	if err != nil {
		return models.InputRunResult{Error: apperrors.NewInputSearchError(err, index)}
	}
	return models.InputRunResult{Results: results}
}

// renderQuery compiles (with caching) and instantiates the input's
// query template against {period_start, period_end} in epoch millis,
// per spec.md §4.3 step 1-2.
func (c *Collector) renderQuery(monitorID string, inputIndex int, tmplSrc string, periodStart, periodEnd time.Time) ([]byte, error) {
	key := fmt.Sprintf("query:%s:%d:%x", monitorID, inputIndex, hashString(tmplSrc))
	tmpl, err := c.templates.GetOrCompile(key, func() (interface{}, error) {
		return compileTemplate(key, tmplSrc)
	})
	if err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"period_start": strconv.FormatInt(periodStart.UnixMilli(), 10),
		"period_end":   strconv.FormatInt(periodEnd.UnixMilli(), 10),
	}
	return executeTemplate(tmpl, params)
}

// prepareADSearch implements the anomaly-detector variant of spec.md
// §4.3: stash the security context (bypass system-index protection,
// restored on every exit path) and inject a terms filter on the
// monitor owner's backend roles into the rendered query.
func (c *Collector) prepareADSearch(ctx context.Context, monitor *models.Monitor, body []byte) (_ context.Context, _ []byte, err error) {
	stashed := context.WithValue(ctx, keyBypassSystemIndex, true)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic preparing AD search: %v", r)
		}
	}()

	var roles []string
	if monitor.Owner != nil {
		roles = monitor.Owner.BackendRoles
	}
	rewritten, rewriteErr := injectBackendRolesFilter(body, roles)
	if rewriteErr != nil {
		return ctx, nil, rewriteErr
	}
	return stashed, rewritten, nil
}

// execute submits the search (suspending the caller until the
// response arrives, per spec.md §5) and converts it into a nested map.
func (c *Collector) execute(ctx context.Context, monitorID string, indices []string, body []byte) ([]map[string]interface{}, error) {
	searchURL := c.searchURL(indices, monitorID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if tc, ok := ctx.Value(keyThreadContext).(map[string]string); ok {
		for k, v := range tc {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded struct {
		Hits struct {
			Hits []struct {
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, err
	}

	results := make([]map[string]interface{}, 0, len(decoded.Hits.Hits))
	for _, h := range decoded.Hits.Hits {
		results = append(results, h.Source)
	}
	return results, nil
}

// searchURL builds the cluster search endpoint with a routing query
// parameter pinned to the monitor id, so a monitor's searches always
// land on the same shard across runs.
func (c *Collector) searchURL(indices []string, monitorID string) string {
	joined := ""
	for i, idx := range indices {
		if i > 0 {
			joined += ","
		}
		joined += idx
	}
	q := url.Values{}
	q.Set("routing", monitorID)
	return c.baseURL + "/" + joined + "/_search?" + q.Encode()
}
