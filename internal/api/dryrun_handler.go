package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"monitorrunner/internal/models"
)

var validate = validator.New()

// throttleRequest mirrors models.Throttle with validator tags; Unit is
// a Go duration string ("5m") rather than models.Throttle's parsed
// time.Duration, since the wire format is JSON.
type throttleRequest struct {
	Value   int    `json:"value" validate:"required_with=Unit,min=0"`
	Unit    string `json:"unit"`
	Enabled bool   `json:"enabled"`
}

type actionRequest struct {
	ID              string           `json:"id" validate:"required"`
	Name            string           `json:"name"`
	DestinationID   string           `json:"destination_id" validate:"required"`
	SubjectTemplate string           `json:"subject_template"`
	MessageTemplate string           `json:"message_template" validate:"required"`
	Throttle        *throttleRequest `json:"throttle"`
}

type triggerRequest struct {
	ID        string          `json:"id" validate:"required"`
	Name      string          `json:"name" validate:"required"`
	Condition string          `json:"condition" validate:"required"`
	Actions   []actionRequest `json:"actions" validate:"dive"`
}

type searchInputRequest struct {
	QueryTemplate string   `json:"query_template" validate:"required"`
	Indices       []string `json:"indices" validate:"required,min=1"`
}

type inputRequest struct {
	Search searchInputRequest `json:"search"`
}

// dryrunRequest is the monitor definition submitted inline with the
// request, since monitor authoring/persistence is out of scope here:
// the path's :id is a label only, carried through to the response for
// correlation.
type dryrunRequest struct {
	Name        string           `json:"name" validate:"required"`
	Inputs      []inputRequest   `json:"inputs" validate:"required,min=1,dive"`
	Triggers    []triggerRequest `json:"triggers" validate:"required,min=1,dive"`
	PeriodStart *time.Time       `json:"period_start"`
	PeriodEnd   *time.Time       `json:"period_end"`
}

func (req *dryrunRequest) toMonitor(id string) *models.Monitor {
	monitor := &models.Monitor{
		ID:   id,
		Name: req.Name,
	}

	for _, in := range req.Inputs {
		monitor.Inputs = append(monitor.Inputs, models.Input{
			Kind: models.InputKindSearch,
			Search: models.SearchInput{
				QueryTemplate: in.Search.QueryTemplate,
				Indices:       in.Search.Indices,
			},
		})
	}

	for _, t := range req.Triggers {
		trigger := models.Trigger{ID: t.ID, Name: t.Name, Condition: t.Condition}
		for _, a := range t.Actions {
			action := models.Action{
				ID:              a.ID,
				Name:            a.Name,
				DestinationID:   a.DestinationID,
				SubjectTemplate: a.SubjectTemplate,
				MessageTemplate: a.MessageTemplate,
			}
			if a.Throttle != nil {
				unit, err := time.ParseDuration(a.Throttle.Unit)
				if err != nil {
					unit = time.Minute
				}
				action.Throttle = &models.Throttle{Value: a.Throttle.Value, Unit: unit, Enabled: a.Throttle.Enabled}
			}
			trigger.Actions = append(trigger.Actions, action)
		}
		monitor.Triggers = append(monitor.Triggers, trigger)
	}

	return monitor
}

type DryrunHandler struct {
	runner runnerFunc
	hub    broadcaster
	logger *logrus.Logger
	resp   *ResponseHelper
}

// runnerFunc matches runner.MonitorRunner.RunMonitor's signature
// directly so the handler does not import internal/runner.
type runnerFunc func(ctx context.Context, monitor *models.Monitor, periodStart, periodEnd time.Time, dryrun bool) models.MonitorRunResult

// broadcaster is the subset of websocket.Hub the handler needs to
// publish a completed dry run to live dashboard clients.
type broadcaster interface {
	BroadcastRunResult(result models.MonitorRunResult)
}

func NewDryrunHandler(runner runnerFunc, hub broadcaster, logger *logrus.Logger) *DryrunHandler {
	return &DryrunHandler{runner: runner, hub: hub, logger: logger, resp: NewResponseHelper()}
}

func (h *DryrunHandler) Run(c *gin.Context) {
	id := c.Param("id")

	var req dryrunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.resp.BadRequest(c, "invalid dry-run request body", err.Error())
		return
	}

	if err := validate.Struct(&req); err != nil {
		h.resp.BadRequest(c, "monitor definition failed validation", err.Error())
		return
	}

	now := time.Now()
	periodStart, periodEnd := now.Add(-5*time.Minute), now
	if req.PeriodStart != nil {
		periodStart = *req.PeriodStart
	}
	if req.PeriodEnd != nil {
		periodEnd = *req.PeriodEnd
	}

	monitor := req.toMonitor(id)
	result := h.runner(c.Request.Context(), monitor, periodStart, periodEnd, true)

	if h.hub != nil {
		h.hub.BroadcastRunResult(result)
	}

	if result.Error != nil {
		h.logger.WithError(result.Error).WithField("monitor_id", id).Warn("dry run returned a monitor-level error")
		c.JSON(http.StatusOK, APIResponse{Success: false, Data: result, Error: &APIError{Code: "MONITOR_ERROR", Message: result.Error.Error()}, Timestamp: now.UTC().Format(time.RFC3339)})
		return
	}

	h.resp.Success(c, result)
}
