// Package models defines the data shapes the monitor runner pipeline
// operates on: monitors, their inputs/triggers/actions, the alerts the
// pipeline produces, and the per-run result types surfaced to callers.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB is a flexible JSON-backed column, kept from the teacher's gorm
// persistence style for fields that don't need their own columns.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONB)
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(bytes, j)
}

// NoID marks an unsaved or dry-run monitor. Alerts of monitors carrying
// this ID are never persisted; their actions still publish unless the
// run is a dry run.
const NoID = "__NO_ID__"

// Monitor is a scheduled definition combining inputs, triggers, and actions.
type Monitor struct {
	ID       string
	Name     string
	Owner    *MonitorUser // nil => run under the legacy admin role set
	Inputs   []Input
	Triggers []Trigger
}

// MonitorUser carries the backend roles the security context is
// injected with when the monitor executes its inputs.
type MonitorUser struct {
	Name         string
	BackendRoles []string
}

// InputKind tags the variant held by an Input.
type InputKind int

const (
	InputKindSearch InputKind = iota
	InputKindUnsupported
)

// Input is a tagged variant. The runner only understands SearchInput;
// any other kind fails collection with a fatal, non-retryable error.
type Input struct {
	Kind   InputKind
	Search SearchInput
}

// SearchInput is a query template plus the index patterns it targets.
type SearchInput struct {
	QueryTemplate string
	Indices       []string
}

// Trigger is a boolean condition over input results that, when true,
// may create or update an alert and dispatch actions.
type Trigger struct {
	ID        string
	Name      string
	Condition string
	Actions   []Action
}

// Throttle suppresses repeated action dispatch within a time window.
type Throttle struct {
	Value   int
	Unit    time.Duration
	Enabled bool
}

// Action is a rendered message delivery to an external destination.
type Action struct {
	ID              string
	Name            string
	DestinationID   string
	SubjectTemplate string
	MessageTemplate string
	Throttle        *Throttle
}

// AlertState is the alert lifecycle state.
type AlertState string

const (
	AlertStateActive       AlertState = "ACTIVE"
	AlertStateAcknowledged AlertState = "ACKNOWLEDGED"
	AlertStateCompleted    AlertState = "COMPLETED"
	AlertStateError        AlertState = "ERROR"
	AlertStateDeleted      AlertState = "DELETED"
)

// MaxErrorHistory bounds Alert.ErrorHistory, newest entry first.
const MaxErrorHistory = 10

// SchemaVersion is stamped on every alert the composer produces.
const SchemaVersion = 1

// AlertError is one entry in an alert's bounded error history.
type AlertError struct {
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// ActionExecutionResult tracks one action's dispatch history within an alert.
type ActionExecutionResult struct {
	ActionID          string    `json:"action_id"`
	LastExecutionTime time.Time `json:"last_execution_time"`
	ThrottledCount    int       `json:"throttled_count"`
}

// Alert is the durable record of a trigger's firing state. Persisted
// by internal/store across the ALERT_INDEX/HISTORY_WRITE_INDEX pair
// via store.AlertRow/AlertHistoryRow — this type is the pure domain
// shape the rest of the pipeline operates on.
type Alert struct {
	ID                     string
	MonitorID              string
	TriggerID              string
	StartTime              time.Time
	LastNotificationTime   *time.Time
	EndTime                *time.Time
	State                  AlertState
	ErrorMessage           *string
	ErrorHistory           []AlertError
	ActionExecutionResults []ActionExecutionResult
	SchemaVersion          int
}

// Clone returns a copy safe for the composer to mutate without
// touching the version the store loaded.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	clone := *a
	if a.LastNotificationTime != nil {
		t := *a.LastNotificationTime
		clone.LastNotificationTime = &t
	}
	if a.EndTime != nil {
		t := *a.EndTime
		clone.EndTime = &t
	}
	if a.ErrorMessage != nil {
		m := *a.ErrorMessage
		clone.ErrorMessage = &m
	}
	clone.ErrorHistory = append([]AlertError(nil), a.ErrorHistory...)
	clone.ActionExecutionResults = append([]ActionExecutionResult(nil), a.ActionExecutionResults...)
	return &clone
}

// IsOngoing reports whether the alert still needs future reconciliation.
func (a *Alert) IsOngoing() bool {
	switch a.State {
	case AlertStateActive, AlertStateAcknowledged, AlertStateError:
		return true
	default:
		return false
	}
}

// MonitorRunResult is the aggregate outcome of one runMonitor invocation.
type MonitorRunResult struct {
	MonitorName    string                       `json:"monitor_name"`
	PeriodStart    time.Time                    `json:"period_start"`
	PeriodEnd      time.Time                    `json:"period_end"`
	Error          error                        `json:"error,omitempty"`
	InputResults   []InputRunResult             `json:"input_results"`
	TriggerResults map[string]TriggerRunResult  `json:"trigger_results"`
}

// InputRunResult is the outcome of collecting one input.
type InputRunResult struct {
	Results []map[string]interface{} `json:"results"`
	Error   error                    `json:"error,omitempty"`
}

// TriggerRunResult is the outcome of evaluating one trigger.
type TriggerRunResult struct {
	TriggerName   string                     `json:"trigger_name"`
	Triggered     bool                       `json:"triggered"`
	Error         error                      `json:"error,omitempty"`
	ActionResults map[string]ActionRunResult `json:"action_results"`
}

// ActionRunResult is the outcome of dispatching one action.
type ActionRunResult struct {
	ActionID      string            `json:"action_id"`
	Name          string            `json:"name"`
	Output        map[string]string `json:"output,omitempty"`
	Throttled     bool              `json:"throttled"`
	ExecutionTime time.Time         `json:"execution_time"`
	Error         error             `json:"error,omitempty"`
}
