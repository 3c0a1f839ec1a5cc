// Package events defines the messages exchanged over the event bus: run and step
// lifecycle notifications, trigger events from producers and email requests.
package events

import (
	"errors"
	"time"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topics.
const (
	Topic         = "opsflow.events"   // lifecycle notifications and email requests
	TriggersTopic = "opsflow.triggers" // trigger events consumed by the dispatcher
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run lifecycle events.
	RunStartedEvent   EventType = "workflow.run.started"
	RunWaitingEvent   EventType = "workflow.run.waiting"
	RunResumedEvent   EventType = "workflow.run.resumed"
	RunCompletedEvent EventType = "workflow.run.completed"
	RunFailedEvent    EventType = "workflow.run.failed"
	RunCancelledEvent EventType = "workflow.run.cancelled"

	// Step attempt events.
	StepCompletedEvent EventType = "workflow.step.completed"
	StepFailedEvent    EventType = "workflow.step.failed"

	// Inbound trigger events.
	TriggerReceivedEvent EventType = "trigger.received"

	// Outbound effects.
	EmailRequestedEvent EventType = "email.requested"
)

var ErrEventNameRequired = errors.New("event_name is required")

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	WorkerID   string    `json:"worker_id,omitempty"`
}

func NewBaseEvent(eventType EventType, run *models.WorkflowRun) BaseEvent {
	base := BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}

	if run != nil {
		base.WorkflowID = run.WorkflowID
		base.RunID = run.ID
	}

	return base
}

type RunStarted struct {
	BaseEvent

	TriggerEventName string `json:"trigger_event_name"`
	FirstStepKey     string `json:"first_step_key"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunWaiting struct {
	BaseEvent

	StepKey  string    `json:"step_key"`
	ResumeAt time.Time `json:"resume_at"`
}

func (e RunWaiting) GetType() EventType {
	return RunWaitingEvent
}

type RunResumed struct {
	BaseEvent

	StepKey string `json:"step_key"`
	Reason  string `json:"reason"`
}

func (e RunResumed) GetType() EventType {
	return RunResumedEvent
}

type RunCompleted struct {
	BaseEvent

	DurationMs int64 `json:"duration_ms"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	StepKey    string `json:"step_key"`
	Error      string `json:"error"`
	DurationMs int64  `json:"duration_ms"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

type RunCancelled struct {
	BaseEvent

	StepKey string `json:"step_key,omitempty"`
}

func (e RunCancelled) GetType() EventType {
	return RunCancelledEvent
}

type StepCompleted struct {
	BaseEvent

	StepKey  string          `json:"step_key"`
	StepType models.StepType `json:"step_type"`
	Attempt  int             `json:"attempt"`
	Output   map[string]any  `json:"output,omitempty"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepFailed struct {
	BaseEvent

	StepKey   string          `json:"step_key"`
	StepType  models.StepType `json:"step_type"`
	Attempt   int             `json:"attempt"`
	Error     string          `json:"error"`
	WillRetry bool            `json:"will_retry"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}

// TriggerReceived is published by producers of domain events (payment webhooks,
// e-signature callbacks, registrations) and dispatched to subscribed workflows.
type TriggerReceived struct {
	BaseEvent

	EventName string         `json:"event_name"`
	Payload   map[string]any `json:"payload"`
}

func (e TriggerReceived) GetType() EventType {
	return TriggerReceivedEvent
}

func NewTriggerReceived(eventName string, payload map[string]any) *TriggerReceived {
	return &TriggerReceived{
		BaseEvent: NewBaseEvent(TriggerReceivedEvent, nil),
		EventName: eventName,
		Payload:   payload,
	}
}

func (e *TriggerReceived) Validate() error {
	if e.EventName == "" {
		return ErrEventNameRequired
	}

	return nil
}

// EmailRequested asks the mail service to deliver a templated email.
type EmailRequested struct {
	BaseEvent

	MessageID   string         `json:"message_id"`
	StepKey     string         `json:"step_key,omitempty"`
	To          string         `json:"to"`
	TemplateKey string         `json:"template_key"`
	Variables   map[string]any `json:"variables,omitempty"`
}

func (e EmailRequested) GetType() EventType {
	return EmailRequestedEvent
}

// TopicOf returns the topic an event type travels on.
func TopicOf(eventType EventType) string {
	if eventType == TriggerReceivedEvent {
		return TriggersTopic
	}

	return Topic
}

// New returns an empty event of the given type, ready to be decoded into.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case RunStartedEvent:
		return &RunStarted{}, true
	case RunWaitingEvent:
		return &RunWaiting{}, true
	case RunResumedEvent:
		return &RunResumed{}, true
	case RunCompletedEvent:
		return &RunCompleted{}, true
	case RunFailedEvent:
		return &RunFailed{}, true
	case RunCancelledEvent:
		return &RunCancelled{}, true
	case StepCompletedEvent:
		return &StepCompleted{}, true
	case StepFailedEvent:
		return &StepFailed{}, true
	case TriggerReceivedEvent:
		return &TriggerReceived{}, true
	case EmailRequestedEvent:
		return &EmailRequested{}, true
	default:
		return nil, false
	}
}
