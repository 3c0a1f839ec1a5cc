package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrUnknownStepType is returned when a step type has no config variant.
var ErrUnknownStepType = errors.New("unknown step type")

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// StepConfig is the typed, template-resolved configuration of a step. Each step
// type has exactly one implementation.
type StepConfig interface {
	StepType() StepType
}

// SendEmailConfig configures a SEND_EMAIL step.
type SendEmailConfig struct {
	TemplateKey  string         `json:"templateKey"  validate:"required"`
	ToExpression string         `json:"toExpression" validate:"required"`
	Variables    map[string]any `json:"variables"`
}

func (SendEmailConfig) StepType() StepType { return StepTypeSendEmail }

// CallInternalAPIConfig configures a CALL_INTERNAL_API step.
type CallInternalAPIConfig struct {
	Method   string `json:"method"   validate:"required"`
	Endpoint string `json:"endpoint" validate:"required"`
	Body     any    `json:"body"`
}

func (CallInternalAPIConfig) StepType() StepType { return StepTypeCallInternalAPI }

// CallWebhookConfig configures a CALL_WEBHOOK step.
type CallWebhookConfig struct {
	URL     string            `json:"url"     validate:"required"`
	Method  string            `json:"method"  validate:"required"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body"`
}

func (CallWebhookConfig) StepType() StepType { return StepTypeCallWebhook }

// DelayUnit is the unit of a DELAY duration.
type DelayUnit string

const (
	DelayUnitSeconds DelayUnit = "seconds"
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
)

// DelayConfig configures a DELAY step.
type DelayConfig struct {
	Duration Number    `json:"duration" validate:"gt=0"`
	Unit     DelayUnit `json:"unit"     validate:"required,oneof=seconds minutes hours days"`
}

func (DelayConfig) StepType() StepType { return StepTypeDelay }

// Interval converts the configured duration into a time.Duration.
func (c DelayConfig) Interval() time.Duration {
	var unit time.Duration

	switch c.Unit {
	case DelayUnitSeconds:
		unit = time.Second
	case DelayUnitMinutes:
		unit = time.Minute
	case DelayUnitHours:
		unit = time.Hour
	case DelayUnitDays:
		unit = 24 * time.Hour
	}

	return time.Duration(float64(c.Duration) * float64(unit))
}

// Operator is a CONDITIONAL comparison operator.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorContains    Operator = "contains"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorExists      Operator = "exists"
	OperatorNotExists   Operator = "not_exists"
)

// ConditionalConfig configures a CONDITIONAL step. Field is a dot path into the
// run context, not a template.
type ConditionalConfig struct {
	Field    string   `json:"field"    validate:"required"`
	Operator Operator `json:"operator" validate:"required,oneof=equals not_equals contains greater_than less_than exists not_exists"`
	Value    any      `json:"value"`
}

func (ConditionalConfig) StepType() StepType { return StepTypeConditional }

// SetVariableConfig configures a SET_VARIABLE step. ValueExpression holds the
// already-resolved value.
type SetVariableConfig struct {
	VariableName    string `json:"variableName"    validate:"required"`
	ValueExpression any    `json:"valueExpression"`
}

func (SetVariableConfig) StepType() StepType { return StepTypeSetVariable }

// LogConfig configures a LOG step.
type LogConfig struct {
	Level   string `json:"level"   validate:"omitempty,oneof=debug info warn error"`
	Message string `json:"message" validate:"required"`
}

func (LogConfig) StepType() StepType { return StepTypeLog }

// DecodeStepConfig converts a resolved config map into the typed config of the
// given step type and validates required keys.
func DecodeStepConfig(stepType StepType, raw map[string]any) (StepConfig, error) {
	var target StepConfig

	switch stepType {
	case StepTypeSendEmail:
		target = &SendEmailConfig{}
	case StepTypeCallInternalAPI:
		target = &CallInternalAPIConfig{}
	case StepTypeCallWebhook:
		target = &CallWebhookConfig{}
	case StepTypeDelay:
		target = &DelayConfig{}
	case StepTypeConditional:
		target = &ConditionalConfig{}
	case StepTypeSetVariable:
		target = &SetVariableConfig{}
	case StepTypeLog:
		target = &LogConfig{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepType, stepType)
	}

	if raw == nil {
		raw = map[string]any{}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s config: %w", stepType, err)
	}

	err = json.Unmarshal(data, target)
	if err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", stepType, err)
	}

	err = configValidator.Struct(target)
	if err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", stepType, describeValidation(err))
	}

	return dereference(target, raw), nil
}

// dereference returns the value form of the decoded config. Free-form values are
// taken from raw so a resolved number or object keeps its original Go type.
func dereference(cfg StepConfig, raw map[string]any) StepConfig {
	switch c := cfg.(type) {
	case *SendEmailConfig:
		if variables, ok := raw["variables"].(map[string]any); ok {
			c.Variables = variables
		}

		return *c
	case *CallInternalAPIConfig:
		c.Body = raw["body"]

		return *c
	case *CallWebhookConfig:
		c.Body = raw["body"]

		return *c
	case *DelayConfig:
		return *c
	case *ConditionalConfig:
		c.Value = raw["value"]

		return *c
	case *SetVariableConfig:
		c.ValueExpression = raw["valueExpression"]

		return *c
	case *LogConfig:
		return *c
	}

	return cfg
}

func describeValidation(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		messages = append(messages, fmt.Sprintf("field %s failed %q", fieldErr.Field(), fieldErr.Tag()))
	}

	return errors.New(strings.Join(messages, "; "))
}

// Number accepts a JSON number or a numeric string, which is what a template
// embedded in text resolves to.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	text := strings.Trim(string(data), `"`)
	if text == "" || text == "null" {
		*n = 0

		return nil
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return fmt.Errorf("%q is not a number", text)
	}

	*n = Number(value)

	return nil
}
