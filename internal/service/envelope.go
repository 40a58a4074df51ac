package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/vk/dapgrid/internal/assembler"
	"github.com/vk/dapgrid/internal/model"
)

// Envelope codes.
const (
	CodeSuccess    = "SUCCESS"
	CodeValidation = "VALIDATION_ERROR"
	CodeProcessing = "PROCESSING_ERROR"
)

// Envelope messages.
const (
	MessageSuccess      = "Request processed successfully"
	MessageValidation   = "Validation failed"
	MessageInvalidJSON  = "Invalid JSON payload"
	MessageProcessing   = "Error processing request"
	MessageAssembly     = "Error creating assessment data"
	MessageEvaluation   = "Error evaluating rules"
	MessageShuttingDown = "Service is shutting down"
)

// Envelope is the single response shape of a submission.
type Envelope struct {
	Success       bool                 `json:"success"`
	Message       string               `json:"message"`
	Code          string               `json:"code"`
	Details       []string             `json:"details,omitempty"`
	RulesResponse *model.RulesResponse `json:"rulesResponse,omitempty"`
	RequestID     string               `json:"requestId"`

	// Status is the HTTP status the envelope is served with.
	Status int `json:"-"`
}

func success(id string, rr *model.RulesResponse) Envelope {
	return Envelope{
		Success:       true,
		Message:       MessageSuccess,
		Code:          CodeSuccess,
		RulesResponse: rr,
		RequestID:     id,
		Status:        http.StatusOK,
	}
}

func validationFailed(id, message string, details []string) Envelope {
	return Envelope{
		Message:   message,
		Code:      CodeValidation,
		Details:   details,
		RequestID: id,
		Status:    http.StatusBadRequest,
	}
}

func processingFailed(id, message, detail string, status int) Envelope {
	return Envelope{
		Message:   message,
		Code:      CodeProcessing,
		Details:   []string{detail},
		RequestID: id,
		Status:    status,
	}
}

// summarize maps a processing error onto the envelope message and the one
// detail line shown to callers. Raw error text is never exposed.
func summarize(err error) (message, detail string) {
	var pe *assembler.Error
	stage := assembler.StageInput
	if errors.As(err, &pe) {
		stage = pe.Stage
	}

	switch stage {
	case assembler.StageConvert, assembler.StageInput:
		message = MessageProcessing
	case assembler.StageEvaluate:
		message = MessageEvaluation
	default:
		message = MessageAssembly
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		detail = "A downstream service did not respond in time"
	case errors.Is(err, context.Canceled):
		detail = "The request was cancelled"
	case errors.Is(err, assembler.ErrUnrequestedEntity):
		detail = "Customer lookup returned a customer that was not requested"
	case errors.Is(err, assembler.ErrUnknownRole):
		detail = "Request mapping produced an unsupported customer role"
	default:
		switch stage {
		case assembler.StageConvert:
			detail = "Request could not be mapped to a customer request"
		case assembler.StageLookup:
			detail = "Customer lookup failed"
		case assembler.StageAssemble, assembler.StageDispatch:
			detail = "Assessment data could not be assembled"
		case assembler.StageEvaluate:
			detail = "Rules evaluation failed"
		default:
			detail = "Request could not be processed"
		}
	}
	return message, detail
}

// Err returns nil for a successful envelope and otherwise an error matching
// ErrValidation or assembler.ErrProcessing.
func (e Envelope) Err() error {
	switch e.Code {
	case CodeSuccess:
		return nil
	case CodeValidation:
		return fmt.Errorf("%w: %s", ErrValidation, e.Message)
	default:
		return fmt.Errorf("%w: %s", assembler.ErrProcessing, e.Message)
	}
}
