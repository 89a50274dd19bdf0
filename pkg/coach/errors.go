package coach

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error codes as constants
const (
	ErrCodeMediaAcquisition  = "MEDIA_ACQUISITION_FAILED"
	ErrCodeConnectionFailed  = "CONNECTION_FAILED"
	ErrCodeInferenceFailed   = "INFERENCE_FAILED"
	ErrCodeMalformedResponse = "MALFORMED_RESPONSE"
	ErrCodeMalformedPayload  = "MALFORMED_PAYLOAD"
	ErrCodeTruncatedAudio    = "TRUNCATED_AUDIO"
	ErrCodeConfigInvalid     = "CONFIG_INVALID"
	ErrCodeUnknown           = "UNKNOWN_ERROR"
)

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrMediaAcquisition  = &CoachError{Code: ErrCodeMediaAcquisition, Message: "media acquisition failed"}
	ErrConnection        = &CoachError{Code: ErrCodeConnectionFailed, Message: "connection failed"}
	ErrInference         = &CoachError{Code: ErrCodeInferenceFailed, Message: "inference failed"}
	ErrMalformedResponse = &CoachError{Code: ErrCodeMalformedResponse, Message: "malformed response"}
	ErrMalformedPayload  = &CoachError{Code: ErrCodeMalformedPayload, Message: "malformed payload"}
	ErrTruncatedAudio    = &CoachError{Code: ErrCodeTruncatedAudio, Message: "truncated audio"}
	ErrConfigInvalid     = &CoachError{Code: ErrCodeConfigInvalid, Message: "invalid configuration"}
)

// CoachError carries a stable code plus free-form details about the failure.
type CoachError struct {
	Message   string
	Code      string
	Timestamp time.Time
	Details   map[string]interface{}
	err       error
}

// NewCoachError creates a new CoachError
func NewCoachError(message, code string) *CoachError {
	return &CoachError{
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func (e *CoachError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Code != "" {
		sb.WriteString(" (" + e.Code + ")")
	}
	if e.err != nil {
		sb.WriteString(": " + e.err.Error())
	}
	return sb.String()
}

func (e *CoachError) Unwrap() error {
	return e.err
}

// Is reports whether target is a CoachError with the same code.
func (e *CoachError) Is(target error) bool {
	t, ok := target.(*CoachError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// AddDetail adds a detail to the error and returns it for chaining
func (e *CoachError) AddDetail(key string, value interface{}) *CoachError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// GetDetail returns a detail from the error
func (e *CoachError) GetDetail(key string) (interface{}, bool) {
	if e.Details == nil {
		return nil, false
	}
	value, exists := e.Details[key]
	return value, exists
}

func (e *CoachError) withCause(err error) *CoachError {
	e.err = err
	return e
}

// Specific error creators with common codes
func NewMediaAcquisitionError(message string, cause error) *CoachError {
	return NewCoachError(message, ErrCodeMediaAcquisition).withCause(cause)
}

// NewConnectionError creates a live connection error
func NewConnectionError(message string, cause error) *CoachError {
	return NewCoachError(message, ErrCodeConnectionFailed).withCause(cause)
}

// NewInferenceError creates a model request error
func NewInferenceError(message string, cause error) *CoachError {
	return NewCoachError(message, ErrCodeInferenceFailed).withCause(cause)
}

// NewMalformedResponseError creates an error for unusable model output
func NewMalformedResponseError(message string, cause error) *CoachError {
	return NewCoachError(message, ErrCodeMalformedResponse).withCause(cause)
}

// NewMalformedPayloadError creates an error for undecodable input data
func NewMalformedPayloadError(message string, cause error) *CoachError {
	return NewCoachError(message, ErrCodeMalformedPayload).withCause(cause)
}

// NewTruncatedAudioError reports PCM data that does not fill whole frames
func NewTruncatedAudioError(byteLen, channels int) *CoachError {
	return NewCoachError(
		fmt.Sprintf("audio length %d is not a multiple of %d", byteLen, 2*channels),
		ErrCodeTruncatedAudio,
	).AddDetail("bytes", byteLen).AddDetail("channels", channels)
}

// NewConfigError creates a configuration error
func NewConfigError(message string) *CoachError {
	return NewCoachError(message, ErrCodeConfigInvalid)
}

// WrapError wraps any error as a CoachError. Existing CoachErrors pass through.
func WrapError(err error, code string) *CoachError {
	if err == nil {
		return nil
	}
	var ce *CoachError
	if errors.As(err, &ce) {
		return ce
	}
	return NewCoachError(err.Error(), code).withCause(err)
}

// IsErrorCode reports whether err (or anything it wraps) is a CoachError with code.
func IsErrorCode(err error, code string) bool {
	var ce *CoachError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == code
}

// UserMessage converts an error into the single message shown to the user.
// The full error is expected to be logged separately.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ce *CoachError
	if !errors.As(err, &ce) {
		return "Something went wrong. Please try again."
	}
	switch ce.Code {
	case ErrCodeMediaAcquisition:
		return "Could not access the microphone or speakers. Check that an audio device is connected and permitted."
	case ErrCodeConnectionFailed:
		return "Could not reach the live coach. Please try again."
	case ErrCodeInferenceFailed, ErrCodeMalformedResponse, ErrCodeMalformedPayload:
		return "Failed to analyze board. Please ensure it's a clear screenshot of a chess board."
	case ErrCodeTruncatedAudio:
		return "Received incomplete audio from the coach."
	case ErrCodeConfigInvalid:
		return "The coach is misconfigured: " + ce.Message
	default:
		return "Something went wrong. Please try again."
	}
}
