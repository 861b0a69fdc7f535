// Package dispatcher implements the challenge HTTP dispatcher of spec §4.7:
// given the (host, token) pair carried by an ACME HTTP-01 validation
// request, it returns the stored key authorization body. Error shapes
// mirror the teacher's core/response.go Code*/JsonResponseWithData
// envelope idiom.
package dispatcher

import (
	"context"
	"fmt"
	"net/http"

	"github.com/caasmo/certrenew/challenge"
	"github.com/caasmo/certrenew/domain"
)

const maxTokenLength = 256

// Code* names the dispatcher's error codes (spec §6.5).
const (
	CodeInputValidation  = "input_validation_error"
	CodeChallengeNotFound = "challenge_not_found"
	CodeChallengeFail    = "challenge_fail"
)

// Response is the JSON envelope an HTTP handler should write for a
// dispatcher error (spec §6.2: "on error, status from the error's HTTP
// code with JSON {error, code, details}").
type Response struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// InputValidationError is returned when host or token fails validation
// (spec §4.7: "Invalid ⇒ InputValidationError (400)"). It carries the
// per-field detail map the teacher's envelope shape expects, and keeps the
// originating field/reason attached to the error itself — fixing the bug
// spec §9 calls out ("routeHandler's catch branch assigns err.code on the
// original error but throws a newly constructed resErr, losing the code").
type InputValidationError struct {
	Details map[string]string
}

func (e *InputValidationError) Error() string {
	return fmt.Sprintf("dispatcher: input validation failed: %v", e.Details)
}

func (e *InputValidationError) Code() string      { return CodeInputValidation }
func (e *InputValidationError) StatusCode() int    { return http.StatusBadRequest }
func (e *InputValidationError) Response() Response {
	return Response{Error: e.Error(), Code: e.Code(), Details: e.Details}
}

// ChallengeNotFound is returned when no live challenge answer exists for
// the given (host, token) (spec §4.7: "Absent or without keyAuthorization
// ⇒ ChallengeNotFound (404)").
type ChallengeNotFound struct {
	Host, Token string
}

func (e *ChallengeNotFound) Error() string {
	return fmt.Sprintf("dispatcher: no challenge found for host=%q token=%q", e.Host, e.Token)
}
func (e *ChallengeNotFound) Code() string   { return CodeChallengeNotFound }
func (e *ChallengeNotFound) StatusCode() int { return http.StatusNotFound }
func (e *ChallengeNotFound) Response() Response {
	return Response{Error: e.Error(), Code: e.Code()}
}

// ChallengeFail wraps a transport/store error encountered while looking up
// the challenge (spec §4.7: "Transport error ⇒ ChallengeFail (500)").
type ChallengeFail struct {
	Cause error
}

func (e *ChallengeFail) Error() string { return fmt.Sprintf("dispatcher: challenge lookup failed: %v", e.Cause) }
func (e *ChallengeFail) Unwrap() error  { return e.Cause }
func (e *ChallengeFail) Code() string   { return CodeChallengeFail }
func (e *ChallengeFail) StatusCode() int { return http.StatusInternalServerError }
func (e *ChallengeFail) Response() Response {
	return Response{Error: e.Error(), Code: e.Code()}
}

// Dispatcher routes HTTP-01 validation requests to the challenge store.
type Dispatcher struct {
	store *challenge.Store
}

// New returns a Dispatcher reading challenge answers from store.
func New(store *challenge.Store) *Dispatcher {
	return &Dispatcher{store: store}
}

// RouteHandler implements spec §4.7's routeHandler(host, token): it
// validates both inputs, looks up the stored key authorization, and
// returns it, or one of InputValidationError / ChallengeNotFound /
// ChallengeFail.
func (d *Dispatcher) RouteHandler(ctx context.Context, host, token string) (string, error) {
	details := make(map[string]string)

	normalizedHost := host
	if host != "" {
		n, err := domain.Validate(host)
		if err != nil {
			details["host"] = err.Error()
		} else {
			normalizedHost = n
		}
	}

	if token == "" {
		details["token"] = "token must not be empty"
	} else if len(token) > maxTokenLength {
		details["token"] = fmt.Sprintf("token must be at most %d characters", maxTokenLength)
	}

	if len(details) > 0 {
		return "", &InputValidationError{Details: details}
	}

	result, err := d.store.Get(ctx, challenge.GetQuery{Domain: normalizedHost, Token: token})
	if err != nil {
		return "", &ChallengeFail{Cause: err}
	}
	if result == nil || result.KeyAuthorization == "" {
		return "", &ChallengeNotFound{Host: normalizedHost, Token: token}
	}

	return result.KeyAuthorization, nil
}
