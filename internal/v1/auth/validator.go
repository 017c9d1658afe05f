// Package auth implements the handshake gate's collaborators: client
// version parsing and token validation against the Openplanet identity
// service.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/tmbingo/bingo-server/internal/v1/logging"
	"github.com/tmbingo/bingo-server/internal/v1/types"
)

// ValidatePath is the identity service's token validation endpoint,
// relative to the configured base URL.
const ValidatePath = "/api/auth/validate"

// RefusedError is returned when the identity service answered but
// rejected the token. It maps to the AuthRefused handshake code, as
// opposed to transport failures which map to AuthFailure.
type RefusedError struct {
	Reason string
}

func (e *RefusedError) Error() string {
	return e.Reason
}

// Validator validates opaque tokens by POSTing them to the identity
// service together with the server secret. External calls run behind a
// circuit breaker so a misbehaving identity service fails fast instead of
// stacking up blocked handshakes.
type Validator struct {
	client      *http.Client
	validateURL string
	secret      string
	cb          *gobreaker.CircuitBreaker
}

// NewValidator creates a Validator for the given identity service base URL.
func NewValidator(baseURL, secret string) *Validator {
	st := gobreaker.Settings{
		Name:    "identity-service",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logging.Warn(context.Background(), "identity service circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Validator{
		client:      &http.Client{Timeout: 10 * time.Second},
		validateURL: baseURL + ValidatePath,
		secret:      secret,
		cb:          gobreaker.NewCircuitBreaker(st),
	}
}

// responseAuth is the identity service's reply: either an identified
// account or an error string.
type responseAuth struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	TokenTime   int64  `json:"token_time"`
	Error       string `json:"error"`
}

// validationResult carries a refusal through the circuit breaker's
// success path: the identity service answering "no" is a healthy
// exchange and must not trip the breaker.
type validationResult struct {
	identity types.PlayerIdentity
	refused  *RefusedError
}

// Validate resolves a token to a player identity.
//
// A *RefusedError means the identity service rejected the token; any
// other error is a transport or protocol failure.
func (v *Validator) Validate(ctx context.Context, token string) (types.PlayerIdentity, error) {
	result, err := v.cb.Execute(func() (interface{}, error) {
		return v.validate(ctx, token)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return types.PlayerIdentity{}, fmt.Errorf("identity service unavailable: %w", err)
		}
		return types.PlayerIdentity{}, err
	}

	vr := result.(validationResult)
	if vr.refused != nil {
		return types.PlayerIdentity{}, vr.refused
	}
	return vr.identity, nil
}

func (v *Validator) validate(ctx context.Context, token string) (validationResult, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("token", token); err != nil {
		return validationResult{}, fmt.Errorf("building validation form: %w", err)
	}
	if err := form.WriteField("secret", v.secret); err != nil {
		return validationResult{}, fmt.Errorf("building validation form: %w", err)
	}
	if err := form.Close(); err != nil {
		return validationResult{}, fmt.Errorf("building validation form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.validateURL, &body)
	if err != nil {
		return validationResult{}, fmt.Errorf("building validation request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := v.client.Do(req)
	if err != nil {
		return validationResult{}, fmt.Errorf("identity service request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return validationResult{}, fmt.Errorf("reading identity service response: %w", err)
	}

	var parsed responseAuth
	if err := json.Unmarshal(data, &parsed); err != nil {
		return validationResult{}, fmt.Errorf("decoding identity service response: %w", err)
	}
	if parsed.Error != "" {
		return validationResult{refused: &RefusedError{Reason: parsed.Error}}, nil
	}
	if parsed.AccountID == "" {
		return validationResult{}, fmt.Errorf("identity service response missing account_id (status %d)", resp.StatusCode)
	}

	return validationResult{identity: types.PlayerIdentity{
		AccountID:   types.AccountIdType(parsed.AccountID),
		DisplayName: types.DisplayNameType(parsed.DisplayName),
	}}, nil
}

// DevValidator synthesizes an identity from the raw token without calling
// the identity service. It exists for local development when no server
// secret is configured; main logs its use at startup.
type DevValidator struct{}

func (DevValidator) Validate(_ context.Context, token string) (types.PlayerIdentity, error) {
	if token == "" {
		return types.PlayerIdentity{}, &RefusedError{Reason: "empty token"}
	}
	return types.PlayerIdentity{
		AccountID:   types.AccountIdType("dev:" + token),
		DisplayName: types.DisplayNameType(token),
	}, nil
}
