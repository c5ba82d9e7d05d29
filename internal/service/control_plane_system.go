// Package service implements the control plane operations behind the HTTP API.
package service

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Resinat/Relayd/internal/availability"
	"github.com/Resinat/Relayd/internal/config"
	"github.com/Resinat/Relayd/internal/profile"
	"github.com/Resinat/Relayd/internal/relaylist"
	"github.com/Resinat/Relayd/internal/selector"
)

// ServiceError wraps an error with a code for API response mapping.
type ServiceError struct {
	Code    string // INVALID_ARGUMENT, NOT_FOUND, CONFLICT, NO_RELAYS_MATCH, EMPTY_RELAY_LIST, INTERNAL
	Message string
	Err     error
}

func (e *ServiceError) Error() string { return e.Message }
func (e *ServiceError) Unwrap() error { return e.Err }

func invalidArg(msg string) *ServiceError {
	return &ServiceError{Code: "INVALID_ARGUMENT", Message: msg}
}

func notFound(msg string) *ServiceError {
	return &ServiceError{Code: "NOT_FOUND", Message: msg}
}

func conflict(msg string) *ServiceError {
	return &ServiceError{Code: "CONFLICT", Message: msg}
}

func internal(msg string, err error) *ServiceError {
	return &ServiceError{Code: "INTERNAL", Message: msg, Err: err}
}

// SystemInfo contains version and runtime information.
type SystemInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime string    `json:"build_time"`
	StartedAt time.Time `json:"started_at"`
}

// UpdateTrigger requests an out-of-schedule relay list refresh.
type UpdateTrigger interface {
	Update()
}

// ControlPlaneService provides all control plane operations.
// Handlers call its methods; business logic lives here, not in handlers.
type ControlPlaneService struct {
	Store    *relaylist.Store
	Selector *selector.Selector
	Profiles *profile.Manager
	Gate     *availability.Gate
	Updater  UpdateTrigger
	EnvCfg   *config.EnvConfig
	Info     SystemInfo
	Logger   *zap.Logger
}

func (s *ControlPlaneService) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *ControlPlaneService) GetSystemInfo() SystemInfo {
	return s.Info
}

// ------------------------------------------------------------------
// Availability
// ------------------------------------------------------------------

var availabilityPatchAllowedFields = map[string]bool{
	"suspended": true,
	"offline":   true,
	"inactive":  true,
}

// AvailabilityResponse is the API view of the availability gate.
type AvailabilityResponse struct {
	availability.State
	BackgroundAllowed bool `json:"background_allowed"`
}

func availabilityToResponse(st availability.State) AvailabilityResponse {
	return AvailabilityResponse{State: st, BackgroundAllowed: st.BackgroundAllowed()}
}

func (s *ControlPlaneService) GetAvailability() AvailabilityResponse {
	return availabilityToResponse(s.Gate.State())
}

// PatchAvailability applies a constrained partial patch to the gate flags.
// The patch must be a non-empty object of booleans; null values are rejected.
func (s *ControlPlaneService) PatchAvailability(patchJSON json.RawMessage) (*AvailabilityResponse, error) {
	patch, verr := parseMergePatch(patchJSON)
	if verr != nil {
		return nil, verr
	}
	if err := patch.validateFields(availabilityPatchAllowedFields, func(key string) string {
		return fmt.Sprintf("field %q is read-only or unknown", key)
	}); err != nil {
		return nil, err
	}

	var p availability.Patch
	var err *ServiceError
	if p.Suspended, err = patch.optionalBool("suspended"); err != nil {
		return nil, err
	}
	if p.Offline, err = patch.optionalBool("offline"); err != nil {
		return nil, err
	}
	if p.Inactive, err = patch.optionalBool("inactive"); err != nil {
		return nil, err
	}

	resp := availabilityToResponse(s.Gate.Apply(p))
	return &resp, nil
}
