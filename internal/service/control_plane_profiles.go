package service

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Resinat/Relayd/internal/constraint"
	"github.com/Resinat/Relayd/internal/profile"
	"github.com/Resinat/Relayd/internal/selector"
)

// ProfileResponse is the API view of a profile.
type ProfileResponse struct {
	ID        string                `json:"id"`
	Spec      profile.Spec          `json:"spec"`
	Query     constraint.RelayQuery `json:"query"`
	UpdatedAt string                `json:"updated_at"`
}

func profileToResponse(p *profile.Profile) ProfileResponse {
	return ProfileResponse{
		ID:        p.ID,
		Spec:      p.Spec,
		Query:     p.Query,
		UpdatedAt: p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func mapProfileError(err error) error {
	switch {
	case errors.Is(err, profile.ErrNotFound):
		return notFound("profile not found")
	case errors.Is(err, profile.ErrConflict):
		return conflict("profile name already exists")
	case errors.Is(err, profile.ErrReserved):
		return conflict(err.Error())
	default:
		return invalidArg(err.Error())
	}
}

func (s *ControlPlaneService) ListProfiles() []ProfileResponse {
	profiles := s.Profiles.List()
	out := make([]ProfileResponse, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, profileToResponse(p))
	}
	return out
}

func (s *ControlPlaneService) GetProfile(id string) (*ProfileResponse, error) {
	p, ok := s.Profiles.Get(id)
	if !ok {
		return nil, notFound("profile not found")
	}
	r := profileToResponse(p)
	return &r, nil
}

func (s *ControlPlaneService) CreateProfile(spec profile.Spec) (*ProfileResponse, error) {
	p, err := s.Profiles.Create(spec)
	if err != nil {
		return nil, mapProfileError(err)
	}
	s.log().Info("profile created", zap.String("id", p.ID), zap.String("name", p.Name()))
	r := profileToResponse(p)
	return &r, nil
}

// UpdateProfile replaces the spec of an existing profile.
func (s *ControlPlaneService) UpdateProfile(id string, spec profile.Spec) (*ProfileResponse, error) {
	p, err := s.Profiles.Update(id, spec)
	if err != nil {
		return nil, mapProfileError(err)
	}
	s.log().Info("profile updated", zap.String("id", p.ID), zap.String("name", p.Name()))
	r := profileToResponse(p)
	return &r, nil
}

func (s *ControlPlaneService) DeleteProfile(id string) error {
	if err := s.Profiles.Delete(id); err != nil {
		return mapProfileError(err)
	}
	s.log().Info("profile deleted", zap.String("id", id))
	return nil
}

// ------------------------------------------------------------------
// Selection
// ------------------------------------------------------------------

// SelectRelayRequest is the body of a select action.
type SelectRelayRequest struct {
	RetryAttempt uint32 `json:"retry_attempt"`
}

// SelectRelay picks a relay for the profile's query at the given retry attempt.
func (s *ControlPlaneService) SelectRelay(profileID string, req SelectRelayRequest) (*selector.SelectedRelay, error) {
	p, ok := s.Profiles.Get(profileID)
	if !ok {
		return nil, notFound("profile not found")
	}
	sel, err := s.Selector.SelectRelay(p.Query, req.RetryAttempt)
	switch {
	case err == nil:
		return sel, nil
	case errors.Is(err, selector.ErrNoRelaysMatch):
		return nil, &ServiceError{Code: "NO_RELAYS_MATCH", Message: err.Error(), Err: err}
	case errors.Is(err, selector.ErrEmptyRelayList):
		return nil, &ServiceError{Code: "EMPTY_RELAY_LIST", Message: err.Error(), Err: err}
	default:
		s.log().Error("relay selection failed", zap.String("profile_id", profileID), zap.Error(err))
		return nil, internal("relay selection failed", err)
	}
}
