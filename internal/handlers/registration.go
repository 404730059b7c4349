package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/danielgtaylor/huma/v2"
	"github.com/gdg-garage/camp-registration-api/internal/auth"
	"github.com/gdg-garage/camp-registration-api/internal/models"
	"github.com/gdg-garage/camp-registration-api/internal/registration"
)

type RegistrationHandler struct {
	manager     *registration.Manager
	authHandler *auth.AuthHandler
}

func NewRegistrationHandler(manager *registration.Manager, authHandler *auth.AuthHandler) *RegistrationHandler {
	return &RegistrationHandler{manager: manager, authHandler: authHandler}
}

type EventPath struct {
	EventID uint `path:"eventId" doc:"Event ID"`
}

type RegistrationPath struct {
	auth.AuthInput
	ID uint `path:"id" doc:"Registration ID"`
}

type AvailabilityResponse struct {
	Body registration.Availability
}

func (h *RegistrationHandler) HandleAvailability(ctx context.Context, input *EventPath) (*AvailabilityResponse, error) {
	avail, err := h.manager.Availability(ctx, input.EventID)
	if err != nil {
		return nil, registrationError(err)
	}
	return &AvailabilityResponse{Body: *avail}, nil
}

type ListRegistrationsRequest struct {
	auth.AuthInput
	EventID uint `path:"eventId" doc:"Event ID"`
}

type ListRegistrationsResponse struct {
	Body []models.Registration
}

func (h *RegistrationHandler) HandleList(ctx context.Context, input *ListRegistrationsRequest) (*ListRegistrationsResponse, error) {
	if _, err := h.authHandler.RequireRole(ctx, input.Cookie, models.RoleAdmin); err != nil {
		return nil, err
	}
	regs, err := h.manager.List(ctx, input.EventID)
	if err != nil {
		return nil, registrationError(err)
	}
	return &ListRegistrationsResponse{Body: regs}, nil
}

type CreateRegistrationRequest struct {
	auth.AuthInput
	EventID uint `path:"eventId" doc:"Event ID"`
	Body    struct {
		ParticipantID  uint `json:"participant_id" doc:"Participant to register" required:"true"`
		WaitlistIfFull bool `json:"waitlist_if_full,omitempty" doc:"Put the registration on the waitlist when the event is full"`
	}
}

type RegistrationResponse struct {
	Body models.Registration
}

func (h *RegistrationHandler) HandleCreate(ctx context.Context, input *CreateRegistrationRequest) (*RegistrationResponse, error) {
	if _, err := h.authHandler.RequireRole(ctx, input.Cookie, models.RoleAdmin); err != nil {
		return nil, err
	}

	reg, err := h.manager.Create(ctx, input.EventID, input.Body.ParticipantID)
	if input.Body.WaitlistIfFull && errors.Is(err, registration.ErrDuplicateRegistration) &&
		reg != nil && reg.Status == models.StatusPending {
		// Retry of a create that was refused because the event was full.
		err = h.fullOrDuplicate(ctx, input.EventID, err)
	}
	if errors.Is(err, registration.ErrRegistrationFull) {
		if !input.Body.WaitlistIfFull {
			return nil, huma.Error409Conflict(
				fmt.Sprintf("Event is full; registration %d is pending and can be waitlisted", reg.ID),
				&huma.ErrorDetail{Location: "registration_id", Value: reg.ID},
			)
		}
		reg, err = h.manager.PutOnWaitlist(ctx, reg.ID)
	}
	if err != nil {
		return nil, registrationError(err)
	}
	return &RegistrationResponse{Body: *reg}, nil
}

func (h *RegistrationHandler) fullOrDuplicate(ctx context.Context, eventID uint, dup error) error {
	avail, err := h.manager.Availability(ctx, eventID)
	if err != nil {
		return err
	}
	if avail.HasCapacity {
		return dup
	}
	return fmt.Errorf("event %d: %w", eventID, registration.ErrRegistrationFull)
}

func (h *RegistrationHandler) HandleConfirm(ctx context.Context, input *RegistrationPath) (*RegistrationResponse, error) {
	if _, err := h.authHandler.RequireRole(ctx, input.Cookie, models.RoleAdmin); err != nil {
		return nil, err
	}
	reg, err := h.manager.Confirm(ctx, input.ID)
	if err != nil {
		return nil, registrationError(err)
	}
	return &RegistrationResponse{Body: *reg}, nil
}

func (h *RegistrationHandler) HandleWaitlist(ctx context.Context, input *RegistrationPath) (*RegistrationResponse, error) {
	if _, err := h.authHandler.RequireRole(ctx, input.Cookie, models.RoleAdmin); err != nil {
		return nil, err
	}
	reg, err := h.manager.PutOnWaitlist(ctx, input.ID)
	if err != nil {
		return nil, registrationError(err)
	}
	return &RegistrationResponse{Body: *reg}, nil
}

type CancelResponse struct {
	Body struct {
		Registration models.Registration  `json:"registration"`
		Promoted     *models.Registration `json:"promoted,omitempty" doc:"Waitlisted registration confirmed into the freed seat"`
	}
}

func (h *RegistrationHandler) HandleCancel(ctx context.Context, input *RegistrationPath) (*CancelResponse, error) {
	if _, err := h.authHandler.RequireRole(ctx, input.Cookie, models.RoleAdmin); err != nil {
		return nil, err
	}
	res, err := h.manager.Cancel(ctx, input.ID)
	if err != nil {
		return nil, registrationError(err)
	}
	out := &CancelResponse{}
	out.Body.Registration = *res.Registration
	out.Body.Promoted = res.Promoted
	return out, nil
}

type HistoryResponse struct {
	Body []models.RegistrationHistory
}

func (h *RegistrationHandler) HandleHistory(ctx context.Context, input *RegistrationPath) (*HistoryResponse, error) {
	if _, err := h.authHandler.RequireRole(ctx, input.Cookie, models.RoleAdmin); err != nil {
		return nil, err
	}
	history, err := h.manager.History(ctx, input.ID)
	if err != nil {
		return nil, registrationError(err)
	}
	return &HistoryResponse{Body: history}, nil
}

func (h *RegistrationHandler) HandleRemove(ctx context.Context, input *RegistrationPath) (*struct{}, error) {
	if _, err := h.authHandler.RequireRole(ctx, input.Cookie, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	if err := h.manager.Remove(ctx, input.ID); err != nil {
		return nil, registrationError(err)
	}
	return nil, nil
}

func registrationError(err error) error {
	switch {
	case errors.Is(err, registration.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, registration.ErrDuplicateRegistration):
		return huma.Error409Conflict("Participant is already registered for this event")
	case errors.Is(err, registration.ErrRegistrationFull):
		return huma.Error409Conflict("Event is full")
	case errors.Is(err, models.ErrInvalidTransition):
		return huma.Error409Conflict(err.Error())
	}
	log.Printf("Registration error: %v", err)
	return huma.Error500InternalServerError("Failed to process registration")
}
