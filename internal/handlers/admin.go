package handlers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/gdg-garage/camp-registration-api/internal/auth"
	"github.com/gdg-garage/camp-registration-api/internal/models"
	"github.com/gdg-garage/camp-registration-api/internal/store"
)

// AdminHandler manages events, participants and staff accounts.
type AdminHandler struct {
	registrations store.RegistrationStore
	users         store.CredentialStore
	authHandler   *auth.AuthHandler
}

func NewAdminHandler(registrations store.RegistrationStore, users store.CredentialStore, authHandler *auth.AuthHandler) *AdminHandler {
	return &AdminHandler{registrations: registrations, users: users, authHandler: authHandler}
}

type CreateEventRequest struct {
	auth.AuthInput
	Body struct {
		Name      string    `json:"name" required:"true"`
		Slug      string    `json:"slug" required:"true" doc:"Unique URL-friendly name"`
		StartDate time.Time `json:"start_date,omitempty"`
		EndDate   time.Time `json:"end_date,omitempty"`
		Capacity  int       `json:"capacity,omitempty" minimum:"0" doc:"Confirmed seats; 0 means unlimited"`
	}
}

type EventResponse struct {
	Body models.Event
}

func (h *AdminHandler) HandleCreateEvent(ctx context.Context, input *CreateEventRequest) (*EventResponse, error) {
	if _, err := h.authHandler.RequireRole(ctx, input.Cookie, models.RoleAdmin); err != nil {
		return nil, err
	}
	if input.Body.EndDate.Before(input.Body.StartDate) {
		return nil, huma.Error400BadRequest("End date cannot be before start date")
	}

	event := models.Event{
		Name:      input.Body.Name,
		Slug:      input.Body.Slug,
		StartDate: input.Body.StartDate,
		EndDate:   input.Body.EndDate,
		Capacity:  input.Body.Capacity,
		Active:    true,
	}
	if err := h.registrations.CreateEvent(ctx, &event); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, huma.Error409Conflict("An event with this slug already exists")
		}
		return nil, huma.Error500InternalServerError("Failed to create event: " + err.Error())
	}
	return &EventResponse{Body: event}, nil
}

type EventIDRequest struct {
	auth.AuthInput
	EventID uint `path:"eventId" doc:"Event ID"`
}

func (h *AdminHandler) HandleDeleteEvent(ctx context.Context, input *EventIDRequest) (*struct{}, error) {
	user, err := h.authHandler.RequireRole(ctx, input.Cookie, models.RoleSuperAdmin)
	if err != nil {
		return nil, err
	}
	if err := h.registrations.DeleteEvent(ctx, input.EventID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, huma.Error404NotFound("Event not found")
		}
		return nil, huma.Error500InternalServerError("Failed to delete event: " + err.Error())
	}
	log.Printf("Event %d deleted by user %d", input.EventID, user.ID)
	return nil, nil
}

type CreateParticipantRequest struct {
	auth.AuthInput
	Body struct {
		FirstName        string `json:"first_name" required:"true"`
		LastName         string `json:"last_name" required:"true"`
		Email            string `json:"email,omitempty"`
		FoodRestrictions string `json:"food_restrictions,omitempty" doc:"Food restrictions or allergies"`
	}
}

type ParticipantResponse struct {
	Body models.Participant
}

func (h *AdminHandler) HandleCreateParticipant(ctx context.Context, input *CreateParticipantRequest) (*ParticipantResponse, error) {
	if _, err := h.authHandler.RequireRole(ctx, input.Cookie, models.RoleAdmin); err != nil {
		return nil, err
	}
	p := models.Participant{
		FirstName:        input.Body.FirstName,
		LastName:         input.Body.LastName,
		Email:            input.Body.Email,
		FoodRestrictions: input.Body.FoodRestrictions,
	}
	if err := h.registrations.CreateParticipant(ctx, &p); err != nil {
		return nil, huma.Error500InternalServerError("Failed to create participant: " + err.Error())
	}
	return &ParticipantResponse{Body: p}, nil
}

type ListUsersResponse struct {
	Body []auth.UserBody
}

func (h *AdminHandler) HandleListUsers(ctx context.Context, input *auth.AuthInput) (*ListUsersResponse, error) {
	if _, err := h.authHandler.RequireRole(ctx, input.Cookie, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	users, err := h.users.ListUsers(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list users: " + err.Error())
	}
	out := &ListUsersResponse{Body: make([]auth.UserBody, 0, len(users))}
	for i := range users {
		out.Body = append(out.Body, auth.NewUserBody(&users[i]))
	}
	return out, nil
}

type CreateUserRequest struct {
	auth.AuthInput
	Body struct {
		Email     string      `json:"email" required:"true"`
		FirstName string      `json:"first_name,omitempty"`
		LastName  string      `json:"last_name,omitempty"`
		Role      models.Role `json:"role,omitempty" enum:"ADMIN,SUPERADMIN"`
		Password  string      `json:"password,omitempty" doc:"Generated when empty"`
	}
}

type CreateUserResponse struct {
	Body struct {
		User     auth.UserBody `json:"user"`
		Password string        `json:"password" doc:"Initial password; must be changed on first login"`
	}
}

func (h *AdminHandler) HandleCreateUser(ctx context.Context, input *CreateUserRequest) (*CreateUserResponse, error) {
	if _, err := h.authHandler.RequireRole(ctx, input.Cookie, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	user, password, err := h.authHandler.Manager().CreateUser(ctx, auth.NewUser{
		Email:     input.Body.Email,
		FirstName: input.Body.FirstName,
		LastName:  input.Body.LastName,
		Role:      input.Body.Role,
		Password:  input.Body.Password,
	})
	switch {
	case errors.Is(err, auth.ErrEmailInUse):
		return nil, huma.Error409Conflict("Email is already in use")
	case errors.Is(err, auth.ErrWeakPassword):
		return nil, huma.Error400BadRequest(err.Error())
	case err != nil:
		return nil, huma.Error500InternalServerError("Failed to create user: " + err.Error())
	}
	out := &CreateUserResponse{}
	out.Body.User = auth.NewUserBody(user)
	out.Body.Password = password
	return out, nil
}

type UserIDRequest struct {
	auth.AuthInput
	UserID uint `path:"userId" doc:"User ID"`
}

func (h *AdminHandler) HandleLockUser(ctx context.Context, input *UserIDRequest) (*auth.MessageResponse, error) {
	return h.setLocked(ctx, input, true)
}

func (h *AdminHandler) HandleUnlockUser(ctx context.Context, input *UserIDRequest) (*auth.MessageResponse, error) {
	return h.setLocked(ctx, input, false)
}

func (h *AdminHandler) setLocked(ctx context.Context, input *UserIDRequest, locked bool) (*auth.MessageResponse, error) {
	actor, err := h.authHandler.RequireRole(ctx, input.Cookie, models.RoleSuperAdmin)
	if err != nil {
		return nil, err
	}
	if locked && actor.ID == input.UserID {
		return nil, huma.Error400BadRequest("You cannot lock your own account")
	}
	if err := h.authHandler.Manager().SetLocked(ctx, input.UserID, locked); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, huma.Error404NotFound("User not found")
		}
		return nil, huma.Error500InternalServerError("Failed to update user: " + err.Error())
	}
	out := &auth.MessageResponse{}
	out.Body.Message = "User unlocked"
	if locked {
		out.Body.Message = "User locked"
	}
	return out, nil
}

type ResetPasswordResponse struct {
	Body struct {
		Password string `json:"password" doc:"Temporary password; must be changed on next login"`
	}
}

func (h *AdminHandler) HandleResetPassword(ctx context.Context, input *UserIDRequest) (*ResetPasswordResponse, error) {
	if _, err := h.authHandler.RequireRole(ctx, input.Cookie, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	password, err := h.authHandler.Manager().ResetPassword(ctx, input.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, huma.Error404NotFound("User not found")
		}
		return nil, huma.Error500InternalServerError("Failed to reset password: " + err.Error())
	}
	out := &ResetPasswordResponse{}
	out.Body.Password = password
	return out, nil
}
