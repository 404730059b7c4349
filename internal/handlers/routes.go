package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/gdg-garage/camp-registration-api/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func RegisterRoutes(r *chi.Mux, authHandler *auth.AuthHandler, registrationHandler *RegistrationHandler, adminHandler *AdminHandler) huma.API {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(auth.ClientIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	config := huma.DefaultConfig("Camp Registration API", "1.0.0")
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"cookieAuth": {
			Type: "apiKey",
			In:   "cookie",
			Name: auth.CookieName,
		},
	}
	api := humachi.New(r, config)

	secured := func(o *huma.Operation) {
		o.Security = []map[string][]string{{"cookieAuth": {}}}
	}
	noContent := func(o *huma.Operation) {
		secured(o)
		o.DefaultStatus = http.StatusNoContent
	}
	created := func(o *huma.Operation) {
		secured(o)
		o.DefaultStatus = http.StatusCreated
	}

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	huma.Get(api, "/events/{eventId}/availability", registrationHandler.HandleAvailability)

	// Auth routes
	r.Get("/auth/discord/login", authHandler.HandleLogin)
	r.Get("/auth/discord/callback", authHandler.HandleCallback)
	huma.Post(api, "/auth/login", authHandler.HandlePasswordLogin)
	huma.Post(api, "/auth/logout", authHandler.HandleLogout, secured)
	huma.Get(api, "/auth/me", authHandler.HandleMe, secured)
	huma.Post(api, "/auth/change-password", authHandler.HandleChangePassword, secured)

	// Registrations
	huma.Get(api, "/events/{eventId}/registrations", registrationHandler.HandleList, secured)
	huma.Post(api, "/events/{eventId}/registrations", registrationHandler.HandleCreate, created)
	huma.Post(api, "/registrations/{id}/confirm", registrationHandler.HandleConfirm, secured)
	huma.Post(api, "/registrations/{id}/waitlist", registrationHandler.HandleWaitlist, secured)
	huma.Post(api, "/registrations/{id}/cancel", registrationHandler.HandleCancel, secured)
	huma.Get(api, "/registrations/{id}/history", registrationHandler.HandleHistory, secured)

	// Admin
	huma.Post(api, "/admin/events", adminHandler.HandleCreateEvent, created)
	huma.Delete(api, "/admin/events/{eventId}", adminHandler.HandleDeleteEvent, noContent)
	huma.Post(api, "/admin/participants", adminHandler.HandleCreateParticipant, created)
	huma.Delete(api, "/admin/registrations/{id}", registrationHandler.HandleRemove, noContent)
	huma.Get(api, "/admin/users", adminHandler.HandleListUsers, secured)
	huma.Post(api, "/admin/users", adminHandler.HandleCreateUser, created)
	huma.Post(api, "/admin/users/{userId}/lock", adminHandler.HandleLockUser, secured)
	huma.Post(api, "/admin/users/{userId}/unlock", adminHandler.HandleUnlockUser, secured)
	huma.Post(api, "/admin/users/{userId}/reset-password", adminHandler.HandleResetPassword, secured)

	return api
}
