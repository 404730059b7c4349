package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/gdg-garage/camp-registration-api/internal/config"
	"github.com/gdg-garage/camp-registration-api/internal/models"
	"golang.org/x/oauth2"
)

const (
	DiscordAuthorizeEndpoint = "https://discord.com/api/oauth2/authorize"
	DiscordTokenEndpoint     = "https://discord.com/api/oauth2/token"
	DiscordUserAPI           = "https://discord.com/api/users/@me"
	DiscordUserGuildsAPI     = "https://discord.com/api/users/@me/guilds"

	oauthStateCookie = "oauth_state"
)

type AuthHandler struct {
	oauthConfig *oauth2.Config
	manager     *Manager
	cookies     *CookieCodec
	cfg         *config.Config
	discordAPI  string
	guildsAPI   string
}

func NewAuthHandler(cfg *config.Config, manager *Manager) *AuthHandler {
	return &AuthHandler{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURL:  cfg.DiscordRedirectURL,
			Scopes:       []string{"identify", "email", "guilds"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  DiscordAuthorizeEndpoint,
				TokenURL: DiscordTokenEndpoint,
			},
		},
		manager:    manager,
		cookies:    NewCookieCodec(cfg.JWTSecret, cfg.SecureCookies),
		cfg:        cfg,
		discordAPI: DiscordUserAPI,
		guildsAPI:  DiscordUserGuildsAPI,
	}
}

func (h *AuthHandler) Manager() *Manager {
	return h.manager
}

func (h *AuthHandler) Cookies() *CookieCodec {
	return h.cookies
}

// AuthInput is embedded in every huma input that needs a session.
type AuthInput struct {
	Cookie string `header:"Cookie"`
}

// Authorize validates and renews the session behind the auth cookie.
func (h *AuthHandler) Authorize(ctx context.Context, cookie string) (uint, error) {
	token, err := h.cookies.FromHeader(cookie)
	if err != nil {
		return 0, huma.Error401Unauthorized("Unauthorized: No valid session")
	}
	userID, ok := h.manager.ValidateAndRenew(ctx, token)
	if !ok {
		return 0, huma.Error401Unauthorized("Unauthorized: Session expired or invalid")
	}
	return userID, nil
}

// RequireRole authorizes the request and checks the user's role. SUPERADMIN
// passes every check.
func (h *AuthHandler) RequireRole(ctx context.Context, cookie string, role models.Role) (*models.User, error) {
	token, err := h.cookies.FromHeader(cookie)
	if err != nil {
		return nil, huma.Error401Unauthorized("Unauthorized: No valid session")
	}
	user, err := h.manager.CurrentUser(ctx, token)
	if err != nil {
		return nil, huma.Error401Unauthorized("Unauthorized: Session expired or invalid")
	}
	if user.Role != role && user.Role != models.RoleSuperAdmin {
		return nil, huma.Error403Forbidden(fmt.Sprintf("Access denied: %s role required", role))
	}
	return user, nil
}

type UserBody struct {
	ID                 uint        `json:"id"`
	Email              string      `json:"email"`
	FirstName          string      `json:"first_name"`
	LastName           string      `json:"last_name"`
	Role               models.Role `json:"role"`
	MustChangePassword bool        `json:"must_change_password"`
	Locked             bool        `json:"locked"`
	LastLogin          *time.Time  `json:"last_login,omitempty"`
}

func NewUserBody(u *models.User) UserBody {
	return UserBody{
		ID:                 u.ID,
		Email:              u.Email,
		FirstName:          u.FirstName,
		LastName:           u.LastName,
		Role:               u.Role,
		MustChangePassword: u.MustChangePassword,
		Locked:             u.Locked,
		LastLogin:          u.LastLogin,
	}
}

type PasswordLoginRequest struct {
	UserAgent string `header:"User-Agent"`
	Body      struct {
		Email    string `json:"email" doc:"Account email" required:"true"`
		Password string `json:"password" doc:"Account password" required:"true"`
	}
}

type PasswordLoginResponse struct {
	SetCookie http.Cookie `header:"Set-Cookie"`
	Body      struct {
		User               UserBody  `json:"user"`
		MustChangePassword bool      `json:"must_change_password"`
		ExpiresAt          time.Time `json:"expires_at"`
	}
}

func (h *AuthHandler) HandlePasswordLogin(ctx context.Context, input *PasswordLoginRequest) (*PasswordLoginResponse, error) {
	res, err := h.manager.Login(ctx, LoginRequest{
		Email:     input.Body.Email,
		Password:  input.Body.Password,
		IPAddress: ClientIPFromContext(ctx),
		UserAgent: input.UserAgent,
	})
	if err != nil {
		return nil, humaError(err)
	}
	return h.loginResponse(res)
}

func (h *AuthHandler) loginResponse(res *LoginResult) (*PasswordLoginResponse, error) {
	value, err := h.cookies.Encode(res.Token, h.manager.now())
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to issue session cookie")
	}
	out := &PasswordLoginResponse{SetCookie: h.cookies.Cookie(value)}
	out.Body.User = NewUserBody(res.User)
	out.Body.MustChangePassword = res.MustChangePassword
	out.Body.ExpiresAt = res.ExpiresAt
	return out, nil
}

type LogoutResponse struct {
	SetCookie http.Cookie `header:"Set-Cookie"`
	Body      struct {
		Message string `json:"message"`
	}
}

func (h *AuthHandler) HandleLogout(ctx context.Context, input *AuthInput) (*LogoutResponse, error) {
	if token, err := h.cookies.FromHeader(input.Cookie); err == nil {
		if err := h.manager.Logout(ctx, token); err != nil {
			return nil, huma.Error500InternalServerError("Failed to log out")
		}
	}
	out := &LogoutResponse{SetCookie: h.cookies.Expired()}
	out.Body.Message = "Logged out"
	return out, nil
}

type MeResponse struct {
	Body UserBody
}

func (h *AuthHandler) HandleMe(ctx context.Context, input *AuthInput) (*MeResponse, error) {
	token, err := h.cookies.FromHeader(input.Cookie)
	if err != nil {
		return nil, huma.Error401Unauthorized("Unauthorized: No valid session")
	}
	user, err := h.manager.CurrentUser(ctx, token)
	if err != nil {
		return nil, huma.Error401Unauthorized("Unauthorized: Session expired or invalid")
	}
	return &MeResponse{Body: NewUserBody(user)}, nil
}

type ChangePasswordRequest struct {
	AuthInput
	Body struct {
		CurrentPassword string `json:"current_password,omitempty" doc:"Not needed during a forced change"`
		NewPassword     string `json:"new_password" required:"true"`
	}
}

type MessageResponse struct {
	Body struct {
		Message string `json:"message"`
	}
}

func (h *AuthHandler) HandleChangePassword(ctx context.Context, input *ChangePasswordRequest) (*MessageResponse, error) {
	userID, err := h.Authorize(ctx, input.Cookie)
	if err != nil {
		return nil, err
	}
	if err := h.manager.ChangePassword(ctx, userID, input.Body.CurrentPassword, input.Body.NewPassword); err != nil {
		return nil, humaError(err)
	}
	out := &MessageResponse{}
	out.Body.Message = "Password changed"
	return out, nil
}

// HandleLogin starts Discord sign-in.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := h.manager.passwords.NewToken()
	if err != nil {
		http.Error(w, "Failed to start login", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/discord",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	url := h.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOnline)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// HandleCallback finishes Discord sign-in. Discord proves the email; the
// account itself must already exist and be unlocked.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		http.Error(w, "Invalid OAuth state", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Code not found", http.StatusBadRequest)
		return
	}

	token, err := h.oauthConfig.Exchange(r.Context(), code)
	if err != nil {
		http.Error(w, "Failed to exchange token", http.StatusInternalServerError)
		return
	}
	client := h.oauthConfig.Client(r.Context(), token)

	if h.cfg.DiscordGuildID != "" {
		member, err := h.isGuildMember(client)
		if err != nil {
			http.Error(w, "Failed to get user guilds", http.StatusInternalServerError)
			return
		}
		if !member {
			http.Error(w, "Access denied: You are not a member of the required guild.", http.StatusForbidden)
			return
		}
	}

	resp, err := client.Get(h.discordAPI)
	if err != nil {
		http.Error(w, "Failed to get user info", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	var discordUser struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
		Verified bool   `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&discordUser); err != nil {
		http.Error(w, "Failed to decode user info", http.StatusInternalServerError)
		return
	}
	if discordUser.Email == "" || !discordUser.Verified {
		http.Error(w, "Access denied: Discord email is not verified", http.StatusForbidden)
		return
	}

	res, err := h.manager.LoginVerified(r.Context(), discordUser.Email, ClientIPFromContext(r.Context()), r.UserAgent())
	if err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			http.Error(w, "Access denied: no active account for this Discord user", http.StatusForbidden)
			return
		}
		log.Printf("Discord login for %s failed: %v", discordUser.ID, err)
		http.Error(w, "Failed to log in", http.StatusInternalServerError)
		return
	}

	value, err := h.cookies.Encode(res.Token, h.manager.now())
	if err != nil {
		http.Error(w, "Failed to issue session cookie", http.StatusInternalServerError)
		return
	}
	cookie := h.cookies.Cookie(value)
	http.SetCookie(w, &cookie)
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: "/auth/discord", MaxAge: -1})

	w.Write([]byte(fmt.Sprintf("Welcome %s! You are logged in.", res.User.FullName())))
}

func (h *AuthHandler) isGuildMember(client *http.Client) (bool, error) {
	resp, err := client.Get(h.guildsAPI)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var guilds []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&guilds); err != nil {
		return false, err
	}
	for _, g := range guilds {
		if g.ID == h.cfg.DiscordGuildID {
			return true, nil
		}
	}
	return false, nil
}

func humaError(err error) error {
	switch {
	case errors.Is(err, ErrTooManyAttempts):
		return huma.Error429TooManyRequests(ErrTooManyAttempts.Error())
	case errors.Is(err, ErrAccountLocked):
		return huma.Error401Unauthorized(ErrAccountLocked.Error())
	case errors.Is(err, ErrAuthenticationFailed):
		return huma.Error401Unauthorized(ErrAuthenticationFailed.Error())
	case errors.Is(err, ErrWeakPassword):
		return huma.Error400BadRequest(err.Error())
	}
	log.Printf("Authentication error: %v", err)
	return huma.Error500InternalServerError("Internal server error")
}
