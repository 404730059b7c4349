package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gdg-garage/camp-registration-api/internal/config"
	"github.com/gdg-garage/camp-registration-api/internal/models"
	"github.com/gdg-garage/camp-registration-api/internal/notifier"
	"github.com/gdg-garage/camp-registration-api/internal/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

var (
	// ErrAuthenticationFailed covers unknown email, wrong password and locked
	// account alike.
	ErrAuthenticationFailed = errors.New("invalid email or password")
	// ErrAccountLocked is returned only by the attempt that triggered the lock.
	ErrAccountLocked   = errors.New("account is now locked")
	ErrTooManyAttempts = errors.New("too many login attempts, try again later")
	ErrWeakPassword    = errors.New("password is too short")
	ErrEmailInUse      = errors.New("email is already in use")
)

const generatedPasswordLength = 16

type Settings struct {
	SessionTimeout     time.Duration
	MaxFailedLogins    int
	LoginRatePerMinute int
	MinPasswordLength  int
}

func DefaultSettings() Settings {
	return Settings{
		SessionTimeout:     30 * time.Minute,
		MaxFailedLogins:    5,
		LoginRatePerMinute: 10,
		MinPasswordLength:  8,
	}
}

func SettingsFromConfig(cfg *config.Config) Settings {
	s := DefaultSettings()
	if cfg.SessionTimeout > 0 {
		s.SessionTimeout = cfg.SessionTimeout
	}
	if cfg.MaxFailedLogins > 0 {
		s.MaxFailedLogins = cfg.MaxFailedLogins
	}
	s.LoginRatePerMinute = cfg.LoginRatePerMinute
	if cfg.MinPasswordLength > 0 {
		s.MinPasswordLength = cfg.MinPasswordLength
	}
	return s
}

type Manager struct {
	users     store.CredentialStore
	sessions  store.SessionStore
	passwords PasswordVerifier
	notifier  notifier.Notifier
	settings  Settings
	now       func() time.Time
	tracer    trace.Tracer

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	dummyOnce sync.Once
	dummyHash string

	meters metric.MeterProvider
	logins metric.Int64Counter
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithNotifier(n notifier.Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithMeterProvider replaces the global meter provider for the manager's
// counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(m *Manager) {
		if mp != nil {
			m.meters = mp
		}
	}
}

func NewManager(users store.CredentialStore, sessions store.SessionStore, passwords PasswordVerifier, settings Settings, opts ...Option) *Manager {
	m := &Manager{
		users:     users,
		sessions:  sessions,
		passwords: passwords,
		settings:  settings,
		now:       func() time.Time { return time.Now().UTC() },
		tracer:    otel.Tracer("camp-registration-api/auth"),
		meters:    otel.GetMeterProvider(),
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logins, _ = m.meters.Meter("camp-registration-api/auth").Int64Counter(
		"auth.logins",
		metric.WithDescription("Login attempts by outcome"),
	)
	return m
}

type LoginRequest struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

type LoginResult struct {
	Token              string
	User               *models.User
	MustChangePassword bool
	ExpiresAt          time.Time
}

// Login checks credentials and opens a session. A wrong password is counted
// before the failure is returned; the attempt that reaches MaxFailedLogins
// locks the account and gets ErrAccountLocked.
func (m *Manager) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	ctx, span := m.tracer.Start(ctx, "auth.login")
	defer span.End()

	if !m.allow(req.IPAddress) {
		m.record(ctx, "throttled")
		return nil, ErrTooManyAttempts
	}

	user, err := m.users.UserByEmail(ctx, req.Email)
	if errors.Is(err, store.ErrNotFound) {
		m.burnHash(req.Password)
		m.record(ctx, "failed")
		return nil, ErrAuthenticationFailed
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("load user: %w", err))
	}
	span.SetAttributes(attribute.Int("user.id", int(user.ID)))

	if user.Locked {
		m.burnHash(req.Password)
		m.record(ctx, "locked")
		return nil, ErrAuthenticationFailed
	}

	if !m.passwords.Verify(user.PasswordHash, req.Password) {
		updated, err := m.users.IncrementFailedAttempts(ctx, user.ID, m.settings.MaxFailedLogins)
		if err != nil {
			return nil, fail(span, fmt.Errorf("record failed login: %w", err))
		}
		if updated.Locked && updated.FailedLoginAttempts == m.settings.MaxFailedLogins {
			log.Printf("Account %d locked after %d failed logins", updated.ID, updated.FailedLoginAttempts)
			m.record(ctx, "lockout")
			m.notifyAccount(*updated, notifier.AccountLocked)
			return nil, ErrAccountLocked
		}
		m.record(ctx, "failed")
		return nil, ErrAuthenticationFailed
	}

	res, err := m.startSession(ctx, user, req.IPAddress, req.UserAgent)
	if errors.Is(err, ErrAuthenticationFailed) {
		m.record(ctx, "locked")
		return nil, err
	}
	if err != nil {
		return nil, fail(span, err)
	}
	m.record(ctx, "success")
	return res, nil
}

// LoginVerified opens a session for a user whose identity was already
// proven elsewhere, such as Discord sign-in. No password is checked.
func (m *Manager) LoginVerified(ctx context.Context, email, ipAddress, userAgent string) (*LoginResult, error) {
	ctx, span := m.tracer.Start(ctx, "auth.login_verified")
	defer span.End()

	user, err := m.users.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAuthenticationFailed
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("load user: %w", err))
	}
	if user.Locked {
		return nil, ErrAuthenticationFailed
	}
	res, err := m.startSession(ctx, user, ipAddress, userAgent)
	if errors.Is(err, ErrAuthenticationFailed) {
		return nil, err
	}
	if err != nil {
		return nil, fail(span, err)
	}
	return res, nil
}

func (m *Manager) startSession(ctx context.Context, user *models.User, ipAddress, userAgent string) (*LoginResult, error) {
	now := m.now()
	recorded, err := m.users.RecordLogin(ctx, user.ID, now)
	if err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	if !recorded {
		// Locked since it was loaded.
		return nil, ErrAuthenticationFailed
	}
	user.FailedLoginAttempts = 0
	user.LastLogin = &now

	token, err := m.passwords.NewToken()
	if err != nil {
		return nil, err
	}
	sess := &models.Session{
		PublicID:     uuid.NewString(),
		UserID:       user.ID,
		Token:        token,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.settings.SessionTimeout),
		LastActivity: now,
		IPAddress:    ipAddress,
		UserAgent:    userAgent,
	}
	if err := m.sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &LoginResult{
		Token:              token,
		User:               user,
		MustChangePassword: user.MustChangePassword,
		ExpiresAt:          sess.ExpiresAt,
	}, nil
}

// ValidateAndRenew resolves a session token to its user. Every successful
// call slides the session: LastActivity becomes now and ExpiresAt becomes
// now + SessionTimeout. Empty, unknown, expired and locked-owner tokens
// yield ok == false.
func (m *Manager) ValidateAndRenew(ctx context.Context, token string) (userID uint, ok bool) {
	if token == "" {
		return 0, false
	}
	sess, err := m.sessions.SessionByToken(ctx, token)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("Failed to load session: %v", err)
		}
		return 0, false
	}

	now := m.now()
	if !sess.UsableAt(now) {
		return 0, false
	}
	renewed, err := m.sessions.RenewSession(ctx, sess.ID, now, now.Add(m.settings.SessionTimeout))
	if err != nil {
		log.Printf("Failed to renew session %s: %v", sess.PublicID, err)
		return 0, false
	}
	if !renewed {
		return 0, false
	}
	return sess.UserID, true
}

// CurrentUser validates the token like ValidateAndRenew and loads its user.
func (m *Manager) CurrentUser(ctx context.Context, token string) (*models.User, error) {
	userID, ok := m.ValidateAndRenew(ctx, token)
	if !ok {
		return nil, ErrAuthenticationFailed
	}
	user, err := m.users.UserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", userID, err)
	}
	return user, nil
}

// HasRole reports whether the token's user holds role. SUPERADMIN holds
// every role.
func (m *Manager) HasRole(ctx context.Context, token string, role models.Role) bool {
	user, err := m.CurrentUser(ctx, token)
	if err != nil {
		return false
	}
	return user.Role == role || user.Role == models.RoleSuperAdmin
}

// Logout ends one session. Unknown tokens are not an error.
func (m *Manager) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.sessions.DeleteSessionByToken(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (m *Manager) LogoutAll(ctx context.Context, userID uint) (int64, error) {
	n, err := m.sessions.DeleteSessionsByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions of user %d: %w", userID, err)
	}
	return n, nil
}

func (m *Manager) Sessions(ctx context.Context, userID uint) ([]models.Session, error) {
	return m.sessions.ListSessionsByUser(ctx, userID)
}

// ChangePassword replaces the user's password. The current password is only
// checked when the user is not in a forced change. Existing sessions stay
// valid.
func (m *Manager) ChangePassword(ctx context.Context, userID uint, current, next string) error {
	ctx, span := m.tracer.Start(ctx, "auth.change_password", trace.WithAttributes(attribute.Int("user.id", int(userID))))
	defer span.End()

	user, err := m.users.UserByID(ctx, userID)
	if err != nil {
		return fail(span, fmt.Errorf("user %d: %w", userID, err))
	}
	if !user.MustChangePassword && !m.passwords.Verify(user.PasswordHash, current) {
		return ErrAuthenticationFailed
	}
	if len(next) < m.settings.MinPasswordLength {
		return fmt.Errorf("%w: at least %d characters required", ErrWeakPassword, m.settings.MinPasswordLength)
	}

	hash, err := m.passwords.Hash(next)
	if err != nil {
		return fail(span, err)
	}
	if err := m.users.UpdatePassword(ctx, userID, hash, false); err != nil {
		return fail(span, fmt.Errorf("update password: %w", err))
	}
	return nil
}

type NewUser struct {
	Email     string
	FirstName string
	LastName  string
	Role      models.Role
	// Password is generated when empty.
	Password string
}

// CreateUser adds an account that must change its password on first login.
// It returns the initial password.
func (m *Manager) CreateUser(ctx context.Context, in NewUser) (*models.User, string, error) {
	password := in.Password
	if password == "" {
		var err error
		if password, err = m.passwords.RandomPassword(generatedPasswordLength); err != nil {
			return nil, "", err
		}
	} else if len(password) < m.settings.MinPasswordLength {
		return nil, "", fmt.Errorf("%w: at least %d characters required", ErrWeakPassword, m.settings.MinPasswordLength)
	}

	hash, err := m.passwords.Hash(password)
	if err != nil {
		return nil, "", err
	}
	role := in.Role
	if role == "" {
		role = models.RoleAdmin
	}
	user := &models.User{
		Email:              in.Email,
		PasswordHash:       hash,
		FirstName:          in.FirstName,
		LastName:           in.LastName,
		Role:               role,
		MustChangePassword: true,
	}
	if err := m.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, "", ErrEmailInUse
		}
		return nil, "", fmt.Errorf("create user: %w", err)
	}
	log.Printf("User %d (%s) created with role %s", user.ID, user.Email, user.Role)
	m.notifyAccount(*user, notifier.AccountCreated)
	return user, password, nil
}

// Bootstrap creates a SUPERADMIN account when no users exist yet and returns
// its generated password. It does nothing once any user exists.
func (m *Manager) Bootstrap(ctx context.Context, email string) (string, bool, error) {
	users, err := m.users.ListUsers(ctx)
	if err != nil {
		return "", false, fmt.Errorf("list users: %w", err)
	}
	if len(users) > 0 || email == "" {
		return "", false, nil
	}
	_, password, err := m.CreateUser(ctx, NewUser{Email: email, Role: models.RoleSuperAdmin})
	if err != nil {
		return "", false, err
	}
	return password, true, nil
}

// SetLocked locks or unlocks an account. Locking also ends its sessions;
// unlocking resets the failed-login counter.
func (m *Manager) SetLocked(ctx context.Context, userID uint, locked bool) error {
	if err := m.users.SetLocked(ctx, userID, locked); err != nil {
		return fmt.Errorf("user %d: %w", userID, err)
	}
	action := notifier.AccountUnlocked
	if locked {
		action = notifier.AccountLocked
		if _, err := m.LogoutAll(ctx, userID); err != nil {
			log.Printf("Failed to end sessions of locked user %d: %v", userID, err)
		}
	}
	if user, err := m.users.UserByID(ctx, userID); err == nil {
		m.notifyAccount(*user, action)
	}
	return nil
}

// ResetPassword replaces the password with a generated one the user must
// change on next login, and returns it.
func (m *Manager) ResetPassword(ctx context.Context, userID uint) (string, error) {
	user, err := m.users.UserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("user %d: %w", userID, err)
	}
	password, err := m.passwords.RandomPassword(generatedPasswordLength)
	if err != nil {
		return "", err
	}
	hash, err := m.passwords.Hash(password)
	if err != nil {
		return "", err
	}
	if err := m.users.UpdatePassword(ctx, userID, hash, true); err != nil {
		return "", fmt.Errorf("update password: %w", err)
	}
	m.notifyAccount(*user, notifier.AccountPasswordReset)
	return password, nil
}

// CleanupExpiredSessions deletes sessions whose ExpiresAt has passed. It
// never fails; errors are logged and 0 is returned.
func (m *Manager) CleanupExpiredSessions(ctx context.Context) int64 {
	now := m.now()
	n, err := m.sessions.DeleteExpiredSessions(ctx, now)
	if err != nil {
		log.Printf("Failed to clean up expired sessions: %v", err)
		return 0
	}
	if n > 0 {
		log.Printf("Cleaned up %d expired sessions", n)
	}
	m.pruneLimiters(now)
	return n
}

// RunSessionSweeper calls CleanupExpiredSessions every interval until ctx
// is done.
func (m *Manager) RunSessionSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupExpiredSessions(ctx)
		}
	}
}

func (m *Manager) allow(ip string) bool {
	perMinute := m.settings.LoginRatePerMinute
	if perMinute <= 0 {
		return true
	}
	m.limiterMu.Lock()
	defer m.limiterMu.Unlock()
	lim, ok := m.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
		m.limiters[ip] = lim
	}
	return lim.AllowN(m.now(), 1)
}

// pruneLimiters drops limiters that have refilled completely.
func (m *Manager) pruneLimiters(now time.Time) {
	m.limiterMu.Lock()
	defer m.limiterMu.Unlock()
	for ip, lim := range m.limiters {
		if lim.TokensAt(now) >= float64(lim.Burst()) {
			delete(m.limiters, ip)
		}
	}
}

// burnHash spends the time a real password comparison would.
func (m *Manager) burnHash(password string) {
	m.dummyOnce.Do(func() {
		hash, err := m.passwords.Hash("not-a-real-password")
		if err != nil {
			log.Printf("Failed to prepare dummy hash: %v", err)
		}
		m.dummyHash = hash
	})
	if m.dummyHash != "" {
		m.passwords.Verify(m.dummyHash, password)
	}
}

func (m *Manager) notifyAccount(user models.User, action string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.NotifyAccount(user, action); err != nil {
		log.Printf("Failed to send account notification: %v", err)
	}
}

func (m *Manager) record(ctx context.Context, outcome string) {
	if m.logins == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
