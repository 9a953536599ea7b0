package accounts

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/notification"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/cache"
	"github.com/hms/hms/internal/platform/notify"
)

const (
	MaxLoginFailures = 5
	LockoutWindow    = 15 * time.Minute
	DefaultResetTTL  = time.Hour
)

var (
	ErrInvalid            = errors.New("invalid account data")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactive           = errors.New("account is inactive")
	ErrLocked             = errors.New("too many failed login attempts")
	ErrForbidden          = errors.New("not allowed")
	ErrInvalidToken       = errors.New("invalid or expired reset token")
	ErrCaptcha            = errors.New("captcha verification failed")
)

// CaptchaVerifier is implemented by *captcha.Verifier.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// Notifier is implemented by *notification.Service.
type Notifier interface {
	SendAsync(ctx context.Context, req notification.SendRequest) error
}

// TxFunc runs fn in one database transaction. db.WithTx bound to a pool fits.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

type Options struct {
	Captcha  CaptchaVerifier
	Notifier Notifier
	ResetURL string
	ResetTTL time.Duration
	WithTx   TxFunc
}

type Service struct {
	users    UserRepository
	staff    StaffProfileRepository
	patients PatientProfileRepository
	store    cache.TokenStore
	issuer   *auth.TokenIssuer
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(users UserRepository, staff StaffProfileRepository, patients PatientProfileRepository,
	store cache.TokenStore, issuer *auth.TokenIssuer, opts Options, logger zerolog.Logger) *Service {
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = DefaultResetTTL
	}
	if opts.WithTx == nil {
		opts.WithTx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	return &Service{
		users:    users,
		staff:    staff,
		patients: patients,
		store:    store,
		issuer:   issuer,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterInput is used by public sign-up and by admins creating users.
type RegisterInput struct {
	Email        string  `json:"email" validate:"required,email"`
	Username     string  `json:"username" validate:"required,min=3,max=150"`
	Password     string  `json:"password" validate:"required"`
	FirstName    string  `json:"first_name" validate:"max=150"`
	LastName     string  `json:"last_name" validate:"max=150"`
	Phone        *string `json:"phone,omitempty"`
	Role         string  `json:"role,omitempty"`
	CaptchaToken string  `json:"captcha_token,omitempty"`
	RemoteIP     string  `json:"-"`
}

// Register creates an account. Callers without an admin role can only create
// patients and must pass the captcha. Only super admins create admins.
func (s *Service) Register(ctx context.Context, in RegisterInput, callerRole string) (*User, error) {
	if in.Role == "" {
		in.Role = auth.RolePatient
	}
	if !auth.ValidRole(in.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalid, in.Role)
	}
	switch {
	case auth.IsAdminRole(in.Role) && callerRole != auth.RoleSuperAdmin:
		return nil, fmt.Errorf("%w: only super admins can create %s accounts", ErrForbidden, in.Role)
	case in.Role != auth.RolePatient && !auth.IsAdminRole(callerRole):
		return nil, fmt.Errorf("%w: self registration is limited to patients", ErrForbidden)
	}

	if !auth.IsAdminRole(callerRole) && s.opts.Captcha != nil {
		if err := s.opts.Captcha.Verify(ctx, in.CaptchaToken, in.RemoteIP); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCaptcha, err)
		}
	}

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)
	if in.Email == "" || in.Username == "" {
		return nil, fmt.Errorf("%w: email and username are required", ErrInvalid)
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Phone:        in.Phone,
		Role:         in.Role,
		IsActive:     true,
		IsStaff:      auth.IsStaffRole(in.Role),
	}

	err = s.opts.WithTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		if u.Role == auth.RolePatient {
			return s.patients.Upsert(ctx, &PatientProfile{UserID: u.ID})
		}
		if auth.IsStaffRole(u.Role) {
			return s.staff.Upsert(ctx, &StaffProfile{UserID: u.ID, Available: true})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", u.ID.String()).Str("role", u.Role).Msg("user registered")
	s.notify(ctx, notification.SendRequest{
		UserID:   u.ID,
		Channel:  string(notify.ChannelEmail),
		Template: notify.TplWelcome,
		Data:     map[string]string{"first_name": u.FirstName, "email": u.Email},
		Category: notification.CategoryAccount,
	})
	return u, nil
}

// CreateSuperuser bootstraps the first account from the command line.
func (s *Service) CreateSuperuser(ctx context.Context, email, username, password string) (*User, error) {
	return s.Register(ctx, RegisterInput{
		Email:    email,
		Username: username,
		Password: password,
		Role:     auth.RoleSuperAdmin,
	}, auth.RoleSuperAdmin)
}

func (s *Service) notify(ctx context.Context, req notification.SendRequest) {
	if s.opts.Notifier == nil {
		return
	}
	if err := s.opts.Notifier.SendAsync(ctx, req); err != nil {
		s.logger.Warn().Err(err).Str("user_id", req.UserID.String()).Str("template", req.Template).
			Msg("account notification failed")
	}
}

type LoginInput struct {
	Identifier   string `json:"identifier" validate:"required"`
	Password     string `json:"password" validate:"required"`
	CaptchaToken string `json:"captcha_token,omitempty"`
	RemoteIP     string `json:"-"`
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

func failureKey(identifier string) string {
	return "login_fail:" + strings.ToLower(strings.TrimSpace(identifier))
}

// Login authenticates by email or username. After MaxLoginFailures wrong
// attempts within LockoutWindow the identifier is locked until the window
// expires.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if s.opts.Captcha != nil {
		if err := s.opts.Captcha.Verify(ctx, in.CaptchaToken, in.RemoteIP); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCaptcha, err)
		}
	}

	key := failureKey(in.Identifier)
	if v, err := s.store.Get(ctx, key); err == nil {
		if n, _ := strconv.Atoi(v); n >= MaxLoginFailures {
			return nil, ErrLocked
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		return nil, fmt.Errorf("read login failures: %w", err)
	}

	u, err := s.lookup(ctx, in.Identifier)
	if errors.Is(err, ErrNotFound) || (err == nil && !auth.CheckPassword(u.PasswordHash, in.Password)) {
		n, incErr := s.store.Incr(ctx, key, LockoutWindow)
		if incErr != nil {
			s.logger.Error().Err(incErr).Msg("failed to record login failure")
		}
		s.logger.Warn().Str("identifier", in.Identifier).Int64("failures", n).Msg("login failed")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrInactive
	}

	_ = s.store.Delete(ctx, key)
	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		s.logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("failed to update last login")
	}
	u.LastLogin = &now

	token, exp, err := s.issuer.Issue(u.ID.String(), u.Role)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, ExpiresAt: exp, User: u}, nil
}

func (s *Service) lookup(ctx context.Context, identifier string) (*User, error) {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return s.users.GetByEmail(ctx, identifier)
	}
	return s.users.GetByUsername(ctx, identifier)
}

func resetKey(token string) string { return "reset:" + token }

func newResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RequestPasswordReset never reveals whether the email exists.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !u.IsActive {
		return nil
	}

	token, err := newResetToken()
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, resetKey(token), u.ID.String(), s.opts.ResetTTL); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	s.notify(ctx, notification.SendRequest{
		UserID:   u.ID,
		Channel:  string(notify.ChannelEmail),
		Template: notify.TplPasswordReset,
		Data: map[string]string{
			"reset_link": s.resetLink(token),
			"expires_in": fmt.Sprintf("%d minutes", int(s.opts.ResetTTL.Minutes())),
		},
		Category: notification.CategoryAccount,
	})
	return nil
}

func (s *Service) resetLink(token string) string {
	if s.opts.ResetURL == "" {
		return token
	}
	sep := "?"
	if strings.Contains(s.opts.ResetURL, "?") {
		sep = "&"
	}
	return s.opts.ResetURL + sep + "token=" + url.QueryEscape(token)
}

// ResetPassword consumes a reset token. A weak password leaves the token usable.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}
	v, err := s.store.Take(ctx, resetKey(token))
	if errors.Is(err, cache.ErrMiss) {
		return ErrInvalidToken
	}
	if err != nil {
		return err
	}
	uid, err := uuid.Parse(v)
	if err != nil {
		return ErrInvalidToken
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, uid, hash); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", uid.String()).Msg("password reset")
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !auth.CheckPassword(u.PasswordHash, oldPassword) {
		return ErrInvalidCredentials
	}
	if oldPassword == newPassword {
		return fmt.Errorf("%w: new password must differ from the old one", ErrInvalid)
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, userID, hash)
}

// -- Users --

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, f UserFilter, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, f, limit, offset)
}

// UpdateUserInput carries optional changes. Role and IsActive are ignored for
// self updates.
type UpdateUserInput struct {
	Email     *string `json:"email,omitempty" validate:"omitempty,email"`
	Username  *string `json:"username,omitempty" validate:"omitempty,min=3,max=150"`
	FirstName *string `json:"first_name,omitempty" validate:"omitempty,max=150"`
	LastName  *string `json:"last_name,omitempty" validate:"omitempty,max=150"`
	Phone     *string `json:"phone,omitempty"`
	Role      *string `json:"role,omitempty"`
	IsActive  *bool   `json:"is_active,omitempty"`
}

func (s *Service) UpdateMe(ctx context.Context, id uuid.UUID, in UpdateUserInput) (*User, error) {
	in.Role = nil
	in.IsActive = nil
	return s.update(ctx, id, in)
}

// UpdateUser applies an admin edit. Promoting to or editing admins needs a
// super admin.
func (s *Service) UpdateUser(ctx context.Context, id uuid.UUID, in UpdateUserInput, callerRole string) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerRole != auth.RoleSuperAdmin {
		if auth.IsAdminRole(u.Role) || (in.Role != nil && auth.IsAdminRole(*in.Role)) {
			return nil, fmt.Errorf("%w: only super admins can manage admin accounts", ErrForbidden)
		}
	}
	return s.update(ctx, id, in)
}

func (s *Service) update(ctx context.Context, id uuid.UUID, in UpdateUserInput) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Email != nil {
		u.Email = strings.ToLower(strings.TrimSpace(*in.Email))
	}
	if in.Username != nil {
		u.Username = strings.TrimSpace(*in.Username)
	}
	if in.FirstName != nil {
		u.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		u.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Phone != nil {
		u.Phone = in.Phone
	}
	if in.Role != nil {
		if !auth.ValidRole(*in.Role) {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalid, *in.Role)
		}
		u.Role = *in.Role
		u.IsStaff = auth.IsStaffRole(u.Role)
	}
	if in.IsActive != nil {
		u.IsActive = *in.IsActive
	}
	if u.Email == "" || u.Username == "" {
		return nil, fmt.Errorf("%w: email and username are required", ErrInvalid)
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool, callerRole string) (*User, error) {
	return s.UpdateUser(ctx, id, UpdateUserInput{IsActive: &active}, callerRole)
}

func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID, callerID uuid.UUID, callerRole string) error {
	if id == callerID {
		return fmt.Errorf("%w: cannot delete your own account", ErrForbidden)
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if auth.IsAdminRole(u.Role) && callerRole != auth.RoleSuperAdmin {
		return fmt.Errorf("%w: only super admins can delete admin accounts", ErrForbidden)
	}
	return s.users.Delete(ctx, id)
}

// -- Profiles --

func (s *Service) GetStaffProfile(ctx context.Context, userID uuid.UUID) (*StaffProfile, error) {
	return s.staff.Get(ctx, userID)
}

func (s *Service) UpsertStaffProfile(ctx context.Context, p *StaffProfile) error {
	u, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		return err
	}
	if !auth.IsStaffRole(u.Role) {
		return fmt.Errorf("%w: %s accounts have no staff profile", ErrInvalid, u.Role)
	}
	if p.YearsOfExperience < 0 {
		return fmt.Errorf("%w: years_of_experience must not be negative", ErrInvalid)
	}
	if p.ConsultationFee < 0 {
		return fmt.Errorf("%w: consultation_fee must not be negative", ErrInvalid)
	}
	if p.LicenseNumber != nil && strings.TrimSpace(*p.LicenseNumber) == "" {
		p.LicenseNumber = nil
	}
	return s.staff.Upsert(ctx, p)
}

func (s *Service) GetPatientProfile(ctx context.Context, userID uuid.UUID) (*PatientProfile, error) {
	return s.patients.Get(ctx, userID)
}

func (s *Service) UpsertPatientProfile(ctx context.Context, p *PatientProfile) error {
	u, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		return err
	}
	if u.Role != auth.RolePatient {
		return fmt.Errorf("%w: %s accounts have no patient profile", ErrInvalid, u.Role)
	}
	p.Gender = strings.ToLower(strings.TrimSpace(p.Gender))
	if !validGenders[p.Gender] {
		return fmt.Errorf("%w: unknown gender %q", ErrInvalid, p.Gender)
	}
	p.BloodGroup = strings.ToUpper(strings.TrimSpace(p.BloodGroup))
	if !validBloodGroups[p.BloodGroup] {
		return fmt.Errorf("%w: unknown blood group %q", ErrInvalid, p.BloodGroup)
	}
	if p.DateOfBirth != nil && p.DateOfBirth.After(s.now()) {
		return fmt.Errorf("%w: date_of_birth is in the future", ErrInvalid)
	}
	return s.patients.Upsert(ctx, p)
}
