package identity

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/refermed/refermed/internal/platform/auth"
	"github.com/refermed/refermed/internal/platform/notification"
	"github.com/refermed/refermed/internal/platform/otp"
)

// Notifier is the slice of the notification manager the directory uses.
type Notifier interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}

type Service struct {
	repo     Repository
	codes    otp.Store
	notifier Notifier
	jwtCfg   auth.JWTConfig
	otpTTL   time.Duration
	logger   zerolog.Logger
}

func NewService(repo Repository, codes otp.Store, notifier Notifier, jwtCfg auth.JWTConfig, otpTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		codes:    codes,
		notifier: notifier,
		jwtCfg:   jwtCfg,
		otpTTL:   otpTTL,
		logger:   logger,
	}
}

// Register creates an unverified participant and emails a verification code.
// The email dispatch is fire-and-forget; a mail failure never fails the
// registration.
func (s *Service) Register(ctx context.Context, name, email string, role Role, specialty string) (*Participant, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if !ValidRole(role) {
		return nil, ErrInvalidRole
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if err != ErrNotFound {
		return nil, err
	}

	p := &Participant{
		Name:      name,
		Email:     email,
		Role:      role,
		Specialty: specialty,
		Verified:  false,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	if err := s.sendVerificationCode(ctx, p); err != nil {
		s.logger.Error().Err(err).Str("email", email).Msg("failed to send verification code")
	}

	return p, nil
}

// Verify checks the code for the given email and marks the participant
// verified. Verifying an already-verified participant is a no-op.
func (s *Service) Verify(ctx context.Context, email, code string) (*Participant, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	p, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if p.Verified {
		return p, nil
	}

	if err := s.codes.Verify(ctx, email, code); err != nil {
		return nil, err
	}
	if err := s.repo.SetVerified(ctx, p.ID); err != nil {
		return nil, err
	}
	p.Verified = true
	return p, nil
}

// Login issues a bearer token for a verified participant. Credential checking
// happens upstream; the directory only gates on verification. An unverified
// participant gets a fresh code instead of a token.
func (s *Service) Login(ctx context.Context, email string) (string, *Participant, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	p, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}
	if !p.Verified {
		if err := s.sendVerificationCode(ctx, p); err != nil {
			s.logger.Error().Err(err).Str("email", email).Msg("failed to resend verification code")
		}
		return "", p, ErrNotVerified
	}

	token, err := auth.IssueToken(s.jwtCfg, p.ID.String(), []string{string(p.Role)})
	if err != nil {
		return "", nil, err
	}
	return token, p, nil
}

// GetParticipant looks up a participant by id.
func (s *Service) GetParticipant(ctx context.Context, id uuid.UUID) (*Participant, error) {
	return s.repo.GetByID(ctx, id)
}

// ListProviders returns the directory as visible to the caller: primary-care
// providers see every tier, everyone else sees primary care only. Callers
// never see themselves in the listing.
func (s *Service) ListProviders(ctx context.Context, callerID uuid.UUID, limit, offset int) ([]*Participant, int, error) {
	caller, err := s.repo.GetByID(ctx, callerID)
	if err != nil {
		return nil, 0, err
	}

	var roles []Role
	if caller.Role == RolePrimaryCare {
		roles = []Role{RolePrimaryCare, RoleSpecialist, RoleOther}
	} else {
		roles = []Role{RolePrimaryCare}
	}
	return s.repo.List(ctx, roles, callerID, limit, offset)
}

func (s *Service) sendVerificationCode(ctx context.Context, p *Participant) error {
	code, err := s.codes.Issue(ctx, p.Email)
	if err != nil {
		return err
	}
	_, err = s.notifier.SendFromTemplate(ctx, "provider-otp", map[string]string{
		"provider_name": p.Name,
		"code":          code,
		"ttl_minutes":   strconv.Itoa(int(s.otpTTL / time.Minute)),
	}, p.Email)
	return err
}
