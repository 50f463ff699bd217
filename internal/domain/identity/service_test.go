package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/refermed/refermed/internal/platform/auth"
	"github.com/refermed/refermed/internal/platform/notification"
	"github.com/refermed/refermed/internal/platform/otp"
)

// mockRepo is an in-memory Repository for tests.
type mockRepo struct {
	mu           sync.Mutex
	participants map[uuid.UUID]*Participant
}

func newMockRepo() *mockRepo {
	return &mockRepo{participants: make(map[uuid.UUID]*Participant)}
}

func (m *mockRepo) Create(_ context.Context, p *Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.participants[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) GetByEmail(_ context.Context, email string) (*Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) SetVerified(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return ErrNotFound
	}
	p.Verified = true
	return nil
}

func (m *mockRepo) List(_ context.Context, roles []Role, exclude uuid.UUID, limit, offset int) ([]*Participant, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	allowed := make(map[Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	var matched []*Participant
	for _, p := range m.participants {
		if p.ID == exclude || !p.Verified || !allowed[p.Role] {
			continue
		}
		cp := *p
		matched = append(matched, &cp)
	}
	total := len(matched)
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

// fakeNotifier records template sends.
type fakeNotifier struct {
	mu    sync.Mutex
	sends []struct {
		Template  string
		Recipient string
		Data      map[string]string
	}
}

func (f *fakeNotifier) SendFromTemplate(_ context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, struct {
		Template  string
		Recipient string
		Data      map[string]string
	}{templateID, recipient, data})
	return &notification.Notification{Status: "sent"}, nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func newTestService() (*Service, *mockRepo, *otp.MemoryStore, *fakeNotifier) {
	repo := newMockRepo()
	codes := otp.NewMemoryStore(10 * time.Minute)
	notifier := &fakeNotifier{}
	cfg := auth.JWTConfig{SigningKey: []byte("test-signing-key-0123456789abcdef")}
	svc := NewService(repo, codes, notifier, cfg, 10*time.Minute, zerolog.Nop())
	return svc, repo, codes, notifier
}

func register(t *testing.T, svc *Service, name, email string, role Role) *Participant {
	t.Helper()
	p, err := svc.Register(context.Background(), name, email, role, "")
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", email, err)
	}
	return p
}

func verify(t *testing.T, svc *Service, codes *otp.MemoryStore, email string) {
	t.Helper()
	code, err := codes.Issue(context.Background(), email)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := svc.Verify(context.Background(), email, code); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
}

func TestRegister_CreatesUnverified(t *testing.T) {
	svc, _, _, notifier := newTestService()

	p := register(t, svc, "Dr. Adams", "adams@example.com", RolePrimaryCare)
	if p.Verified {
		t.Error("new participant should be unverified")
	}
	if p.ID == uuid.Nil {
		t.Error("expected id to be assigned")
	}
	if notifier.count() != 1 {
		t.Errorf("expected 1 verification email, got %d", notifier.count())
	}
	if notifier.sends[0].Template != "provider-otp" {
		t.Errorf("unexpected template %q", notifier.sends[0].Template)
	}
}

func TestRegister_RejectsDuplicateEmail(t *testing.T) {
	svc, _, _, _ := newTestService()
	register(t, svc, "Dr. Adams", "adams@example.com", RolePrimaryCare)

	_, err := svc.Register(context.Background(), "Dr. Impostor", "adams@example.com", RoleSpecialist, "")
	if err != ErrEmailTaken {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegister_RejectsUnknownRole(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.Register(context.Background(), "Dr. X", "x@example.com", Role("wizard"), "")
	if err != ErrInvalidRole {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestVerify_MarksVerified(t *testing.T) {
	svc, repo, codes, _ := newTestService()
	p := register(t, svc, "Dr. Adams", "adams@example.com", RolePrimaryCare)
	verify(t, svc, codes, "adams@example.com")

	got, err := repo.GetByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.Verified {
		t.Error("expected participant to be verified")
	}
}

func TestVerify_WrongCode(t *testing.T) {
	svc, _, codes, _ := newTestService()
	register(t, svc, "Dr. Adams", "adams@example.com", RolePrimaryCare)
	if _, err := codes.Issue(context.Background(), "adams@example.com"); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if _, err := svc.Verify(context.Background(), "adams@example.com", "000000"); err != otp.ErrCodeMismatch {
		t.Fatalf("expected ErrCodeMismatch, got %v", err)
	}
}

func TestVerify_AlreadyVerifiedIsNoOp(t *testing.T) {
	svc, _, codes, _ := newTestService()
	register(t, svc, "Dr. Adams", "adams@example.com", RolePrimaryCare)
	verify(t, svc, codes, "adams@example.com")

	p, err := svc.Verify(context.Background(), "adams@example.com", "irrelevant")
	if err != nil {
		t.Fatalf("expected no-op verify to succeed, got %v", err)
	}
	if !p.Verified {
		t.Error("expected verified participant")
	}
}

func TestLogin_IssuesToken(t *testing.T) {
	svc, _, codes, _ := newTestService()
	p := register(t, svc, "Dr. Adams", "adams@example.com", RolePrimaryCare)
	verify(t, svc, codes, "adams@example.com")

	token, got, err := svc.Login(context.Background(), "adams@example.com")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}
	if got.ID != p.ID {
		t.Error("login returned wrong participant")
	}

	claims, err := auth.ParseToken(auth.JWTConfig{SigningKey: []byte("test-signing-key-0123456789abcdef")}, token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if claims.Subject != p.ID.String() {
		t.Errorf("token subject = %s, want %s", claims.Subject, p.ID)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "primary_care" {
		t.Errorf("unexpected roles: %v", claims.Roles)
	}
}

func TestLogin_UnverifiedResendsCode(t *testing.T) {
	svc, _, _, notifier := newTestService()
	register(t, svc, "Dr. Adams", "adams@example.com", RolePrimaryCare)

	token, _, err := svc.Login(context.Background(), "adams@example.com")
	if err != ErrNotVerified {
		t.Fatalf("expected ErrNotVerified, got %v", err)
	}
	if token != "" {
		t.Error("unverified login must not issue a token")
	}
	// One email from registration, one from the login resend.
	if notifier.count() != 2 {
		t.Errorf("expected 2 verification emails, got %d", notifier.count())
	}
}

func TestListProviders_TierFiltering(t *testing.T) {
	svc, _, codes, _ := newTestService()

	pcp := register(t, svc, "Dr. PCP", "pcp@example.com", RolePrimaryCare)
	spec := register(t, svc, "Dr. Spec", "spec@example.com", RoleSpecialist)
	other := register(t, svc, "Dr. Other", "other@example.com", RoleOther)
	for _, email := range []string{"pcp@example.com", "spec@example.com", "other@example.com"} {
		verify(t, svc, codes, email)
	}
	_ = other

	// Primary care sees every tier except themselves.
	items, total, err := svc.ListProviders(context.Background(), pcp.ID, 20, 0)
	if err != nil {
		t.Fatalf("ListProviders failed: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("primary care caller: expected 2 providers, got total=%d len=%d", total, len(items))
	}

	// Specialists see primary care only.
	items, total, err = svc.ListProviders(context.Background(), spec.ID, 20, 0)
	if err != nil {
		t.Fatalf("ListProviders failed: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("specialist caller: expected 1 provider, got total=%d len=%d", total, len(items))
	}
	if items[0].Role != RolePrimaryCare {
		t.Errorf("specialist caller should only see primary care, got %s", items[0].Role)
	}
}

func TestListProviders_ExcludesUnverified(t *testing.T) {
	svc, _, codes, _ := newTestService()
	pcp := register(t, svc, "Dr. PCP", "pcp@example.com", RolePrimaryCare)
	verify(t, svc, codes, "pcp@example.com")
	register(t, svc, "Dr. Ghost", "ghost@example.com", RoleSpecialist)

	_, total, err := svc.ListProviders(context.Background(), pcp.ID, 20, 0)
	if err != nil {
		t.Fatalf("ListProviders failed: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected unverified provider hidden, got total=%d", total)
	}
}
