package referral

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/refermed/refermed/internal/domain/identity"
)

// mockRepo is an in-memory Repository mirroring the compare-and-set semantics
// of the pg implementation.
type mockRepo struct {
	mu        sync.Mutex
	referrals map[uuid.UUID]*Referral
}

func newMockRepo() *mockRepo {
	return &mockRepo{referrals: make(map[uuid.UUID]*Referral)}
}

func (m *mockRepo) Create(_ context.Context, r *Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.referrals[r.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.referrals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) Complete(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.referrals[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != StatusPending {
		return false, nil
	}
	now := time.Now()
	r.Status = StatusCompleted
	r.CompletedAt = &now
	r.UpdatedAt = now
	return true, nil
}

func (m *mockRepo) SetReferBack(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.referrals[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != StatusPending {
		return false, nil
	}
	r.ReferBack = true
	r.UpdatedAt = time.Now()
	return true, nil
}

func (m *mockRepo) ListByReferrer(_ context.Context, providerID uuid.UUID, limit, offset int) ([]*Referral, int, error) {
	return m.list(func(r *Referral) bool { return r.ReferredBy == providerID }, limit, offset)
}

func (m *mockRepo) ListByReferredTo(_ context.Context, providerID uuid.UUID, limit, offset int) ([]*Referral, int, error) {
	return m.list(func(r *Referral) bool { return r.ReferredTo == providerID }, limit, offset)
}

func (m *mockRepo) list(match func(*Referral) bool, limit, offset int) ([]*Referral, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*Referral
	for _, r := range m.referrals {
		if match(r) {
			cp := *r
			matched = append(matched, &cp)
		}
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

func (m *mockRepo) CountsFor(_ context.Context, providerID uuid.UUID) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c Counts
	for _, r := range m.referrals {
		if r.ReferredTo != providerID {
			continue
		}
		c.Received++
		if r.Status == StatusCompleted {
			c.Completed++
		}
	}
	return c, nil
}

// mockDirectory serves a fixed participant set.
type mockDirectory struct {
	participants map[uuid.UUID]*identity.Participant
}

func (d *mockDirectory) GetParticipant(_ context.Context, id uuid.UUID) (*identity.Participant, error) {
	p, ok := d.participants[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return p, nil
}

// chanSink feeds published events into a channel for assertion.
type chanSink struct {
	events chan Event
}

func (s *chanSink) Publish(_ context.Context, e Event) error {
	s.events <- e
	return nil
}

func (s *chanSink) next(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-s.events:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event published")
		return Event{}
	}
}

func (s *chanSink) expectNone(t *testing.T) {
	t.Helper()
	select {
	case e := <-s.events:
		t.Fatalf("unexpected event %s", e.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

type fixture struct {
	svc  *Service
	repo *mockRepo
	sink *chanSink

	pcp        uuid.UUID
	specialist uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pcp := &identity.Participant{ID: uuid.New(), Name: "Dr. Adams", Email: "adams@example.com", Role: identity.RolePrimaryCare, Verified: true}
	spec := &identity.Participant{ID: uuid.New(), Name: "Dr. Baker", Email: "baker@example.com", Role: identity.RoleSpecialist, Verified: true}

	repo := newMockRepo()
	sink := &chanSink{events: make(chan Event, 16)}
	dir := &mockDirectory{participants: map[uuid.UUID]*identity.Participant{
		pcp.ID:  pcp,
		spec.ID: spec,
	}}
	svc := NewService(repo, dir, sink, zerolog.Nop())
	return &fixture{svc: svc, repo: repo, sink: sink, pcp: pcp.ID, specialist: spec.ID}
}

func (f *fixture) create(t *testing.T) *Referral {
	t.Helper()
	ref, err := f.svc.Create(context.Background(), f.pcp, f.specialist, "Jane Roe", "jane@example.com", "persistent cough")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return ref
}

func TestCreate_StartsPending(t *testing.T) {
	f := newFixture(t)
	ref := f.create(t)

	if ref.Status != StatusPending {
		t.Errorf("expected pending, got %s", ref.Status)
	}
	if ref.ReferBack {
		t.Error("new referral must not have refer_back set")
	}
	if ref.ID == uuid.Nil {
		t.Error("expected id to be assigned")
	}

	e := f.sink.next(t)
	if e.Kind != EventCreated {
		t.Errorf("expected %s event, got %s", EventCreated, e.Kind)
	}
}

func TestCreate_RejectsUnknownParticipant(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), f.pcp, uuid.New(), "Jane Roe", "", "")
	if err != ErrInvalidParticipant {
		t.Fatalf("expected ErrInvalidParticipant, got %v", err)
	}
}

func TestCreate_RejectsUnverifiedParticipant(t *testing.T) {
	f := newFixture(t)
	ghost := &identity.Participant{ID: uuid.New(), Name: "Dr. Ghost", Role: identity.RoleSpecialist, Verified: false}
	f.svc.directory.(*mockDirectory).participants[ghost.ID] = ghost

	_, err := f.svc.Create(context.Background(), f.pcp, ghost.ID, "Jane Roe", "", "")
	if err != ErrInvalidParticipant {
		t.Fatalf("expected ErrInvalidParticipant, got %v", err)
	}
}

func TestCreate_RejectsSelfReferral(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), f.pcp, f.pcp, "Jane Roe", "", "")
	if err != ErrSelfReferral {
		t.Fatalf("expected ErrSelfReferral, got %v", err)
	}
}

func TestComplete_ByRecipient(t *testing.T) {
	f := newFixture(t)
	ref := f.create(t)
	f.sink.next(t) // created

	got, err := f.svc.Complete(context.Background(), f.specialist, ref.ID)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}

	e := f.sink.next(t)
	if e.Kind != EventCompleted {
		t.Errorf("expected %s event, got %s", EventCompleted, e.Kind)
	}
}

func TestComplete_ByReferrerWhilePendingIsForbidden(t *testing.T) {
	f := newFixture(t)
	ref := f.create(t)

	if _, err := f.svc.Complete(context.Background(), f.pcp, ref.ID); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestComplete_ByOutsiderIsForbidden(t *testing.T) {
	f := newFixture(t)
	ref := f.create(t)

	if _, err := f.svc.Complete(context.Background(), uuid.New(), ref.ID); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestComplete_IdempotentOnceTerminal(t *testing.T) {
	f := newFixture(t)
	ref := f.create(t)
	f.sink.next(t)

	if _, err := f.svc.Complete(context.Background(), f.specialist, ref.ID); err != nil {
		t.Fatalf("first Complete failed: %v", err)
	}
	f.sink.next(t)

	// Either participant re-completing gets the terminal record, no new event.
	for _, actor := range []uuid.UUID{f.specialist, f.pcp} {
		got, err := f.svc.Complete(context.Background(), actor, ref.ID)
		if err != nil {
			t.Fatalf("repeat Complete by %s failed: %v", actor, err)
		}
		if got.Status != StatusCompleted {
			t.Errorf("expected completed, got %s", got.Status)
		}
	}
	f.sink.expectNone(t)
}

func TestComplete_NotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Complete(context.Background(), f.specialist, uuid.New()); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestComplete_ConcurrentSingleTransition(t *testing.T) {
	f := newFixture(t)
	ref := f.create(t)
	f.sink.next(t)

	const goroutines = 20
	var wg sync.WaitGroup
	wg.Add(goroutines)
	errs := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_, err := f.svc.Complete(context.Background(), f.specialist, ref.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Complete failed: %v", err)
		}
	}

	// Exactly one completed event despite the stampede.
	f.sink.next(t)
	f.sink.expectNone(t)
}

func TestReferBack_SetsFlagWhilePending(t *testing.T) {
	f := newFixture(t)
	ref := f.create(t)
	f.sink.next(t)

	got, err := f.svc.ReferBack(context.Background(), f.specialist, ref.ID)
	if err != nil {
		t.Fatalf("ReferBack failed: %v", err)
	}
	if !got.ReferBack {
		t.Error("expected refer_back flag set")
	}
	if got.Status != StatusPending {
		t.Errorf("refer back must not change status, got %s", got.Status)
	}

	e := f.sink.next(t)
	if e.Kind != EventReferredBack {
		t.Errorf("expected %s event, got %s", EventReferredBack, e.Kind)
	}
}

func TestReferBack_RepeatIsNoOp(t *testing.T) {
	f := newFixture(t)
	ref := f.create(t)
	f.sink.next(t)

	if _, err := f.svc.ReferBack(context.Background(), f.specialist, ref.ID); err != nil {
		t.Fatalf("ReferBack failed: %v", err)
	}
	f.sink.next(t)

	got, err := f.svc.ReferBack(context.Background(), f.specialist, ref.ID)
	if err != nil {
		t.Fatalf("repeat ReferBack failed: %v", err)
	}
	if !got.ReferBack {
		t.Error("expected refer_back flag still set")
	}
	f.sink.expectNone(t)
}

func TestReferBack_ByReferrerIsForbidden(t *testing.T) {
	f := newFixture(t)
	ref := f.create(t)

	if _, err := f.svc.ReferBack(context.Background(), f.pcp, ref.ID); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestReferBack_AfterCompletionRejected(t *testing.T) {
	f := newFixture(t)
	ref := f.create(t)

	if _, err := f.svc.Complete(context.Background(), f.specialist, ref.ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if _, err := f.svc.ReferBack(context.Background(), f.specialist, ref.ID); err != ErrAlreadyCompleted {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}
}

// Full lifecycle: refer back for follow-up, then complete; the flag survives
// completion.
func TestLifecycle_ReferBackThenComplete(t *testing.T) {
	f := newFixture(t)
	ref := f.create(t)

	if _, err := f.svc.ReferBack(context.Background(), f.specialist, ref.ID); err != nil {
		t.Fatalf("ReferBack failed: %v", err)
	}
	got, err := f.svc.Complete(context.Background(), f.specialist, ref.ID)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if !got.ReferBack {
		t.Error("refer_back flag should survive completion")
	}
}

func TestGet_MembersOnly(t *testing.T) {
	f := newFixture(t)
	ref := f.create(t)

	if _, err := f.svc.Get(context.Background(), f.pcp, ref.ID); err != nil {
		t.Fatalf("Get by referrer failed: %v", err)
	}
	if _, err := f.svc.Get(context.Background(), uuid.New(), ref.ID); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden for outsider, got %v", err)
	}
}

func TestCountsFor(t *testing.T) {
	f := newFixture(t)
	r1 := f.create(t)
	f.create(t)
	f.create(t)

	if _, err := f.svc.Complete(context.Background(), f.specialist, r1.ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	counts, err := f.svc.CountsFor(context.Background(), f.specialist)
	if err != nil {
		t.Fatalf("CountsFor failed: %v", err)
	}
	if counts.Received != 3 {
		t.Errorf("expected 3 received, got %d", counts.Received)
	}
	if counts.Completed != 1 {
		t.Errorf("expected 1 completed, got %d", counts.Completed)
	}
}

func TestListSentAndReceived(t *testing.T) {
	f := newFixture(t)
	f.create(t)
	f.create(t)

	sent, total, err := f.svc.ListSent(context.Background(), f.pcp, 20, 0)
	if err != nil {
		t.Fatalf("ListSent failed: %v", err)
	}
	if total != 2 || len(sent) != 2 {
		t.Fatalf("expected 2 sent, got total=%d len=%d", total, len(sent))
	}

	received, total, err := f.svc.ListReceived(context.Background(), f.specialist, 20, 0)
	if err != nil {
		t.Fatalf("ListReceived failed: %v", err)
	}
	if total != 2 || len(received) != 2 {
		t.Fatalf("expected 2 received, got total=%d len=%d", total, len(received))
	}
}
