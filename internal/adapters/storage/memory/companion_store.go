package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/PabloGalante/pocketpal/internal/adapters/storage/fanout"
	"github.com/PabloGalante/pocketpal/internal/domain"
)

// Operation names accepted by FailNext.
const (
	OpCreateUserRecord       = "CreateUserRecord"
	OpReadCompanion          = "ReadCompanion"
	OpWriteCompanionFields   = "WriteCompanionFields"
	OpAppendInteractionEvent = "AppendInteractionEvent"
	OpCommitInteraction      = "CommitInteraction"
	OpResetCompanion         = "ResetCompanion"
	OpListInteractionEvents  = "ListInteractionEvents"
)

// CompanionStore is an in-memory implementation of domain.CompanionGateway.
// It is NOT persistent and is only suitable for development / tests.
// Subscribers are notified synchronously after each successful write.
type CompanionStore struct {
	mu      sync.RWMutex
	records map[domain.UserID]*domain.CompanionRecord
	events  map[domain.UserID][]domain.InteractionEvent // append order

	companionHub *fanout.Hub
	historyHub   *fanout.Hub

	faultMu sync.Mutex
	faults  map[string][]error
}

func NewCompanionStore() *CompanionStore {
	return &CompanionStore{
		records:      make(map[domain.UserID]*domain.CompanionRecord),
		events:       make(map[domain.UserID][]domain.InteractionEvent),
		companionHub: fanout.NewHub(),
		historyHub:   fanout.NewHub(),
		faults:       make(map[string][]error),
	}
}

// FailNext makes the next call of op return err. Calls queue up.
func (s *CompanionStore) FailNext(op string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

func (s *CompanionStore) fault(op string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()

	queued := s.faults[op]
	if len(queued) == 0 {
		return nil
	}
	s.faults[op] = queued[1:]
	return queued[0]
}

// PutRecord stores rec as is, replacing any existing record, and notifies subscribers.
func (s *CompanionStore) PutRecord(rec domain.CompanionRecord) {
	s.mu.Lock()
	s.records[rec.UserID] = &rec
	s.mu.Unlock()

	s.companionHub.Notify(string(rec.UserID))
}

func (s *CompanionStore) CreateUserRecord(ctx context.Context, id domain.UserID, email string, createdAt time.Time) error {
	if err := s.fault(OpCreateUserRecord); err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.records[id]; exists {
		s.mu.Unlock()
		return nil
	}
	s.records[id] = domain.NewUserRecord(id, email, createdAt)
	s.mu.Unlock()

	s.companionHub.Notify(string(id))
	return nil
}

func (s *CompanionStore) ReadCompanion(ctx context.Context, id domain.UserID) (*domain.CompanionRecord, error) {
	if err := s.fault(OpReadCompanion); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked(id)
}

func (s *CompanionStore) readLocked(id domain.UserID) (*domain.CompanionRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	out := *rec
	if rec.LastInteractionAt != nil {
		t := *rec.LastInteractionAt
		out.LastInteractionAt = &t
	}
	return &out, nil
}

func (s *CompanionStore) WriteCompanionFields(ctx context.Context, id domain.UserID, fields domain.CompanionFields) error {
	if err := s.fault(OpWriteCompanionFields); err != nil {
		return err
	}

	s.mu.Lock()
	s.mergeLocked(id, fields)
	s.mu.Unlock()

	s.companionHub.Notify(string(id))
	return nil
}

// mergeLocked creates the record when missing, like a merge-set on a document store.
func (s *CompanionStore) mergeLocked(id domain.UserID, fields domain.CompanionFields) {
	rec, ok := s.records[id]
	if !ok {
		rec = &domain.CompanionRecord{UserID: id, Mood: domain.MoodHappy}
		s.records[id] = rec
	}
	fields.Apply(rec)
}

func (s *CompanionStore) AppendInteractionEvent(ctx context.Context, id domain.UserID, event domain.InteractionEvent) error {
	if err := s.fault(OpAppendInteractionEvent); err != nil {
		return err
	}

	s.mu.Lock()
	s.events[id] = append(s.events[id], event)
	s.mu.Unlock()

	s.historyHub.Notify(string(id))
	return nil
}

func (s *CompanionStore) CommitInteraction(
	ctx context.Context,
	id domain.UserID,
	fields domain.CompanionFields,
	event domain.InteractionEvent,
) error {
	if err := s.fault(OpCommitInteraction); err != nil {
		return err
	}

	s.mu.Lock()
	s.mergeLocked(id, fields)
	s.events[id] = append(s.events[id], event)
	s.mu.Unlock()

	s.companionHub.Notify(string(id))
	s.historyHub.Notify(string(id))
	return nil
}

func (s *CompanionStore) ResetCompanion(ctx context.Context, id domain.UserID) error {
	if err := s.fault(OpResetCompanion); err != nil {
		return err
	}

	s.mu.Lock()
	s.mergeLocked(id, domain.ResetFields())
	delete(s.events, id)
	s.mu.Unlock()

	s.companionHub.Notify(string(id))
	s.historyHub.Notify(string(id))
	return nil
}

func (s *CompanionStore) ListInteractionEvents(ctx context.Context, id domain.UserID, limit int) ([]domain.InteractionEvent, error) {
	if err := s.fault(OpListInteractionEvents); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(id, limit), nil
}

// listLocked returns most-recent-first; ties keep the later append first.
func (s *CompanionStore) listLocked(id domain.UserID, limit int) []domain.InteractionEvent {
	out := slices.Clone(s.events[id])
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b domain.InteractionEvent) int {
		return b.OccurredAt.Compare(a.OccurredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SubscribeCompanion delivers the current record right away, then after every write.
func (s *CompanionStore) SubscribeCompanion(
	ctx context.Context,
	id domain.UserID,
	onUpdate func(*domain.CompanionRecord),
) (func(), error) {
	deliver := func() {
		s.mu.RLock()
		rec, err := s.readLocked(id)
		s.mu.RUnlock()
		if err != nil {
			rec = nil
		}
		onUpdate(rec)
	}

	unsubscribe := s.companionHub.Subscribe(string(id), deliver)
	deliver()
	return unsubscribe, nil
}

// SubscribeInteractionHistory delivers the current history right away, then after every change.
func (s *CompanionStore) SubscribeInteractionHistory(
	ctx context.Context,
	id domain.UserID,
	limit int,
	onUpdate func([]domain.InteractionEvent),
) (func(), error) {
	deliver := func() {
		s.mu.RLock()
		events := s.listLocked(id, limit)
		s.mu.RUnlock()
		onUpdate(events)
	}

	unsubscribe := s.historyHub.Subscribe(string(id), deliver)
	deliver()
	return unsubscribe, nil
}

// Subscribers reports live subscriptions for an identity, companion and history combined.
func (s *CompanionStore) Subscribers(id domain.UserID) int {
	return s.companionHub.Subscribers(string(id)) + s.historyHub.Subscribers(string(id))
}
