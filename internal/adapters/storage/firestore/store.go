package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/pocketpal/internal/domain"
	"github.com/PabloGalante/pocketpal/internal/observability"
)

type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore store.
// Uses the project passed (POCKETPAL_GCP_PROJECT); FIRESTORE_EMULATOR_HOST is honored by the client.
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) usersCol() *firestore.CollectionRef {
	return s.client.Collection("users")
}

func (s *Store) userDoc(id domain.UserID) *firestore.DocumentRef {
	return s.usersCol().Doc(string(id))
}

func (s *Store) interactionsCol(id domain.UserID) *firestore.CollectionRef {
	return s.userDoc(id).Collection("interactions")
}

func (s *Store) interactionDoc(id domain.UserID, eventID domain.EventID) *firestore.DocumentRef {
	return s.interactionsCol(id).Doc(string(eventID))
}

func (s *Store) historyQuery(id domain.UserID, limit int) firestore.Query {
	q := s.interactionsCol(id).OrderBy("occurredAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type userDoc struct {
	Email                string     `firestore:"email"`
	CompanionName        string     `firestore:"companionName"`
	AvatarID             string     `firestore:"avatarId"`
	Mood                 string     `firestore:"mood"`
	LastInteractionAt    *time.Time `firestore:"lastInteractionAt"`
	NotificationsEnabled bool       `firestore:"notificationsEnabled"`
	CreatedAt            time.Time  `firestore:"createdAt"`
}

type interactionDoc struct {
	Kind       string    `firestore:"kind"`
	MoodBefore string    `firestore:"moodBefore"`
	MoodAfter  string    `firestore:"moodAfter"`
	OccurredAt time.Time `firestore:"occurredAt"`
}

func toRecord(id domain.UserID, doc userDoc) *domain.CompanionRecord {
	return &domain.CompanionRecord{
		UserID:               id,
		Email:                doc.Email,
		CompanionName:        doc.CompanionName,
		AvatarID:             doc.AvatarID,
		Mood:                 domain.Mood(doc.Mood),
		LastInteractionAt:    doc.LastInteractionAt,
		NotificationsEnabled: doc.NotificationsEnabled,
		CreatedAt:            doc.CreatedAt,
	}
}

func toEvent(snap *firestore.DocumentSnapshot) (domain.InteractionEvent, error) {
	var doc interactionDoc
	if err := snap.DataTo(&doc); err != nil {
		return domain.InteractionEvent{}, fmt.Errorf("decode interactionDoc: %w", err)
	}
	return eventFromDoc(snap.Ref.ID, doc)
}

func eventFromDoc(id string, doc interactionDoc) (domain.InteractionEvent, error) {
	kind, err := domain.ParseInteractionKind(doc.Kind)
	if err != nil {
		return domain.InteractionEvent{}, fmt.Errorf("decode interaction %s: %w", id, err)
	}
	before, err := domain.ParseMood(doc.MoodBefore)
	if err != nil {
		return domain.InteractionEvent{}, fmt.Errorf("decode interaction %s: %w", id, err)
	}
	after, err := domain.ParseMood(doc.MoodAfter)
	if err != nil {
		return domain.InteractionEvent{}, fmt.Errorf("decode interaction %s: %w", id, err)
	}
	return domain.InteractionEvent{
		ID:         domain.EventID(id),
		Kind:       kind,
		MoodBefore: before,
		MoodAfter:  after,
		OccurredAt: doc.OccurredAt,
	}, nil
}

// fieldUpdates turns a partial update into a merge-set payload.
func fieldUpdates(f domain.CompanionFields) map[string]interface{} {
	out := map[string]interface{}{}
	if f.CompanionName != nil {
		out["companionName"] = *f.CompanionName
	}
	if f.AvatarID != nil {
		out["avatarId"] = *f.AvatarID
	}
	if f.Mood != nil {
		out["mood"] = string(*f.Mood)
	}
	if f.ClearLastInteraction {
		out["lastInteractionAt"] = nil
	} else if f.LastInteractionAt != nil {
		out["lastInteractionAt"] = *f.LastInteractionAt
	}
	if f.NotificationsEnabled != nil {
		out["notificationsEnabled"] = *f.NotificationsEnabled
	}
	return out
}

// ─────────────────────────────────────────
// CompanionGateway implementation
// ─────────────────────────────────────────

func (s *Store) CreateUserRecord(ctx context.Context, id domain.UserID, email string, createdAt time.Time) error {
	rec := domain.NewUserRecord(id, email, createdAt)
	doc := userDoc{
		Email:                rec.Email,
		Mood:                 string(rec.Mood),
		NotificationsEnabled: rec.NotificationsEnabled,
		CreatedAt:            rec.CreatedAt,
	}

	_, err := s.userDoc(id).Create(ctx, doc)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return fmt.Errorf("firestore CreateUserRecord: %w", err)
	}
	return nil
}

func (s *Store) ReadCompanion(ctx context.Context, id domain.UserID) (*domain.CompanionRecord, error) {
	snap, err := s.userDoc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("firestore ReadCompanion: %w", err)
	}

	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore ReadCompanion decode: %w", err)
	}
	return toRecord(id, doc), nil
}

func (s *Store) WriteCompanionFields(ctx context.Context, id domain.UserID, fields domain.CompanionFields) error {
	updates := fieldUpdates(fields)
	if len(updates) == 0 {
		return nil
	}

	_, err := s.userDoc(id).Set(ctx, updates, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("firestore WriteCompanionFields: %w", err)
	}
	return nil
}

func (s *Store) AppendInteractionEvent(ctx context.Context, id domain.UserID, event domain.InteractionEvent) error {
	_, err := s.interactionDoc(id, event.ID).Create(ctx, interactionDocFrom(event))
	if err != nil {
		return fmt.Errorf("firestore AppendInteractionEvent: %w", err)
	}
	return nil
}

func interactionDocFrom(event domain.InteractionEvent) interactionDoc {
	return interactionDoc{
		Kind:       string(event.Kind),
		MoodBefore: string(event.MoodBefore),
		MoodAfter:  string(event.MoodAfter),
		OccurredAt: event.OccurredAt,
	}
}

func (s *Store) CommitInteraction(
	ctx context.Context,
	id domain.UserID,
	fields domain.CompanionFields,
	event domain.InteractionEvent,
) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Set(s.userDoc(id), fieldUpdates(fields), firestore.MergeAll); err != nil {
			return err
		}
		return tx.Create(s.interactionDoc(id, event.ID), interactionDocFrom(event))
	})
	if err != nil {
		return fmt.Errorf("firestore CommitInteraction: %w", err)
	}
	return nil
}

// ResetCompanion clears the companion fields and deletes the history in one transaction.
func (s *Store) ResetCompanion(ctx context.Context, id domain.UserID) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// reads must come before writes in a transaction
		snaps, err := tx.Documents(s.interactionsCol(id).Query).GetAll()
		if err != nil {
			return err
		}
		if err := tx.Set(s.userDoc(id), fieldUpdates(domain.ResetFields()), firestore.MergeAll); err != nil {
			return err
		}
		for _, snap := range snaps {
			if err := tx.Delete(snap.Ref); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("firestore ResetCompanion: %w", err)
	}
	return nil
}

func (s *Store) ListInteractionEvents(ctx context.Context, id domain.UserID, limit int) ([]domain.InteractionEvent, error) {
	iter := s.historyQuery(id, limit).Documents(ctx)
	defer iter.Stop()

	var out []domain.InteractionEvent
	for {
		snap, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("firestore ListInteractionEvents: %w", err)
		}

		event, err := toEvent(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}

// ─────────────────────────────────────────
// Real-time listeners
// ─────────────────────────────────────────

// SubscribeCompanion listens on the user document until unsubscribe is called or ctx ends.
func (s *Store) SubscribeCompanion(
	ctx context.Context,
	id domain.UserID,
	onUpdate func(*domain.CompanionRecord),
) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	iter := s.userDoc(id).Snapshots(ctx)
	log := observability.LoggerFromContext(ctx).With("listener", "companion")

	go func() {
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err != nil {
				if !isListenerClosed(err) {
					log.Error("companion listener stopped", "error", err)
				}
				return
			}
			if !snap.Exists() {
				onUpdate(nil)
				continue
			}

			var doc userDoc
			if err := snap.DataTo(&doc); err != nil {
				log.Error("decode userDoc", "error", err)
				continue
			}
			onUpdate(toRecord(id, doc))
		}
	}()

	return cancel, nil
}

// SubscribeInteractionHistory listens on the most recent limit interactions.
func (s *Store) SubscribeInteractionHistory(
	ctx context.Context,
	id domain.UserID,
	limit int,
	onUpdate func([]domain.InteractionEvent),
) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	iter := s.historyQuery(id, limit).Snapshots(ctx)
	log := observability.LoggerFromContext(ctx).With("listener", "history")

	go func() {
		defer iter.Stop()
		for {
			qs, err := iter.Next()
			if err != nil {
				if !isListenerClosed(err) {
					log.Error("history listener stopped", "error", err)
				}
				return
			}

			snaps, err := qs.Documents.GetAll()
			if err != nil {
				log.Error("read history snapshot", "error", err)
				continue
			}
			events := make([]domain.InteractionEvent, 0, len(snaps))
			for _, snap := range snaps {
				event, err := toEvent(snap)
				if err != nil {
					log.Error("decode history snapshot", "error", err)
					continue
				}
				events = append(events, event)
			}
			onUpdate(events)
		}
	}()

	return cancel, nil
}

func isListenerClosed(err error) bool {
	return errors.Is(err, iterator.Done) ||
		errors.Is(err, context.Canceled) ||
		status.Code(err) == codes.Canceled
}
