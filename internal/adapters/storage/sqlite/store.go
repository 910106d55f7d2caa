package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/PabloGalante/pocketpal/internal/adapters/storage/fanout"
	"github.com/PabloGalante/pocketpal/internal/domain"
	"github.com/PabloGalante/pocketpal/internal/observability"
)

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a single-device domain.CompanionGateway on a local SQLite file.
// Subscribers are notified after each committed write made through this Store.
type Store struct {
	db *sql.DB

	companionHub *fanout.Hub
	historyHub   *fanout.Hub
}

// Open opens (or creates) the database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// one writer keeps transactions from hitting SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db)
}

// New returns a Store bound to an already migrated database handle.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Store{
		db:           db,
		companionHub: fanout.NewHub(),
		historyHub:   fanout.NewHub(),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(timeLayout, v)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readRecord(ctx context.Context, q queryer, id domain.UserID) (*domain.CompanionRecord, error) {
	var (
		rec       domain.CompanionRecord
		mood      string
		lastAt    sql.NullString
		notify    int
		createdAt string
	)
	err := q.QueryRowContext(ctx, `
		SELECT email, companion_name, avatar_id, mood, last_interaction_at, notifications_enabled, created_at
		FROM users WHERE user_id = ?`, string(id),
	).Scan(&rec.Email, &rec.CompanionName, &rec.AvatarID, &mood, &lastAt, &notify, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("read companion: %w", err)
	}

	rec.UserID = id
	rec.Mood = domain.Mood(mood)
	rec.NotificationsEnabled = notify != 0
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("read companion: created_at: %w", err)
	}
	if lastAt.Valid {
		t, err := parseTime(lastAt.String)
		if err != nil {
			return nil, fmt.Errorf("read companion: last_interaction_at: %w", err)
		}
		rec.LastInteractionAt = &t
	}
	return &rec, nil
}

func writeRecord(ctx context.Context, tx *sql.Tx, rec *domain.CompanionRecord) error {
	var lastAt any
	if rec.LastInteractionAt != nil {
		lastAt = formatTime(*rec.LastInteractionAt)
	}
	notify := 0
	if rec.NotificationsEnabled {
		notify = 1
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (user_id, email, companion_name, avatar_id, mood, last_interaction_at, notifications_enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			companion_name = excluded.companion_name,
			avatar_id = excluded.avatar_id,
			mood = excluded.mood,
			last_interaction_at = excluded.last_interaction_at,
			notifications_enabled = excluded.notifications_enabled`,
		string(rec.UserID), rec.Email, rec.CompanionName, rec.AvatarID, string(rec.Mood),
		lastAt, notify, formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("write companion: %w", err)
	}
	return nil
}

// mergeFields applies fields inside tx, creating the record when missing.
func (s *Store) mergeFields(ctx context.Context, tx *sql.Tx, id domain.UserID, fields domain.CompanionFields) error {
	rec, err := readRecord(ctx, tx, id)
	if errors.Is(err, domain.ErrRecordNotFound) {
		rec = &domain.CompanionRecord{UserID: id, Mood: domain.MoodHappy, CreatedAt: time.Now()}
	} else if err != nil {
		return err
	}
	fields.Apply(rec)
	return writeRecord(ctx, tx, rec)
}

func insertEvent(ctx context.Context, tx *sql.Tx, id domain.UserID, event domain.InteractionEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO interactions (id, user_id, kind, mood_before, mood_after, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(event.ID), string(id), string(event.Kind),
		string(event.MoodBefore), string(event.MoodAfter), formatTime(event.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite %s: begin transaction: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return fmt.Errorf("sqlite %s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite %s: commit transaction: %w", op, err)
	}
	return nil
}

func (s *Store) CreateUserRecord(ctx context.Context, id domain.UserID, email string, createdAt time.Time) error {
	rec := domain.NewUserRecord(id, email, createdAt)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, email, mood, notifications_enabled, created_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		string(rec.UserID), rec.Email, string(rec.Mood), formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite CreateUserRecord: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.companionHub.Notify(string(id))
	}
	return nil
}

func (s *Store) ReadCompanion(ctx context.Context, id domain.UserID) (*domain.CompanionRecord, error) {
	return readRecord(ctx, s.db, id)
}

func (s *Store) WriteCompanionFields(ctx context.Context, id domain.UserID, fields domain.CompanionFields) error {
	err := s.inTx(ctx, "WriteCompanionFields", func(tx *sql.Tx) error {
		return s.mergeFields(ctx, tx, id, fields)
	})
	if err != nil {
		return err
	}
	s.companionHub.Notify(string(id))
	return nil
}

func (s *Store) AppendInteractionEvent(ctx context.Context, id domain.UserID, event domain.InteractionEvent) error {
	err := s.inTx(ctx, "AppendInteractionEvent", func(tx *sql.Tx) error {
		return insertEvent(ctx, tx, id, event)
	})
	if err != nil {
		return err
	}
	s.historyHub.Notify(string(id))
	return nil
}

func (s *Store) CommitInteraction(
	ctx context.Context,
	id domain.UserID,
	fields domain.CompanionFields,
	event domain.InteractionEvent,
) error {
	err := s.inTx(ctx, "CommitInteraction", func(tx *sql.Tx) error {
		if err := s.mergeFields(ctx, tx, id, fields); err != nil {
			return err
		}
		return insertEvent(ctx, tx, id, event)
	})
	if err != nil {
		return err
	}
	s.companionHub.Notify(string(id))
	s.historyHub.Notify(string(id))
	return nil
}

func (s *Store) ResetCompanion(ctx context.Context, id domain.UserID) error {
	err := s.inTx(ctx, "ResetCompanion", func(tx *sql.Tx) error {
		if err := s.mergeFields(ctx, tx, id, domain.ResetFields()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM interactions WHERE user_id = ?`, string(id)); err != nil {
			return fmt.Errorf("delete interactions: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.companionHub.Notify(string(id))
	s.historyHub.Notify(string(id))
	return nil
}

func (s *Store) ListInteractionEvents(ctx context.Context, id domain.UserID, limit int) ([]domain.InteractionEvent, error) {
	query := `
		SELECT id, kind, mood_before, mood_after, occurred_at
		FROM interactions WHERE user_id = ?
		ORDER BY occurred_at DESC, rowid DESC`
	args := []any{string(id)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite ListInteractionEvents: %w", err)
	}
	defer rows.Close()

	var out []domain.InteractionEvent
	for rows.Next() {
		var (
			eventID, kind, before, after, occurredAt string
		)
		if err := rows.Scan(&eventID, &kind, &before, &after, &occurredAt); err != nil {
			return nil, fmt.Errorf("sqlite ListInteractionEvents: scan: %w", err)
		}
		event, err := scanEvent(eventID, kind, before, after, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite ListInteractionEvents: %w", err)
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite ListInteractionEvents: %w", err)
	}
	return out, nil
}

func scanEvent(id, kind, before, after, occurredAt string) (domain.InteractionEvent, error) {
	k, err := domain.ParseInteractionKind(kind)
	if err != nil {
		return domain.InteractionEvent{}, err
	}
	mb, err := domain.ParseMood(before)
	if err != nil {
		return domain.InteractionEvent{}, err
	}
	ma, err := domain.ParseMood(after)
	if err != nil {
		return domain.InteractionEvent{}, err
	}
	at, err := parseTime(occurredAt)
	if err != nil {
		return domain.InteractionEvent{}, fmt.Errorf("occurred_at: %w", err)
	}
	return domain.InteractionEvent{
		ID:         domain.EventID(id),
		Kind:       k,
		MoodBefore: mb,
		MoodAfter:  ma,
		OccurredAt: at,
	}, nil
}

// SubscribeCompanion delivers the current record right away, then after every write.
func (s *Store) SubscribeCompanion(
	ctx context.Context,
	id domain.UserID,
	onUpdate func(*domain.CompanionRecord),
) (func(), error) {
	log := observability.LoggerFromContext(ctx)
	deliver := func() {
		rec, err := s.ReadCompanion(context.WithoutCancel(ctx), id)
		if errors.Is(err, domain.ErrRecordNotFound) {
			onUpdate(nil)
			return
		}
		if err != nil {
			log.Error("companion listener read failed", "error", err)
			return
		}
		onUpdate(rec)
	}

	unsubscribe := s.companionHub.Subscribe(string(id), deliver)
	deliver()
	return unsubscribe, nil
}

func (s *Store) SubscribeInteractionHistory(
	ctx context.Context,
	id domain.UserID,
	limit int,
	onUpdate func([]domain.InteractionEvent),
) (func(), error) {
	log := observability.LoggerFromContext(ctx)
	deliver := func() {
		events, err := s.ListInteractionEvents(context.WithoutCancel(ctx), id, limit)
		if err != nil {
			log.Error("history listener read failed", "error", err)
			return
		}
		onUpdate(events)
	}

	unsubscribe := s.historyHub.Subscribe(string(id), deliver)
	deliver()
	return unsubscribe, nil
}
