package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/dkeye/Beacon/internal/domain"
)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) quota(ctx context.Context, q querier, uid domain.UserID) (domain.Quota, error) {
	var out domain.Quota
	err := q.QueryRowContext(ctx, `
		SELECT s.id, s.current_period_start, s.current_period_end,
		       p.id, p.name, p.max_listeners, p.max_languages, p.minutes_per_month
		FROM subscriptions s JOIN plans p ON p.id = s.plan_id
		WHERE s.user_id = ? AND s.status = 'active' AND s.current_period_end > ?
		ORDER BY s.current_period_end DESC LIMIT 1`,
		uid, s.now().UTC(),
	).Scan(&out.SubscriptionID, &out.PeriodStart, &out.PeriodEnd,
		&out.Plan.ID, &out.Plan.Name, &out.Plan.MaxListeners, &out.Plan.MaxLanguages, &out.Plan.MinutesPerMonth)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Quota{}, domain.ErrNoActivePlan
	}
	if err != nil {
		return domain.Quota{}, fmt.Errorf("error querying subscription for %s: %w", uid, err)
	}
	out.UserID = uid

	err = q.QueryRowContext(ctx,
		`SELECT minutes_used FROM usage_records WHERE user_id = ? AND period_start = ?`,
		uid, out.PeriodStart.UTC(),
	).Scan(&out.MinutesUsed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Quota{}, fmt.Errorf("error querying usage for %s: %w", uid, err)
	}
	return out, nil
}

func (s *Store) CurrentQuota(ctx context.Context, uid domain.UserID) (domain.Quota, error) {
	return s.quota(ctx, s.db, uid)
}

// IncrementUsage adds minutes to the current period and returns the new quota.
func (s *Store) IncrementUsage(ctx context.Context, uid domain.UserID, minutes int) (domain.Quota, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Quota{}, fmt.Errorf("begin usage tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q, err := s.quota(ctx, tx, uid)
	if err != nil {
		return domain.Quota{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_records (id, user_id, period_start, minutes_used) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, period_start) DO UPDATE SET minutes_used = minutes_used + excluded.minutes_used`,
		uuid.NewString(), uid, q.PeriodStart.UTC(), minutes,
	); err != nil {
		return domain.Quota{}, fmt.Errorf("failed to increment usage for %s: %w", uid, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Quota{}, fmt.Errorf("commit usage: %w", err)
	}
	q.MinutesUsed += minutes
	return q, nil
}

func (s *Store) StartBroadcast(ctx context.Context, l domain.BroadcastLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO broadcast_logs (id, room_id, user_id, started_at, peak_listeners, source_language, target_language)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.RoomID, l.UserID, l.StartedAt.UTC(), l.PeakListeners, l.SourceLanguage, l.TargetLanguage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert broadcast %s: %w", l.ID, err)
	}
	return nil
}

func (s *Store) UpdatePeakListeners(ctx context.Context, id string, peak int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE broadcast_logs SET peak_listeners = MAX(peak_listeners, ?) WHERE id = ?`, peak, id)
	if err != nil {
		return fmt.Errorf("failed to update peak for %s: %w", id, err)
	}
	return nil
}

// EndBroadcast closes an open log; the duration is rounded up to whole minutes.
func (s *Store) EndBroadcast(ctx context.Context, id string, endedAt time.Time, peak int) error {
	var started time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM broadcast_logs WHERE id = ? AND ended_at IS NULL`, id).Scan(&started)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("broadcast %s not open", id)
	}
	if err != nil {
		return fmt.Errorf("error querying broadcast %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE broadcast_logs SET ended_at = ?, duration_minutes = ?, peak_listeners = MAX(peak_listeners, ?)
		WHERE id = ?`,
		endedAt.UTC(), ceilMinutes(endedAt.Sub(started)), peak, id,
	)
	if err != nil {
		return fmt.Errorf("failed to end broadcast %s: %w", id, err)
	}
	return nil
}

func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Minutes()))
}

func (s *Store) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, max_listeners, max_languages, minutes_per_month FROM plans ORDER BY minutes_per_month`)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()
	var out []domain.Plan
	for rows.Next() {
		var p domain.Plan
		if err := rows.Scan(&p.ID, &p.Name, &p.MaxListeners, &p.MaxLanguages, &p.MinutesPerMonth); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Subscribe starts a one-month active subscription beginning at start.
func (s *Store) Subscribe(ctx context.Context, uid domain.UserID, planID string, start time.Time) (string, error) {
	id := uuid.NewString()
	start = start.UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, user_id, plan_id, status, current_period_start, current_period_end)
		VALUES (?, ?, ?, 'active', ?, ?)`,
		id, uid, planID, start, start.AddDate(0, 1, 0),
	)
	if err != nil {
		return "", fmt.Errorf("failed to subscribe %s to %s: %w", uid, planID, err)
	}
	return id, nil
}

// BroadcastHistory lists the user's broadcasts, newest first.
func (s *Store) BroadcastHistory(ctx context.Context, uid domain.UserID, limit int) ([]domain.BroadcastLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, user_id, started_at, ended_at, duration_minutes, peak_listeners, source_language, target_language
		FROM broadcast_logs WHERE user_id = ? ORDER BY started_at DESC LIMIT ?`, uid, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query broadcasts: %w", err)
	}
	defer rows.Close()
	var out []domain.BroadcastLog
	for rows.Next() {
		var (
			l     domain.BroadcastLog
			ended sql.NullTime
		)
		if err := rows.Scan(&l.ID, &l.RoomID, &l.UserID, &l.StartedAt, &ended, &l.DurationMinutes,
			&l.PeakListeners, &l.SourceLanguage, &l.TargetLanguage); err != nil {
			return nil, fmt.Errorf("failed to scan broadcast: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			l.EndedAt = &t
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
