package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dkeye/Beacon/internal/domain"
	"github.com/dkeye/Beacon/internal/languages"
)

func (s *Store) ListRooms(ctx context.Context) ([]domain.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, name, source_language, target_language, is_public, owner_id, qr_id, qr_image_url, created_at
		FROM rooms ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	var out []domain.Room
	for rows.Next() {
		var (
			r        domain.Room
			src, tgt string
			owner    string
		)
		if err := rows.Scan(&r.ID, &r.Slug, &r.Name, &src, &tgt, &r.IsPublic, &owner, &r.QRID, &r.QRImageURL, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		r.SourceLanguage, r.TargetLanguage = languages.Code(src), languages.Code(tgt)
		uid := domain.UserID(owner)
		r.OwnerID = &uid
		r.IsPersistent = true
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rooms: %w", err)
	}
	return out, nil
}

func (s *Store) CreateRoom(ctx context.Context, r domain.Room) error {
	if r.OwnerID == nil {
		return domain.ErrNotOwner
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, slug, name, source_language, target_language, is_public, owner_id, qr_id, qr_image_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Slug, r.Name, r.SourceLanguage, r.TargetLanguage, r.IsPublic, *r.OwnerID, r.QRID, r.QRImageURL, r.CreatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return domain.ErrSlugConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert room %s: %w", r.Slug, err)
	}
	return nil
}

func (s *Store) UpdateRoom(ctx context.Context, r domain.Room) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET name = ?, source_language = ?, target_language = ?, is_public = ?, qr_id = ?, qr_image_url = ?
		WHERE id = ?`,
		r.Name, r.SourceLanguage, r.TargetLanguage, r.IsPublic, r.QRID, r.QRImageURL, r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update room %s: %w", r.ID, err)
	}
	return expectOne(res, domain.ErrRoomNotFound)
}

func (s *Store) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete room %s: %w", id, err)
	}
	return expectOne(res, domain.ErrRoomNotFound)
}

// RoomBySlug is used by the CLI.
func (s *Store) RoomBySlug(ctx context.Context, slug domain.Slug) (domain.Room, error) {
	var (
		r        domain.Room
		src, tgt string
		owner    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, source_language, target_language, is_public, owner_id, qr_id, qr_image_url, created_at
		FROM rooms WHERE slug = ?`, slug,
	).Scan(&r.ID, &r.Slug, &r.Name, &src, &tgt, &r.IsPublic, &owner, &r.QRID, &r.QRImageURL, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("error querying room %s: %w", slug, err)
	}
	r.SourceLanguage, r.TargetLanguage = languages.Code(src), languages.Code(tgt)
	uid := domain.UserID(owner)
	r.OwnerID = &uid
	r.IsPersistent = true
	return r, nil
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
