package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/waterops/licensing-api/internal/model"
	"github.com/waterops/licensing-api/internal/repository"
	apperrors "github.com/waterops/licensing-api/pkg/errors"
)

type noticeRepository struct {
	*BaseRepository
}

func NewNoticeRepository(base *BaseRepository) repository.NoticeRepository {
	return &noticeRepository{BaseRepository: base}
}

func (r *noticeRepository) Create(ctx context.Context, notice *model.Notice) error {
	query := `
		INSERT INTO events (
			id, type, subtype, reference_code, issuer, licences,
			metadata, status, overall_status, status_counts,
			trigger_notice_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	if notice.ID == uuid.Nil {
		notice.ID = uuid.New()
	}
	notice.CreatedAt = time.Now()
	notice.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		notice.ID,
		notice.Type,
		notice.Subtype,
		notice.ReferenceCode,
		notice.Issuer,
		notice.Licences,
		notice.Metadata,
		notice.Status,
		notice.OverallStatus,
		notice.StatusCounts,
		notice.TriggerNoticeID,
		notice.CreatedAt,
		notice.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notice: %w", err)
	}
	return nil
}

func (r *noticeRepository) Get(ctx context.Context, id uuid.UUID) (*model.Notice, error) {
	query := `
		SELECT id, type, subtype, reference_code, issuer, licences,
			   metadata, status, overall_status, status_counts,
			   trigger_notice_id, created_at, updated_at
		FROM events
		WHERE id = $1 AND type = 'notification'
	`
	var notice model.Notice
	if err := r.db.GetContext(ctx, &notice, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("notice", err)
		}
		return nil, fmt.Errorf("failed to get notice: %w", err)
	}
	return &notice, nil
}

func (r *noticeRepository) List(ctx context.Context, filters *model.NoticeFilters) ([]*model.Notice, error) {
	query := `
		SELECT id, type, subtype, reference_code, issuer, licences,
			   metadata, status, overall_status, status_counts,
			   trigger_notice_id, created_at, updated_at
		FROM events
		WHERE type = 'notification'
	`
	args := []interface{}{}
	argc := 0

	if filters != nil {
		if filters.Subtype != "" {
			argc++
			query += fmt.Sprintf(" AND subtype = $%d", argc)
			args = append(args, filters.Subtype)
		}
		if filters.OverallStatus != "" {
			argc++
			query += fmt.Sprintf(" AND overall_status = $%d", argc)
			args = append(args, filters.OverallStatus)
		}
		if filters.Issuer != "" {
			argc++
			query += fmt.Sprintf(" AND issuer = $%d", argc)
			args = append(args, filters.Issuer)
		}
		if filters.ReferenceCode != "" {
			argc++
			query += fmt.Sprintf(" AND reference_code = $%d", argc)
			args = append(args, filters.ReferenceCode)
		}
	}
	query += " ORDER BY created_at DESC"

	var notices []*model.Notice
	if err := r.db.SelectContext(ctx, &notices, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list notices: %w", err)
	}
	return notices, nil
}

func (r *noticeRepository) UpdateAggregates(ctx context.Context, id uuid.UUID, overall model.OverallStatus, counts model.StatusCounts, metadata model.NoticeMetadata) error {
	query := `
		UPDATE events
		SET overall_status = $1, status_counts = $2, metadata = $3, updated_at = $4
		WHERE id = $5
	`
	result, err := r.db.ExecContext(ctx, query, overall, counts, metadata, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update notice aggregates: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("notice", nil)
	}
	return nil
}
