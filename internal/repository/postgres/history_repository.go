package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/codepair/matching-service/internal/domain"
	"github.com/codepair/matching-service/internal/repository"
)

type historyRepository struct {
	db *sqlx.DB
}

func NewHistoryRepository(db *sqlx.DB) repository.HistoryRepository {
	return &historyRepository{db: db}
}

func (r *historyRepository) Record(ctx context.Context, rec *domain.MatchRecord) error {
	// Ensure user1_id < user2_id for constraint
	if rec.User1ID > rec.User2ID {
		rec.User1ID, rec.User2ID = rec.User2ID, rec.User1ID
		rec.Req1ID, rec.Req2ID = rec.Req2ID, rec.Req1ID
	}

	query := `
		INSERT INTO match_history (req1_id, req2_id, user1_id, user2_id, difficulty, session_id, matched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO NOTHING
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		rec.Req1ID, rec.Req2ID, rec.User1ID, rec.User2ID,
		string(rec.Difficulty), rec.SessionID, rec.MatchedAt).
		Scan(&rec.ID)
	if errors.Is(err, sql.ErrNoRows) {
		// another instance already archived this session
		return nil
	}
	return err
}
