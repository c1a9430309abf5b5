// Package conversations persists conversations and their tags. It is the
// source the sidebar synchronizer loads its initial per-user list from.
package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/dbx"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
	"github.com/google/uuid"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const conversationColumns = `id, user_id, title, model_id, model_name, provider, active, created_at, last_activity_at`

func scanConversation(s interface{ Scan(...any) error }) (*models.Conversation, error) {
	c := &models.Conversation{}
	err := s.Scan(&c.ID, &c.UserID, &c.Title, &c.Model.ID, &c.Model.Name, &c.Model.Provider,
		&c.Active, &c.CreatedAt, &c.LastActivityAt)
	return c, err
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.Conversation) error {
	query := `
		INSERT INTO conversations (id, user_id, title, model_id, model_name, provider, active, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query, c.ID, c.UserID, c.Title, c.Model.ID, c.Model.Name, c.Model.Provider,
		c.Active, c.CreatedAt, c.LastActivityAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	c, err := scanConversation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// ListByUser returns the user's conversations, most recently active first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE user_id = $1 ORDER BY last_activity_at DESC, id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}

// TouchActivity moves last_activity_at forward to at; it never moves it back.
func (r *PostgresRepository) TouchActivity(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE conversations
		SET last_activity_at = GREATEST(last_activity_at, $2)
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, at)
}

func (r *PostgresRepository) UpdateTitle(ctx context.Context, id, userID, title string) error {
	query := `UPDATE conversations SET title = $3 WHERE id = $1 AND user_id = $2`
	return r.execOne(ctx, query, id, userID, title)
}

func (r *PostgresRepository) SetActive(ctx context.Context, id, userID string, active bool) error {
	query := `UPDATE conversations SET active = $3 WHERE id = $1 AND user_id = $2`
	return r.execOne(ctx, query, id, userID, active)
}

func (r *PostgresRepository) Delete(ctx context.Context, id, userID string) error {
	query := `DELETE FROM conversations WHERE id = $1 AND user_id = $2`
	return r.execOne(ctx, query, id, userID)
}

// execOne runs a statement that must touch exactly one row; zero rows
// becomes common.ErrorNotFound.
func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// UpsertTag creates the user's tag by name or updates its color, returning
// the stored tag.
func (r *PostgresRepository) UpsertTag(ctx context.Context, userID string, tag models.Tag) (models.Tag, error) {
	query := `
		INSERT INTO tags (id, user_id, name, color)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, name) DO UPDATE SET color = EXCLUDED.color
		RETURNING id
	`
	if tag.ID == "" {
		tag.ID = uuid.NewString()
	}
	if err := r.db.QueryRowContext(ctx, query, tag.ID, userID, tag.Name, tag.Color).Scan(&tag.ID); err != nil {
		return models.Tag{}, fmt.Errorf("db error: %w", err)
	}
	return tag, nil
}

// SetTags replaces the tag set of a conversation. Run it inside a transaction.
func (r *PostgresRepository) SetTags(ctx context.Context, conversationID string, tagIDs []string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM conversation_tags WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	for _, tagID := range tagIDs {
		query := `
			INSERT INTO conversation_tags (conversation_id, tag_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`
		if _, err := r.db.ExecContext(ctx, query, conversationID, tagID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

// TagsByUser returns the tags of every conversation of userID keyed by
// conversation id.
func (r *PostgresRepository) TagsByUser(ctx context.Context, userID string) (map[string][]models.Tag, error) {
	query := `
		SELECT ct.conversation_id, t.id, t.name, t.color
		FROM conversation_tags ct
		JOIN tags t ON t.id = ct.tag_id
		JOIN conversations c ON c.id = ct.conversation_id
		WHERE c.user_id = $1
		ORDER BY t.name
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]models.Tag)
	for rows.Next() {
		var convID string
		var t models.Tag
		if err := rows.Scan(&convID, &t.ID, &t.Name, &t.Color); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		result[convID] = append(result[convID], t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}
