package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xaenox/dreamchat/internal/models"
)

// sqlStore implements Storage on top of database/sql. Queries are written
// with '?' placeholders and rebound for drivers that need numbered ones.
type sqlStore struct {
	db     *sql.DB
	rebind func(string) string
}

const conversationColumns = `id, title, provider, model, messages, created_at, updated_at, pinned`

const upsertConversation = `
	INSERT INTO conversations (id, title, provider, model, messages, created_at, updated_at, pinned)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		title = excluded.title,
		provider = excluded.provider,
		model = excluded.model,
		messages = excluded.messages,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		pinned = excluded.pinned`

func (s *sqlStore) List(ctx context.Context) ([]models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations ORDER BY updated_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying conversations: %w", err)
	}
	defer rows.Close()

	convs := []models.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}
	return convs, nil
}

func (s *sqlStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	query := s.rebind(`SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`)

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *sqlStore) Put(ctx context.Context, conv models.Conversation) error {
	args, err := conversationArgs(conv)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(upsertConversation), args...); err != nil {
		return fmt.Errorf("error saving conversation %s: %w", conv.ID, err)
	}
	return nil
}

func (s *sqlStore) PutMany(ctx context.Context, convs []models.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(upsertConversation))
	if err != nil {
		return fmt.Errorf("error preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, conv := range convs {
		args, err := conversationArgs(conv)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("error saving conversation %s: %w", conv.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing conversations: %w", err)
	}
	return nil
}

func (s *sqlStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM conversations WHERE id = ?`), id); err != nil {
		return fmt.Errorf("error deleting conversation %s: %w", id, err)
	}
	return nil
}

func (s *sqlStore) GetActiveID(ctx context.Context) (string, error) {
	id, _, err := s.GetValue(ctx, ActiveConversationKey)
	return id, err
}

func (s *sqlStore) SetActiveID(ctx context.Context, id string) error {
	return s.SetValue(ctx, ActiveConversationKey, id)
}

func (s *sqlStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM metadata WHERE key = ?`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("error reading %s: %w", key, err)
	}
	return value, true, nil
}

func (s *sqlStore) SetValue(ctx context.Context, key, value string) error {
	query := s.rebind(`
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`)

	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("error writing %s: %w", key, err)
	}
	return nil
}

func (s *sqlStore) DeleteValue(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM metadata WHERE key = ?`), key); err != nil {
		return fmt.Errorf("error deleting %s: %w", key, err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (models.Conversation, error) {
	var (
		conv     models.Conversation
		provider string
		messages []byte
	)
	err := row.Scan(
		&conv.ID,
		&conv.Title,
		&provider,
		&conv.Model,
		&messages,
		&conv.CreatedAt,
		&conv.UpdatedAt,
		&conv.Pinned,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conv, err
		}
		return conv, fmt.Errorf("error scanning conversation: %w", err)
	}
	conv.Provider = models.Provider(provider)
	if err := json.Unmarshal(messages, &conv.Messages); err != nil {
		return conv, fmt.Errorf("error decoding messages of %s: %w", conv.ID, err)
	}
	if conv.Messages == nil {
		conv.Messages = []models.Message{}
	}
	return conv, nil
}

func conversationArgs(conv models.Conversation) ([]any, error) {
	messages := conv.Messages
	if messages == nil {
		messages = []models.Message{}
	}
	encoded, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("error encoding messages of %s: %w", conv.ID, err)
	}
	return []any{
		conv.ID,
		conv.Title,
		string(conv.Provider),
		conv.Model,
		string(encoded),
		conv.CreatedAt,
		conv.UpdatedAt,
		conv.Pinned,
	}, nil
}

// numberedPlaceholders rewrites '?' into $1, $2, ... for PostgreSQL.
func numberedPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func identity(query string) string { return query }
