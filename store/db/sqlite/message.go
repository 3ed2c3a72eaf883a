package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/glowingkitty/openmates-core/store"
)

const messageColumns = `id, chat_id, user_id_hash, role, encrypted_content,
	encrypted_sender, encrypted_model, status, created_ts`

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	stmt := `INSERT INTO message (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			encrypted_content = excluded.encrypted_content,
			status = excluded.status`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.ChatID, create.UserIDHash, create.Role, create.EncryptedContent,
		create.EncryptedSender, create.EncryptedModel, create.Status, create.CreatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ChatID != nil {
		where, args = append(where, "chat_id = ?"), append(args, *find.ChatID)
	}

	query := `SELECT ` + messageColumns + ` FROM message WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_ts ASC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		m := &store.Message{}
		if err := rows.Scan(
			&m.ID, &m.ChatID, &m.UserIDHash, &m.Role, &m.EncryptedContent,
			&m.EncryptedSender, &m.EncryptedModel, &m.Status, &m.CreatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func (d *DB) CountMessages(ctx context.Context, chatID string) (int64, error) {
	var count int64
	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message WHERE chat_id = ?`, chatID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (d *DB) DeleteMessages(ctx context.Context, chatID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM message WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}
