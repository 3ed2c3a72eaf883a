package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/glowingkitty/openmates-core/store"
)

const chatColumns = `id, user_id_hash, messages_v, title_v, last_edited_ts,
	encrypted_title, encrypted_icon, encrypted_category, encrypted_chat_key,
	encrypted_tags, encrypted_summary, encrypted_suggestions, encrypted_focus_id,
	unread_count, pinned, last_message_ts, scroll_anchor_id, created_ts`

func scanChat(row interface{ Scan(...any) error }) (*store.Chat, error) {
	c := &store.Chat{}
	if err := row.Scan(
		&c.ID, &c.UserIDHash, &c.MessagesV, &c.TitleV, &c.LastEditedTs,
		&c.EncryptedTitle, &c.EncryptedIcon, &c.EncryptedCategory, &c.EncryptedChatKey,
		&c.EncryptedTags, &c.EncryptedSummary, &c.EncryptedSuggestions, &c.EncryptedFocusID,
		&c.UnreadCount, &c.Pinned, &c.LastMessageTs, &c.ScrollAnchorID, &c.CreatedTs,
	); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *DB) CreateChat(ctx context.Context, create *store.Chat) (*store.Chat, error) {
	stmt := `INSERT INTO chat (` + chatColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.UserIDHash, create.MessagesV, create.TitleV, create.LastEditedTs,
		create.EncryptedTitle, create.EncryptedIcon, create.EncryptedCategory, create.EncryptedChatKey,
		create.EncryptedTags, create.EncryptedSummary, create.EncryptedSuggestions, create.EncryptedFocusID,
		create.UnreadCount, create.Pinned, create.LastMessageTs, create.ScrollAnchorID, create.CreatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return create, nil
}

func (d *DB) ListChats(ctx context.Context, find *store.FindChat) ([]*store.Chat, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UserIDHash != nil {
		where, args = append(where, "user_id_hash = ?"), append(args, *find.UserIDHash)
	}

	query := `SELECT ` + chatColumns + ` FROM chat WHERE ` + strings.Join(where, " AND ")
	if find.OrderByLastEdited {
		query += " ORDER BY last_edited_ts DESC"
	}
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Chat, 0)
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (d *DB) GetChat(ctx context.Context, find *store.FindChat) (*store.Chat, error) {
	list, err := d.ListChats(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (d *DB) UpdateChat(ctx context.Context, update *store.UpdateChat) (*store.Chat, error) {
	set, args := []string{}, []any{}
	add := func(col string, v any) {
		set, args = append(set, col+" = ?"), append(args, v)
	}

	if update.MessagesV != nil {
		set, args = append(set, "messages_v = MAX(messages_v, ?)"), append(args, *update.MessagesV)
	}
	if update.TitleV != nil {
		set, args = append(set, "title_v = MAX(title_v, ?)"), append(args, *update.TitleV)
	}
	if update.LastEditedTs != nil {
		add("last_edited_ts", *update.LastEditedTs)
	}
	if update.EncryptedTitle != nil {
		add("encrypted_title", *update.EncryptedTitle)
	}
	if update.EncryptedIcon != nil {
		add("encrypted_icon", *update.EncryptedIcon)
	}
	if update.EncryptedCategory != nil {
		add("encrypted_category", *update.EncryptedCategory)
	}
	if update.EncryptedChatKey != nil {
		add("encrypted_chat_key", *update.EncryptedChatKey)
	}
	if update.EncryptedTags != nil {
		add("encrypted_tags", *update.EncryptedTags)
	}
	if update.EncryptedSummary != nil {
		add("encrypted_summary", *update.EncryptedSummary)
	}
	if update.EncryptedSuggestions != nil {
		add("encrypted_suggestions", *update.EncryptedSuggestions)
	}
	if update.EncryptedFocusID != nil {
		add("encrypted_focus_id", *update.EncryptedFocusID)
	}
	if update.UnreadCount != nil {
		add("unread_count", *update.UnreadCount)
	}
	if update.Pinned != nil {
		add("pinned", *update.Pinned)
	}
	if update.LastMessageTs != nil {
		add("last_message_ts", *update.LastMessageTs)
	}
	if update.ScrollAnchorID != nil {
		add("scroll_anchor_id", *update.ScrollAnchorID)
	}
	if len(set) == 0 {
		return d.GetChat(ctx, &store.FindChat{ID: &update.ID, UserIDHash: &update.UserIDHash})
	}

	args = append(args, update.ID, update.UserIDHash)
	stmt := `UPDATE chat SET ` + strings.Join(set, ", ") +
		` WHERE id = ? AND user_id_hash = ? RETURNING ` + chatColumns
	c, err := scanChat(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update chat: %w", err)
	}
	return c, nil
}

func (d *DB) DeleteChat(ctx context.Context, delete *store.DeleteChat) error {
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM chat WHERE id = ? AND user_id_hash = ?`,
		delete.ID, delete.UserIDHash,
	); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return nil
}
