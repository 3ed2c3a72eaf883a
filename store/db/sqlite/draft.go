package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/glowingkitty/openmates-core/store"
)

func (d *DB) GetDraft(ctx context.Context, find *store.FindDraft) (*store.Draft, error) {
	draft := &store.Draft{}
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id_hash, chat_id, encrypted_draft_md, draft_v, updated_ts
			FROM draft WHERE user_id_hash = ? AND chat_id = ?`,
		find.UserIDHash, find.ChatID,
	).Scan(&draft.UserIDHash, &draft.ChatID, &draft.EncryptedDraftMD, &draft.DraftV, &draft.UpdatedTs)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}
	return draft, nil
}

func (d *DB) UpsertDraft(ctx context.Context, upsert *store.Draft) (*store.Draft, error) {
	stmt := `INSERT INTO draft (user_id_hash, chat_id, encrypted_draft_md, draft_v, updated_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id_hash, chat_id) DO UPDATE SET
			encrypted_draft_md = excluded.encrypted_draft_md,
			draft_v = MAX(draft.draft_v, excluded.draft_v),
			updated_ts = excluded.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt,
		upsert.UserIDHash, upsert.ChatID, upsert.EncryptedDraftMD, upsert.DraftV, upsert.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to upsert draft: %w", err)
	}
	return upsert, nil
}

func (d *DB) DeleteDraft(ctx context.Context, delete *store.DeleteDraft) error {
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM draft WHERE user_id_hash = ? AND chat_id = ?`,
		delete.UserIDHash, delete.ChatID,
	); err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}
