package postgres

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
			FROM draft WHERE user_id_hash = $1 AND chat_id = $2`,
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
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id_hash, chat_id) DO UPDATE SET
			encrypted_draft_md = EXCLUDED.encrypted_draft_md,
			draft_v = GREATEST(draft.draft_v, EXCLUDED.draft_v),
			updated_ts = EXCLUDED.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt,
		upsert.UserIDHash, upsert.ChatID, upsert.EncryptedDraftMD, upsert.DraftV, upsert.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to upsert draft: %w", err)
	}
	return upsert, nil
}

func (d *DB) DeleteDraft(ctx context.Context, delete *store.DeleteDraft) error {
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM draft WHERE user_id_hash = $1 AND chat_id = $2`,
		delete.UserIDHash, delete.ChatID,
	); err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}
