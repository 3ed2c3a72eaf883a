package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/glowingkitty/openmates-core/store"
)

func (d *DB) GetUser(ctx context.Context, find *store.FindUser) (*store.User, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.IDHash != nil {
		where, args = append(where, "id_hash = ?"), append(args, *find.IDHash)
	}

	user := &store.User{}
	err := d.db.QueryRowContext(ctx,
		`SELECT id, id_hash, created_ts FROM user WHERE `+strings.Join(where, " AND "),
		args...,
	).Scan(&user.ID, &user.IDHash, &user.CreatedTs)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (d *DB) UpsertUser(ctx context.Context, upsert *store.User) (*store.User, error) {
	stmt := `INSERT INTO user (id, id_hash, created_ts)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO NOTHING`
	if _, err := d.db.ExecContext(ctx, stmt, upsert.ID, upsert.IDHash, upsert.CreatedTs); err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return upsert, nil
}
