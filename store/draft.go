package store

import "context"

// Draft is the durable projection of a per-(user, chat) draft.
// EncryptedDraftMD is ciphertext or the literal "null" tombstone.
type Draft struct {
	UserIDHash       string
	ChatID           string
	EncryptedDraftMD string
	DraftV           int64
	UpdatedTs        int64
}

type FindDraft struct {
	UserIDHash string
	ChatID     string
}

type DeleteDraft struct {
	UserIDHash string
	ChatID     string
}

func (s *Store) GetDraft(ctx context.Context, find *FindDraft) (*Draft, error) {
	return s.driver.GetDraft(ctx, find)
}

func (s *Store) UpsertDraft(ctx context.Context, upsert *Draft) (*Draft, error) {
	return s.driver.UpsertDraft(ctx, upsert)
}

func (s *Store) DeleteDraft(ctx context.Context, delete *DeleteDraft) error {
	return s.driver.DeleteDraft(ctx, delete)
}
