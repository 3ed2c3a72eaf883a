package store

import "context"

// User is the durable projection of an account. Only identifiers live
// here; profile data is owned by another service.
type User struct {
	ID        string
	IDHash    string
	CreatedTs int64
}

type FindUser struct {
	ID     *string
	IDHash *string
}

func (s *Store) GetUser(ctx context.Context, find *FindUser) (*User, error) {
	return s.driver.GetUser(ctx, find)
}

func (s *Store) UpsertUser(ctx context.Context, upsert *User) (*User, error) {
	return s.driver.UpsertUser(ctx, upsert)
}
