// Package store provides durable access to the Records projection of
// chats, messages, drafts and users. All content columns hold ciphertext;
// the store never interprets them.
package store

import (
	"context"

	"github.com/glowingkitty/openmates-core/internal/profile"
)

// Store provides database access to all record objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// Driver is an interface for record store drivers.
type Driver interface {
	Migrate(ctx context.Context) error
	Close() error

	// User
	GetUser(ctx context.Context, find *FindUser) (*User, error)
	UpsertUser(ctx context.Context, upsert *User) (*User, error)

	// Chat
	CreateChat(ctx context.Context, create *Chat) (*Chat, error)
	ListChats(ctx context.Context, find *FindChat) ([]*Chat, error)
	GetChat(ctx context.Context, find *FindChat) (*Chat, error)
	UpdateChat(ctx context.Context, update *UpdateChat) (*Chat, error)
	DeleteChat(ctx context.Context, delete *DeleteChat) error

	// Message
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	CountMessages(ctx context.Context, chatID string) (int64, error)
	DeleteMessages(ctx context.Context, chatID string) error

	// Draft
	GetDraft(ctx context.Context, find *FindDraft) (*Draft, error)
	UpsertDraft(ctx context.Context, upsert *Draft) (*Draft, error)
	DeleteDraft(ctx context.Context, delete *DeleteDraft) error
}
