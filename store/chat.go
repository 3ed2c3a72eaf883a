package store

import "context"

// Chat is the durable projection of a chat. Every content column is an
// opaque ciphertext blob produced by the owning client; the server only
// reads the component versions and ordering timestamp.
type Chat struct {
	ID         string
	UserIDHash string

	// Component versions (monotonic non-decreasing)
	MessagesV int64
	TitleV    int64

	// Ordering score for the user's chat list
	LastEditedTs int64

	// Encrypted list-item fields
	EncryptedTitle       string
	EncryptedIcon        string
	EncryptedCategory    string
	EncryptedChatKey     string
	EncryptedTags        string
	EncryptedSummary     string
	EncryptedSuggestions string
	EncryptedFocusID     string

	UnreadCount     int64
	Pinned          bool
	LastMessageTs   int64
	ScrollAnchorID  string
	CreatedTs       int64
}

type FindChat struct {
	ID         *string
	UserIDHash *string
	Limit      *int
	// Order newest-edited first when set.
	OrderByLastEdited bool
}

// UpdateChat carries partial updates; nil fields are left untouched.
type UpdateChat struct {
	ID         string
	UserIDHash string

	MessagesV    *int64
	TitleV       *int64
	LastEditedTs *int64

	EncryptedTitle       *string
	EncryptedIcon        *string
	EncryptedCategory    *string
	EncryptedChatKey     *string
	EncryptedTags        *string
	EncryptedSummary     *string
	EncryptedSuggestions *string
	EncryptedFocusID     *string

	UnreadCount    *int64
	Pinned         *bool
	LastMessageTs  *int64
	ScrollAnchorID *string
}

type DeleteChat struct {
	ID         string
	UserIDHash string
}

func (s *Store) CreateChat(ctx context.Context, create *Chat) (*Chat, error) {
	return s.driver.CreateChat(ctx, create)
}

func (s *Store) ListChats(ctx context.Context, find *FindChat) ([]*Chat, error) {
	return s.driver.ListChats(ctx, find)
}

func (s *Store) GetChat(ctx context.Context, find *FindChat) (*Chat, error) {
	return s.driver.GetChat(ctx, find)
}

func (s *Store) UpdateChat(ctx context.Context, update *UpdateChat) (*Chat, error) {
	return s.driver.UpdateChat(ctx, update)
}

func (s *Store) DeleteChat(ctx context.Context, delete *DeleteChat) error {
	return s.driver.DeleteChat(ctx, delete)
}
