package store

import "context"

// Message roles. Role is the only semantic field the core inspects.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message statuses.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusError     = "error"
	StatusStreaming = "streaming"
	StatusDelivered = "delivered"
	StatusSynced    = "synced"
)

// Message is the durable projection of a chat message. Content is
// client-encrypted; the server stores it verbatim.
type Message struct {
	ID               string
	ChatID           string
	UserIDHash       string
	Role             string
	EncryptedContent string
	EncryptedSender  string
	EncryptedModel   string
	Status           string
	CreatedTs        int64
}

type FindMessage struct {
	ChatID *string
	Limit  *int
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	return s.driver.CreateMessage(ctx, create)
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

func (s *Store) CountMessages(ctx context.Context, chatID string) (int64, error) {
	return s.driver.CountMessages(ctx, chatID)
}

func (s *Store) DeleteMessages(ctx context.Context, chatID string) error {
	return s.driver.DeleteMessages(ctx, chatID)
}
