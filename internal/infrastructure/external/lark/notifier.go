package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/garyjia/reimburse-flow/internal/application/port"
	"go.uber.org/zap"
)

const defaultReceiveIDType = "user_id"

// MessageSender is the single IM call the notifier needs
type MessageSender interface {
	SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error)
}

// Notifier implements port.Notifier with Lark text messages
type Notifier struct {
	sender        MessageSender
	receiveIDType string
	users         map[int64]string
	logger        *zap.Logger
}

// NewNotifier creates a new Lark notifier
func NewNotifier(sender MessageSender, cfg Config, logger *zap.Logger) *Notifier {
	idType := cfg.ReceiveIDType
	if idType == "" {
		idType = defaultReceiveIDType
	}
	return &Notifier{
		sender:        sender,
		receiveIDType: idType,
		users:         cfg.Users,
		logger:        logger,
	}
}

// Notify sends msg to every user. Each recipient is attempted; failures are joined.
func (m *Notifier) Notify(ctx context.Context, userIDs []int64, msg port.Message) error {
	if len(userIDs) == 0 {
		return nil
	}

	content, err := textContent(msg)
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range userIDs {
		receiveID := m.receiveID(id)
		if receiveID == "" {
			continue
		}
		if _, err := m.sender.SendMessage(ctx, m.receiveIDType, receiveID, "text", content); err != nil {
			m.logger.Warn("Failed to notify user",
				zap.Int64("user_id", id),
				zap.Int64("instance_id", msg.InstanceID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("user %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Notifier) receiveID(userID int64) string {
	if id, ok := m.users[userID]; ok {
		return id
	}
	if userID <= 0 {
		return ""
	}
	return strconv.FormatInt(userID, 10)
}

// textContent builds the content JSON of a Lark text message
func textContent(msg port.Message) (string, error) {
	var b strings.Builder
	if msg.Title != "" {
		b.WriteString(msg.Title)
	}
	if msg.Body != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(msg.Body)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("content cannot be empty")
	}

	data, err := json.Marshal(map[string]string{"text": b.String()})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message content: %w", err)
	}
	return string(data), nil
}

// Verify interface compliance
var _ port.Notifier = (*Notifier)(nil)
