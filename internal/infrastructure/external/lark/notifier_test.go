package lark

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sent struct {
	idType, receiveID, msgType, content string
}

type fakeSender struct {
	sent []sent
	fail map[string]error
}

func (f *fakeSender) SendMessage(_ context.Context, idType, receiveID, msgType, content string) (string, error) {
	if err := f.fail[receiveID]; err != nil {
		return "", err
	}
	f.sent = append(f.sent, sent{idType, receiveID, msgType, content})
	return "om_1", nil
}

func TestNotifier_NotifyMapsUsersAndEscapesText(t *testing.T) {
	sender := &fakeSender{}
	m := NewNotifier(sender, Config{Users: map[int64]string{42: "ou_lee"}}, zap.NewNop())

	err := m.Notify(context.Background(), []int64{42, 7}, port.Message{
		Title: `Approve "trip"`,
		Body:  "line1\nline2",
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 2)

	assert.Equal(t, "user_id", sender.sent[0].idType)
	assert.Equal(t, "ou_lee", sender.sent[0].receiveID)
	assert.Equal(t, "7", sender.sent[1].receiveID)
	assert.Equal(t, "text", sender.sent[0].msgType)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(sender.sent[0].content), &body))
	assert.Equal(t, "Approve \"trip\"\nline1\nline2", body["text"])
}

func TestNotifier_NotifyContinuesPastFailures(t *testing.T) {
	boom := errors.New("rate limited")
	sender := &fakeSender{fail: map[string]error{"1": boom}}
	m := NewNotifier(sender, Config{ReceiveIDType: "open_id"}, zap.NewNop())

	err := m.Notify(context.Background(), []int64{1, 2, 0}, port.Message{Title: "hi"})
	assert.ErrorIs(t, err, boom)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "2", sender.sent[0].receiveID)
	assert.Equal(t, "open_id", sender.sent[0].idType)
}

func TestNotifier_EmptyMessageIsRejected(t *testing.T) {
	m := NewNotifier(&fakeSender{}, Config{}, zap.NewNop())
	assert.Error(t, m.Notify(context.Background(), []int64{1}, port.Message{}))
	assert.NoError(t, m.Notify(context.Background(), nil, port.Message{}))
}
