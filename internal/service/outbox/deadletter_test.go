package outbox

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

func TestDeadLetter_Message(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := created.Add(time.Minute)
	src := domain.OutboxMessage{
		ID:            "msg-9",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "9",
		EventType:     domain.EventOrderPlaced,
		Payload:       []byte(`{"order_id":9}`),
		CreatedAt:     created,
	}

	msg := newDeadLetter(src, 3, errors.New("timeout"), now).message()
	require.Equal(t, src.ID, msg.ID)
	require.Equal(t, src.AggregateID, msg.AggregateID)
	require.Equal(t, src.EventType, msg.EventType)
	require.True(t, msg.CreatedAt.Equal(created))

	var letter DeadLetter
	require.NoError(t, json.Unmarshal(msg.Payload, &letter))
	require.Equal(t, 3, letter.Attempts)
	require.Equal(t, "timeout", letter.PublishError)
	require.JSONEq(t, `{"order_id":9}`, string(letter.Payload))
	require.True(t, letter.DLQPublishedAt.Equal(now))
}

func TestDeadLetter_KeepsInvalidPayloadAsString(t *testing.T) {
	t.Parallel()

	letter := newDeadLetter(domain.OutboxMessage{ID: "raw", Payload: []byte("not json")}, 1, errors.New("x"), time.Now())
	require.JSONEq(t, `"not json"`, string(letter.Payload))

	var decoded DeadLetter
	require.NoError(t, json.Unmarshal(letter.message().Payload, &decoded))
	require.JSONEq(t, `"not json"`, string(decoded.Payload))
}
