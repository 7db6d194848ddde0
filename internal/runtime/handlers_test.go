package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	errspkg "github.com/drblury/snsbridge/internal/runtime/errors"
	handlerpkg "github.com/drblury/snsbridge/internal/runtime/handlers"
	metadatapkg "github.com/drblury/snsbridge/internal/runtime/metadata"
)

func TestJSONHandlerThroughConsumerLoop(t *testing.T) {
	backend := &scriptedBackend{}
	backend.push(notificationMessage(t, "m-1", `{"symbol":"ICE","price":42.5}`, metadatapkg.New(metadatapkg.KeyCorrelationID, "corr-1")))

	var got handlerpkg.JSONMessageContext[*tick]
	handler, err := JSONHandler(func(_ context.Context, event handlerpkg.JSONMessageContext[*tick]) error {
		got = event
		return nil
	}, nil)
	require.NoError(t, err)

	loop := newTestLoop(t, backend, handler)
	outcome, err := loop.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeDeleted, outcome)
	assert.Equal(t, &tick{Symbol: "ICE", Price: 42.5}, got.Payload)
	assert.Equal(t, "corr-1", got.CorrelationID())
	assert.Equal(t, "m-1", got.MessageID)
	assert.Equal(t, []string{"m-1~receipt"}, backend.Deleted())
}

func TestJSONHandlerUndecodablePayloadIsHandlerFailure(t *testing.T) {
	backend := &scriptedBackend{}
	backend.push(notificationMessage(t, "m-1", `{"symbol":42}`, nil))

	handler, err := JSONHandler(func(context.Context, handlerpkg.JSONMessageContext[*tick]) error {
		t.Fatal("handler must not run")
		return nil
	}, nil)
	require.NoError(t, err)

	outcome, err := newTestLoop(t, backend, handler).RunOnce(context.Background())
	assert.Equal(t, OutcomeHandlerFailed, outcome)
	assert.ErrorIs(t, err, errspkg.ErrHandlerFailure)
	assert.Empty(t, backend.Deleted())
}

func TestJSONHandlerRequiresPointerType(t *testing.T) {
	_, err := JSONHandler(func(context.Context, handlerpkg.JSONMessageContext[tick]) error { return nil }, nil)
	assert.ErrorIs(t, err, errspkg.ErrConsumeMessagePointerNeeded)
}

func TestProtoHandlerThroughConsumerLoop(t *testing.T) {
	backend := &scriptedBackend{}
	backend.push(notificationMessage(t, "m-1", `{"symbol":"ICE"}`, nil))

	var symbol string
	handler, err := ProtoHandler(&structpb.Struct{}, func(_ context.Context, event handlerpkg.ProtoMessageContext[*structpb.Struct]) error {
		symbol = event.Payload.GetFields()["symbol"].GetStringValue()
		return nil
	}, nil)
	require.NoError(t, err)

	outcome, err := newTestLoop(t, backend, handler).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeleted, outcome)
	assert.Equal(t, "ICE", symbol)
}
