package pubsub

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"orpheus/internal/domain/constants"
	"orpheus/internal/domain/entity"

	"cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pendingAck resolves once release is called.
type pendingAck struct {
	done     chan struct{}
	serverID string
	err      error
}

func newPendingAck() *pendingAck {
	return &pendingAck{done: make(chan struct{})}
}

func (a *pendingAck) release(serverID string, err error) {
	a.serverID, a.err = serverID, err
	close(a.done)
}

func (a *pendingAck) Get(ctx context.Context) (string, error) {
	select {
	case <-a.done:
		return a.serverID, a.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

type recordedPublish struct {
	ctx context.Context
	msg *pubsub.Message
}

func newFakeGooglePublisher(ack ackResult, logs *syncBuffer) (*googlePubSubPublisher, *[]recordedPublish, *bool) {
	var published []recordedPublish
	stopped := false
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	p := newGooglePublisher(func(ctx context.Context, msg *pubsub.Message) ackResult {
		published = append(published, recordedPublish{ctx: ctx, msg: msg})

		return ack
	}, func() { stopped = true }, logger)

	return p, &published, &stopped
}

func TestGooglePublisher_DoesNotWaitForAck(t *testing.T) {
	var logs syncBuffer
	ack := newPendingAck()
	p, published, stopped := newFakeGooglePublisher(ack, &logs)

	event := entity.NewSecurityEvent(entity.SecurityEventLoginSucceeded, uuid.New(), "req-9")
	reqCtx, cancel := context.WithCancel(context.Background())

	returned := make(chan error, 1)
	go func() { returned <- p.PublishSecurityEvent(reqCtx, event) }()

	select {
	case err := <-returned:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on the server ack")
	}

	// The request finishing must not cancel the in-flight publish.
	cancel()
	require.Len(t, *published, 1)
	assert.NoError(t, (*published)[0].ctx.Err())

	msg := (*published)[0].msg
	assert.Equal(t, string(entity.SecurityEventLoginSucceeded), msg.Attributes[constants.EventAttributeType])
	assert.Equal(t, event.UserID.String(), msg.Attributes[constants.EventAttributeUserID])
	assert.Equal(t, "req-9", msg.Attributes[constants.EventAttributeRequestID])

	var decoded entity.SecurityEvent
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, event.ID, decoded.ID)

	ack.release("server-1", nil)
	require.NoError(t, p.Close())

	assert.True(t, *stopped)
	assert.Contains(t, logs.String(), `"server_id":"server-1"`)
}

func TestGooglePublisher_AckFailureIsLogged(t *testing.T) {
	var logs syncBuffer
	ack := newPendingAck()
	p, _, _ := newFakeGooglePublisher(ack, &logs)

	event := entity.NewSecurityEvent(entity.SecurityEventPasswordChanged, uuid.New(), "")
	require.NoError(t, p.PublishSecurityEvent(context.Background(), event))

	ack.release("", errors.New("topic not found"))
	require.NoError(t, p.Close())

	assert.Contains(t, logs.String(), `"level":"WARN"`)
	assert.Contains(t, logs.String(), "Event publish failed")
	assert.Contains(t, logs.String(), "topic not found")
}
