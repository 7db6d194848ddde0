package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	metadatapkg "github.com/drblury/snsbridge/internal/runtime/metadata"
)

func newHookDelivery() *Delivery {
	return &Delivery{
		QueueURL:     testQueueURL,
		MessageID:    "test-id",
		Metadata:     metadatapkg.New(metadatapkg.KeyCorrelationID, "corr-1"),
		ReceiveCount: 1,
	}
}

func TestJobHooks_OnJobStart(t *testing.T) {
	var called bool
	var capturedCtx JobContext

	hooks := JobHooks{
		OnJobStart: func(ctx JobContext) {
			called = true
			capturedCtx = ctx
		},
	}

	handler := JobHooksMiddleware(hooks)(func(context.Context, *Delivery) error {
		return nil
	})

	err := handler(context.Background(), newHookDelivery())
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "test-id", capturedCtx.MessageID)
	assert.Equal(t, "orders", capturedCtx.Queue)
	assert.Equal(t, "corr-1", capturedCtx.Metadata.CorrelationID())
	assert.False(t, capturedCtx.StartedAt.IsZero())
}

func TestJobHooks_OnJobDone(t *testing.T) {
	var called bool
	var capturedCtx JobContext

	hooks := JobHooks{
		OnJobDone: func(ctx JobContext) {
			called = true
			capturedCtx = ctx
		},
	}

	handler := JobHooksMiddleware(hooks)(func(context.Context, *Delivery) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	err := handler(context.Background(), newHookDelivery())
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "test-id", capturedCtx.MessageID)
	assert.GreaterOrEqual(t, capturedCtx.Duration, 10*time.Millisecond)
}

func TestJobHooks_OnJobError(t *testing.T) {
	var called bool
	var capturedErr error
	expectedErr := errors.New("handler error")

	hooks := JobHooks{
		OnJobError: func(ctx JobContext, err error) {
			called = true
			capturedErr = err
		},
		OnJobDone: func(JobContext) {
			t.Fatal("OnJobDone must not run for a failed job")
		},
	}

	handler := JobHooksMiddleware(hooks)(func(context.Context, *Delivery) error {
		return expectedErr
	})

	err := handler(context.Background(), newHookDelivery())
	assert.ErrorIs(t, err, expectedErr)
	assert.True(t, called)
	assert.Equal(t, expectedErr, capturedErr)
}

func TestJobHooks_RetryCountFromReceiveCount(t *testing.T) {
	var capturedCtx JobContext

	hooks := JobHooks{
		OnJobStart: func(ctx JobContext) {
			capturedCtx = ctx
		},
	}

	handler := JobHooksMiddleware(hooks)(func(context.Context, *Delivery) error {
		return nil
	})

	d := newHookDelivery()
	d.ReceiveCount = 4
	d.Notification.TopicArn = "arn:aws:sns:us-east-1:000000000000:orders"
	require.NoError(t, handler(context.Background(), d))
	assert.Equal(t, 3, capturedCtx.RetryCount)
	assert.Equal(t, "arn:aws:sns:us-east-1:000000000000:orders", capturedCtx.TopicArn)

	d.ReceiveCount = 0
	require.NoError(t, handler(context.Background(), d))
	assert.Equal(t, 0, capturedCtx.RetryCount)
}

func TestJobHooks_Merge(t *testing.T) {
	var calls []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		calls = append(calls, name)
		mu.Unlock()
	}

	hooks1 := JobHooks{
		OnJobStart: func(JobContext) { record("start1") },
		OnJobDone:  func(JobContext) { record("done1") },
		OnJobError: func(JobContext, error) { record("error1") },
	}
	hooks2 := JobHooks{
		OnJobStart: func(JobContext) { record("start2") },
		OnJobDone:  func(JobContext) { record("done2") },
		OnJobError: func(JobContext, error) { record("error2") },
	}

	handler := JobHooksMiddleware(hooks1.Merge(hooks2))(func(context.Context, *Delivery) error {
		return nil
	})
	require.NoError(t, handler(context.Background(), newHookDelivery()))

	assert.Equal(t, []string{"start1", "start2", "done1", "done2"}, calls)
}

func TestJobHooks_MergePartial(t *testing.T) {
	var calls []string

	hooks1 := JobHooks{
		OnJobStart: func(JobContext) { calls = append(calls, "start1") },
	}
	hooks2 := JobHooks{
		OnJobDone: func(JobContext) { calls = append(calls, "done2") },
	}

	handler := JobHooksMiddleware(hooks1.Merge(hooks2))(func(context.Context, *Delivery) error {
		return nil
	})
	require.NoError(t, handler(context.Background(), newHookDelivery()))

	assert.Equal(t, []string{"start1", "done2"}, calls)
}

func TestLoggingHooks(t *testing.T) {
	logger, recorder := newTestLogger()
	hooks := LoggingHooks(logger)

	hooks.OnJobStart(JobContext{Queue: "orders"})
	hooks.OnJobDone(JobContext{Queue: "orders"})
	hooks.OnJobError(JobContext{Queue: "orders"}, errors.New("test error"))

	assert.Equal(t, []string{"Job started", "Job completed"}, recorder.messages("info"))
	assert.Equal(t, []string{"Job failed"}, recorder.messages("error"))
}

func TestLoggingHooks_NilLogger(t *testing.T) {
	hooks := LoggingHooks(nil)
	assert.NotPanics(t, func() {
		hooks.OnJobStart(JobContext{})
		hooks.OnJobError(JobContext{}, errors.New("boom"))
	})
}

func TestMetricsHooks(t *testing.T) {
	var startCalls, doneCalls, errorCalls int
	var queues []string

	hooks := MetricsHooks(
		func(queue, topicArn string) { startCalls++; queues = append(queues, queue) },
		func(queue, topicArn string) { doneCalls++ },
		func(queue, topicArn string) { errorCalls++ },
	)

	hooks.OnJobStart(JobContext{Queue: "orders"})
	hooks.OnJobDone(JobContext{})
	hooks.OnJobError(JobContext{}, errors.New("test"))

	assert.Equal(t, 1, startCalls)
	assert.Equal(t, 1, doneCalls)
	assert.Equal(t, 1, errorCalls)
	assert.Equal(t, []string{"orders"}, queues)
}

func TestAlertingHooks(t *testing.T) {
	var capturedErr error

	hooks := AlertingHooks(func(ctx JobContext, err error) {
		capturedErr = err
	})

	expectedErr := errors.New("alert error")
	hooks.OnJobError(JobContext{}, expectedErr)

	assert.Equal(t, expectedErr, capturedErr)
	assert.Nil(t, hooks.OnJobStart)
}
