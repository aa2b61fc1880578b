package core_test

import (
	"context"
	"errors"
	"kakigoori-worker/internal/core"
	"kakigoori-worker/internal/messaging"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFunc func(ctx context.Context, body []byte) error

func (f handlerFunc) Handle(ctx context.Context, body []byte) error {
	return f(ctx, body)
}

func runLoop(t *testing.T, loop *core.ConsumerLoop, ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx)
	}()
	return done
}

func waitLoop(t *testing.T, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for consumer loop to stop")
	}
	return nil
}

func TestConsumerLoopAcksEveryMessageInOrder(t *testing.T) {
	inbound := messaging.NewInMemoryQueue("kakigoori_avif")

	var seen []string
	handler := handlerFunc(func(ctx context.Context, body []byte) error {
		seen = append(seen, string(body))
		if string(body) == "bad" {
			return errors.New("handler failed")
		}
		return nil
	})

	for _, body := range []string{"one", "bad", "three"} {
		require.NoError(t, inbound.Publish(context.Background(), []byte(body)))
	}
	inbound.Close()

	loop := core.NewConsumerLoop("avif", inbound, handler)
	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, []string{"one", "bad", "three"}, seen)
	assert.Equal(t, 3, inbound.Acked())

	status := loop.Status()
	assert.Equal(t, core.LoopStopped, status.State)
	assert.Equal(t, int64(2), status.Processed)
	assert.Equal(t, int64(1), status.Failed)
}

func TestConsumerLoopEncodeFailureIsAcked(t *testing.T) {
	scratch := t.TempDir()
	inbound := messaging.NewInMemoryQueue("kakigoori_webp")
	outbound := messaging.NewInMemoryQueue(messaging.ProcessVariantQueue)
	handler := core.NewTaskHandler(&stubEncoder{name: "webp", exitCode: 1}, outbound, scratch)

	require.NoError(t, inbound.Publish(context.Background(), encodeRequest(t, []byte("image"), "job-1")))
	inbound.Close()

	loop := core.NewConsumerLoop("webp", inbound, handler)
	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, 1, inbound.Acked())
	assert.Equal(t, 0, outbound.Published())
	assert.Equal(t, int64(1), loop.Status().Failed)
}

func TestConsumerLoopSequentialJobsDoNotInterfere(t *testing.T) {
	scratch := t.TempDir()
	inbound := messaging.NewInMemoryQueue("kakigoori_avif")
	outbound := messaging.NewInMemoryQueue(messaging.ProcessVariantQueue)
	enc := &stubEncoder{name: "avif"}
	handler := core.NewTaskHandler(enc, outbound, scratch)

	require.NoError(t, inbound.Publish(context.Background(), encodeRequest(t, []byte("first image"), "variant-a")))
	require.NoError(t, inbound.Publish(context.Background(), encodeRequest(t, []byte("second image"), "variant-b")))
	inbound.Close()

	loop := core.NewConsumerLoop("avif", inbound, handler)
	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, 2, inbound.Acked())
	assert.Equal(t, messaging.TaskResponse{VariantFile: []byte("encoded:first image"), VariantId: "variant-a"}, nextResponse(t, outbound))
	assert.Equal(t, messaging.TaskResponse{VariantFile: []byte("encoded:second image"), VariantId: "variant-b"}, nextResponse(t, outbound))

	assert.Equal(t, []byte("first image"), enc.inputs["variant-a_input"])
	assert.Equal(t, []byte("second image"), enc.inputs["variant-b_input"])
	assert.NoFileExists(t, filepath.Join(scratch, "variant-a_input"))
	assert.NoFileExists(t, filepath.Join(scratch, "variant-b_output"))
}

func TestConsumerLoopStreamFailure(t *testing.T) {
	inbound := messaging.NewInMemoryQueue("kakigoori_avif")
	loop := core.NewConsumerLoop("avif", inbound, handlerFunc(func(ctx context.Context, body []byte) error { return nil }))

	done := runLoop(t, loop, context.Background())
	inbound.Fail(errors.New("connection reset by peer"))

	err := waitLoop(t, done)
	assert.ErrorIs(t, err, core.ErrStreamFailure)
	assert.Equal(t, core.LoopFailed, loop.Status().State)
}

func TestConsumerLoopCancel(t *testing.T) {
	inbound := messaging.NewInMemoryQueue("kakigoori_avif")
	loop := core.NewConsumerLoop("avif", inbound, handlerFunc(func(ctx context.Context, body []byte) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	done := runLoop(t, loop, ctx)
	cancel()

	assert.NoError(t, waitLoop(t, done))
	assert.Equal(t, core.LoopStopped, loop.Status().State)
}
