package scanfeed

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey string

func TestDispatchInvokesHandler(t *testing.T) {
	var (
		gotCtx     context.Context
		gotDevice  string
		gotPayload string
	)
	handler := func(ctx context.Context, deviceID, payload string) {
		gotCtx = ctx
		gotDevice = deviceID
		gotPayload = payload
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	feed := New("tcp://localhost:1883", "scanners/+/scan", logger, handler)

	ctx := context.WithValue(context.Background(), ctxKey("run"), "yes")
	feed.dispatch(ctx, "scanners/gate-a/scan", []byte(`{"panelNo":"1"}`))

	require.NotNil(t, gotCtx)
	// The subscription context flows through to the handler unchanged.
	assert.Equal(t, "yes", gotCtx.Value(ctxKey("run")))
	assert.Equal(t, "gate-a", gotDevice)
	assert.Equal(t, `{"panelNo":"1"}`, gotPayload)
}

func TestDeviceID(t *testing.T) {
	assert.Equal(t, "sim-scanner-1", deviceID("scanners/sim-scanner-1/scan"))
	assert.Equal(t, "gate-a", deviceID("scanners/gate-a/scan"))
	// A topic without segments falls back to itself.
	assert.Equal(t, "oddtopic", deviceID("oddtopic"))
}
