package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeEngineServer emulates the media engine's JSON-RPC endpoint well
// enough to exercise the client: object creation, invocations, event
// subscription and pushed candidate notifications.
type fakeEngineServer struct {
	*httptest.Server
	objects atomic.Int64
}

func newFakeEngineServer(t *testing.T) *fakeEngineServer {
	t.Helper()
	f := &fakeEngineServer{}
	upgrader := websocket.Upgrader{}

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var req struct {
				ID     uint64         `json:"id"`
				Method string         `json:"method"`
				Params map[string]any `json:"params"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}

			switch req.Method {
			case "create":
				objectType, _ := req.Params["type"].(string)
				if objectType == "Composite" {
					// injected failure for the error path test
					conn.WriteJSON(map[string]any{
						"jsonrpc": "2.0", "id": req.ID,
						"error": map[string]any{"code": 40101, "message": "no composite for you"},
					})
					continue
				}
				id := fmt.Sprintf("%s/%d", objectType, f.objects.Add(1))
				conn.WriteJSON(map[string]any{
					"jsonrpc": "2.0", "id": req.ID,
					"result": map[string]any{"value": id, "sessionId": "sess-1"},
				})

			case "invoke":
				op, _ := req.Params["operation"].(string)
				if op == "gatherCandidates" {
					// never answered, exercises the call timeout
					continue
				}
				var value any
				if op == "processOffer" {
					value = "v=0 sdp-answer"
				}
				conn.WriteJSON(map[string]any{
					"jsonrpc": "2.0", "id": req.ID,
					"result": map[string]any{"value": value, "sessionId": "sess-1"},
				})

			case "subscribe":
				object, _ := req.Params["object"].(string)
				conn.WriteJSON(map[string]any{
					"jsonrpc": "2.0", "id": req.ID,
					"result": map[string]any{"value": "sub-1", "sessionId": "sess-1"},
				})
				// push a gathered candidate right away
				conn.WriteJSON(map[string]any{
					"jsonrpc": "2.0", "method": "onEvent",
					"params": map[string]any{
						"value": map[string]any{
							"type":   "OnIceCandidate",
							"object": object,
							"data": map[string]any{
								"source": object,
								"candidate": map[string]any{
									"candidate":     "candidate:1 1 UDP 1 10.0.0.1 4000 typ host",
									"sdpMid":        "0",
									"sdpMLineIndex": 0,
								},
							},
						},
					},
				})

			case "release":
				conn.WriteJSON(map[string]any{
					"jsonrpc": "2.0", "id": req.ID,
					"result": map[string]any{"sessionId": "sess-1"},
				})
			}
		}
	}))
	return f
}

func dialTest(t *testing.T, srv *fakeEngineServer, timeout time.Duration) *Kurento {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	k, err := Dial(context.Background(), wsURL, timeout, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })
	return k
}

func TestCreateAndProcessOffer(t *testing.T) {
	srv := newFakeEngineServer(t)
	defer srv.Close()
	k := dialTest(t, srv, 5*time.Second)
	ctx := context.Background()

	pipeline, err := k.CreateMediaPipeline(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pipeline), "MediaPipeline/"))

	ep, err := k.CreateWebRtcEndpoint(ctx, pipeline)
	require.NoError(t, err)

	answer, err := k.ProcessOffer(ctx, ep, "v=0 offer")
	require.NoError(t, err)
	assert.Equal(t, "v=0 sdp-answer", answer)

	require.NoError(t, k.Release(ctx, ep))
}

func TestRPCErrorSurfaces(t *testing.T) {
	srv := newFakeEngineServer(t)
	defer srv.Close()
	k := dialTest(t, srv, 5*time.Second)

	pipeline, err := k.CreateMediaPipeline(context.Background())
	require.NoError(t, err)

	_, err = k.CreateComposite(context.Background(), pipeline)
	require.Error(t, err)
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Contains(t, engErr.Error(), "no composite for you")
}

func TestCallTimeout(t *testing.T) {
	srv := newFakeEngineServer(t)
	defer srv.Close()
	k := dialTest(t, srv, 100*time.Millisecond)
	ctx := context.Background()

	pipeline, err := k.CreateMediaPipeline(ctx)
	require.NoError(t, err)
	ep, err := k.CreateWebRtcEndpoint(ctx, pipeline)
	require.NoError(t, err)

	err = k.GatherCandidates(ctx, ep)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestSubscribedCandidateEventsArrive(t *testing.T) {
	srv := newFakeEngineServer(t)
	defer srv.Close()
	k := dialTest(t, srv, 5*time.Second)
	ctx := context.Background()

	pipeline, err := k.CreateMediaPipeline(ctx)
	require.NoError(t, err)
	ep, err := k.CreateWebRtcEndpoint(ctx, pipeline)
	require.NoError(t, err)
	require.NoError(t, k.SubscribeIceCandidates(ctx, ep))

	select {
	case ev := <-k.Events():
		assert.Equal(t, ep, ev.Endpoint)
		assert.Contains(t, ev.Candidate.Candidate, "typ host")
		require.NotNil(t, ev.Candidate.SDPMid)
		assert.Equal(t, "0", *ev.Candidate.SDPMid)
	case <-time.After(5 * time.Second):
		t.Fatal("no candidate event received")
	}
}

func TestContextCancelAbortsCall(t *testing.T) {
	srv := newFakeEngineServer(t)
	defer srv.Close()
	k := dialTest(t, srv, 5*time.Second)

	pipeline, err := k.CreateMediaPipeline(context.Background())
	require.NoError(t, err)
	ep, err := k.CreateWebRtcEndpoint(context.Background(), pipeline)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	// gatherCandidates is never answered by the fake
	err = k.GatherCandidates(ctx, ep)
	require.ErrorIs(t, err, context.Canceled)
}

func TestOverlayCreationAddsImage(t *testing.T) {
	srv := newFakeEngineServer(t)
	defer srv.Close()
	k := dialTest(t, srv, 5*time.Second)
	ctx := context.Background()

	pipeline, err := k.CreateMediaPipeline(ctx)
	require.NoError(t, err)

	overlay, err := k.CreateImageOverlay(ctx, pipeline, "https://overlay.local/names/alice")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(overlay), "ImageOverlayFilter/"))
}

func TestEventParsingIgnoresForeignEvents(t *testing.T) {
	k := &Kurento{
		log:    zap.NewNop().Sugar(),
		events: make(chan CandidateEvent, 1),
	}
	k.handleEvent(json.RawMessage(`{"value":{"type":"MediaStateChanged","object":"ep/1","data":{}}}`))
	select {
	case ev := <-k.events:
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
}
