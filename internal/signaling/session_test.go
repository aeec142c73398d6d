package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomhub/groupcall/internal/models"
)

// TestSessionRoundTrip joins a room over a real websocket and checks the
// roster reply arrives as a single text frame, then that closing the
// connection cleans the room up.
func TestSessionRoundTrip(t *testing.T) {
	rt, _ := newTestRouter(t)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		go rt.Serve(context.Background(), conn)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(joinMsg("alice", "r1"))))

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)

	var roster models.Roster
	require.NoError(t, json.Unmarshal(data, &roster))
	assert.Equal(t, models.MsgExistingParticipants, roster.ID)
	assert.Equal(t, []string{"alice"}, roster.Data)
	assert.Equal(t, 1, rt.registry.Size())

	// dropping the transport counts as leaving
	client.Close()
	require.Eventually(t, func() bool {
		return rt.registry.Size() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSessionSendNeverBlocks(t *testing.T) {
	// no writer goroutine draining the buffer
	s := &Session{
		id:   "s1",
		send: make(chan []byte, 2),
		done: make(chan struct{}),
	}

	require.NoError(t, s.Send(models.NewError("one")))
	require.NoError(t, s.Send(models.NewError("two")))
	err := s.Send(models.NewError("three"))
	assert.ErrorIs(t, err, errSendBufferFull)

	close(s.done)
	assert.Error(t, s.Send(models.NewError("four")))
}
