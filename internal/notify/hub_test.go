package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welfare/internal/logging"
)

func TestHub_BroadcastDoesNotBlockOnFullClient(t *testing.T) {
	h := NewHub(logging.Discard())
	slow := h.Register("slow")

	done := make(chan struct{})
	go func() {
		for i := 0; i < clientBuffer*3; i++ {
			h.Broadcast(Event{Type: "reminder.sent"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a client that is not reading")
	}
	assert.Len(t, slow.send, clientBuffer)
}

func TestHub_UnregisterAndClose(t *testing.T) {
	h := NewHub(logging.Discard())
	a := h.Register("a")
	b := h.Register("b")
	require.Equal(t, 2, h.Len())

	h.Unregister(a)
	h.Unregister(a)
	assert.Equal(t, 1, h.Len())

	h.Close()
	assert.Equal(t, 0, h.Len())
	_, ok := <-b.send
	assert.False(t, ok)

	late := h.Register("late")
	_, ok = <-late.send
	assert.False(t, ok)
	h.Broadcast(Event{Type: "ignored"})
}

func TestHub_ServeDeliversEvents(t *testing.T) {
	h := NewHub(logging.Discard())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, "admin")
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	h.Broadcast(Event{Type: "reminder.sent", Payload: map[string]any{"date_id": 3}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "reminder.sent", ev.Type)
	assert.False(t, ev.At.IsZero())
}
