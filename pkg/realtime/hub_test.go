package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHubServer(t *testing.T, hub *Hub) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var labs []string
		if lab := r.URL.Query().Get("lab"); lab != "" {
			labs = append(labs, lab)
		}
		hub.Serve(conn, labs)
	}))
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, hub.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastRespectsLabFilter(t *testing.T) {
	hub := NewHub(nil)
	srv := startHubServer(t, hub)
	defer srv.Close()

	all := dial(t, srv, "")
	defer all.Close()
	cse := dial(t, srv, "?lab=cse-1")
	defer cse.Close()
	waitForClients(t, hub, 2)

	require.NoError(t, hub.Broadcast(map[string]string{"action": "create"}, "ECE-1"))
	require.NoError(t, hub.Broadcast(map[string]string{"action": "delete"}, "CSE-1"))

	var got map[string]string
	require.NoError(t, all.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, all.ReadJSON(&got))
	assert.Equal(t, "create", got["action"])
	require.NoError(t, all.ReadJSON(&got))
	assert.Equal(t, "delete", got["action"])

	require.NoError(t, cse.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, cse.ReadJSON(&got))
	assert.Equal(t, "delete", got["action"])
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub := NewHub(nil)
	srv := startHubServer(t, hub)
	defer srv.Close()

	conn := dial(t, srv, "")
	waitForClients(t, hub, 1)
	require.NoError(t, conn.Close())

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, hub.Count())
}
