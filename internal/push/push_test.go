package push

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/assetdash/internal/model"
)

func TestDecode(t *testing.T) {
	f, err := Decode([]byte(`{"type":"archived","notification":{"id":"n1","status":"archived","timestamp":"2026-03-01T10:00:00Z"},"timestamp":"2026-03-01T10:05:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, FrameArchived, f.Type)
	assert.Equal(t, "n1", f.Notification.ID)
	assert.Equal(t, model.StatusArchived, f.Notification.Status)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":     `{"type":`,
		"unknown type": `{"type":"exploded","notification":{"id":"n1"}}`,
		"missing id":   `{"type":"new","notification":{"title":"x"}}`,
		"empty":        `{}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedFrame))
		})
	}
}

func TestCloseCode(t *testing.T) {
	assert.Equal(t, 1001, CloseCode(&websocket.CloseError{Code: 1001}))
	assert.Equal(t, CloseAbnormal, CloseCode(errors.New("connection reset")))
	assert.True(t, IsClientInitiated(CloseClientInitiated))
	assert.False(t, IsClientInitiated(CloseAbnormal))
}

func TestWebSocketDialerRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	authSeen := make(chan string, 1)
	serverClose := make(chan int, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authSeen <- r.Header.Get("Authorization")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		data, _ := Encode(Frame{
			Type:         FrameNew,
			Notification: model.Notification{ID: "n1", Status: model.StatusUnread},
			Timestamp:    time.Now(),
		})
		_ = ws.WriteMessage(websocket.TextMessage, data)

		_, _, err = ws.ReadMessage()
		serverClose <- CloseCode(err)
	}))
	defer srv.Close()

	d := &WebSocketDialer{Token: func() (string, error) { return "tok", nil }}
	conn, err := d.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", <-authSeen)

	data, err := conn.ReadMessage()
	require.NoError(t, err)
	f, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "n1", f.Notification.ID)

	require.NoError(t, conn.Close(CloseClientInitiated, "bye"))
	select {
	case code := <-serverClose:
		assert.Equal(t, CloseClientInitiated, code)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the close frame")
	}
}

func TestServerCloseIsReported(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = ws.Close()
	}))
	defer srv.Close()

	d := &WebSocketDialer{}
	conn, err := d.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	defer conn.Close(CloseClientInitiated, "")

	_, err = conn.ReadMessage()
	require.Error(t, err)
	assert.Equal(t, websocket.CloseGoingAway, CloseCode(err))
}
