package shield

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// wsProviderServer simulates a streaming model provider speaking one text
// frame per chunk over a WebSocket connection, followed by a close frame —
// grounded on the teacher's internal/services/llm/providers/realtime.go,
// which relays a provider's chunked deltas over a *websocket.Conn rather
// than a plain Go channel.
func wsProviderServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for _, c := range chunks {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(c)); err != nil {
				return
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}))
}

// doStreamOverWebSocket adapts a provider WebSocket connection into shield's
// DoStream contract: each text frame becomes one StreamChunk, a read error
// (including the server's close frame) ends the stream.
func doStreamOverWebSocket(wsURL string) DoStream {
	return func(ctx context.Context, p Params) (<-chan StreamChunk, error) {
		dialer := websocket.Dialer{}
		conn, _, err := dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			return nil, err
		}

		out := make(chan StreamChunk)
		go func() {
			defer close(out)
			defer conn.Close()
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				select {
				case out <- StreamChunk{Text: string(msg)}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil
	}
}

func TestWrapStreamOverWebSocketSettlesFullResponse(t *testing.T) {
	srv := wsProviderServer(t, []string{"The ", "quick ", "brown ", "fox"})
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	s, err := New(testConfig(), WithClock(fixedClock(time.Now())))
	require.NoError(t, err)

	ctx := context.Background()
	tp, err := s.TransformParams(ctx, params("tell me about foxes"))
	require.NoError(t, err)

	result, err := s.WrapStream(ctx, tp, doStreamOverWebSocket(wsURL))
	require.NoError(t, err)

	var text strings.Builder
	for chunk := range result.Chunks {
		text.WriteString(chunk.Text)
	}

	require.Equal(t, "The quick brown fox", text.String())
	require.Eventually(t, func() bool {
		u := result.Usage()
		return !u.Aborted && u.OutputTokens > 0
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, 1, s.Ledger().Len())
}
