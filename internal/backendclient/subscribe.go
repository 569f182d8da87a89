package backendclient

import (
	"context"
	"net/http"
	"net/url"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/bodiless/contentsync/internal/content"
)

// MessagePageQueryResult is the push message type that carries a snapshot.
const MessagePageQueryResult = "pageQueryResult"

const maxPushMessageBytes = 8 << 20

type PushMessage struct {
	Type    string      `json:"type"`
	Payload PushPayload `json:"payload"`
}

type PushPayload struct {
	ID     string     `json:"id"`
	Result PushResult `json:"result"`
}

type PushResult struct {
	Data content.Snapshot `json:"data"`
}

// Subscribe streams snapshots pushed for slug into fn until ctx ends or the
// connection drops. A cancelled ctx is not reported as an error.
func (c *HTTPClient) Subscribe(ctx context.Context, slug string, fn func(content.Snapshot)) error {
	q := url.Values{}
	q.Set("page", slug)
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	header.Set("X-Correlation-Id", correlationID())
	// the websocket library rejects clients with an overall timeout
	wsClient := *c.httpClient
	wsClient.Timeout = 0
	conn, _, err := websocket.Dial(ctx, c.baseURL+eventsPath+"?"+q.Encode(), &websocket.DialOptions{
		HTTPClient: &wsClient,
		HTTPHeader: header,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(maxPushMessageBytes)

	for {
		var msg PushMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		if msg.Type != MessagePageQueryResult || msg.Payload.Result.Data == nil {
			continue
		}
		fn(msg.Payload.Result.Data)
	}
}
