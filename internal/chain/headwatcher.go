package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
)

const (
	// headWriteWait is the time allowed to write a message to the node.
	headWriteWait = 10 * time.Second

	// headReadWait bounds the silence between newHeads notifications. Mainnet
	// produces a head roughly every 12s, so a minute of silence means the
	// subscription is dead.
	headReadWait = 60 * time.Second

	// headReconnectDelay is the base delay before attempting to reconnect.
	headReconnectDelay = 2 * time.Second

	// headMaxReconnectDelay caps the exponential backoff for reconnection.
	headMaxReconnectDelay = 60 * time.Second
)

// HeadWatcher subscribes to newHeads over a websocket endpoint and delivers
// head heights on a channel. It reconnects with exponential backoff until
// the context is cancelled.
type HeadWatcher struct {
	wsURL string
	log   *slog.Logger
	heads chan uint64
}

// NewHeadWatcher creates a watcher for the given websocket endpoint.
func NewHeadWatcher(wsURL string, log *slog.Logger) *HeadWatcher {
	return &HeadWatcher{
		wsURL: wsURL,
		log:   log.With("component", "head_watcher"),
		heads: make(chan uint64, 16),
	}
}

// Heads returns the channel new head heights are delivered on.
func (w *HeadWatcher) Heads() <-chan uint64 {
	return w.heads
}

// Run connects, streams heads, and reconnects on failure until ctx is
// cancelled. It always returns ctx.Err().
func (w *HeadWatcher) Run(ctx context.Context) error {
	delay := headReconnectDelay
	for {
		err := w.stream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.log.Warn("head subscription lost, reconnecting", "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > headMaxReconnectDelay {
			delay = headMaxReconnectDelay
		}
	}
}

type headNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Number hexutil.Uint64 `json:"number"`
		} `json:"result"`
	} `json:"params"`
}

// stream runs a single subscription lifetime: dial, subscribe, read until
// the connection or the context dies.
func (w *HeadWatcher) stream(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("chain: dial head endpoint: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop on cancellation.
	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = conn.Close()
	}()

	sub := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params":  []string{"newHeads"},
	}
	_ = conn.SetWriteDeadline(time.Now().Add(headWriteWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("chain: subscribe newHeads: %w", err)
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(headReadWait))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("chain: read head: %w", err)
		}

		var note headNotification
		if err := json.Unmarshal(message, &note); err != nil {
			continue
		}
		if note.Method != "eth_subscription" {
			// Subscription confirmation or an unrelated response.
			continue
		}

		select {
		case w.heads <- uint64(note.Params.Result.Number):
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Consumer is behind. Heads are monotonic so dropping one is
			// harmless, the next delivery covers the gap.
		}
	}
}
