package modelclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"modelguard/internal/theft"
)

type WS struct{ url string }

func NewWS(u string) WS { return WS{u} }

// Stream consumes the serving query log and forwards one record per
// inference request. Reconnects with exponential backoff until the
// context is cancelled.
func (w WS) Stream(ctx context.Context, models []string, queries chan<- theft.QueryRecord, errors chan<- error, ping time.Duration) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := w.streamOnce(ctx, models, queries, errors, ping); err != nil {
				log.Warn().Err(err).Dur("backoff", backoff).Msg("WebSocket connection failed, reconnecting with exponential backoff...")
				select {
				case errors <- fmt.Errorf("ws reconnect: %w", err):
				default:
				}

				// Exponential backoff for reconnection
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return ctx.Err()
				}

				// Double the backoff, up to maxBackoff
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			// Reset backoff on successful connection
			backoff = time.Second
		}
	}
}

func (w WS) streamOnce(ctx context.Context, models []string, queries chan<- theft.QueryRecord, errors chan<- error, ping time.Duration) error {
	log.Info().Str("url", w.url).Int("models_count", len(models)).Msg("Establishing WebSocket connection")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer func() {
		conn.Close()
		log.Debug().Msg("WebSocket connection closed")
	}()

	// Set connection timeouts and limits
	conn.SetReadLimit(512 * 1024) // 512KB max message size
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

	// Set close handler
	conn.SetCloseHandler(func(code int, text string) error {
		log.Warn().Int("code", code).Str("text", text).Msg("WebSocket connection closed by server")
		return fmt.Errorf("connection closed: %d %s", code, text)
	})

	// Set pong handler for keep-alive
	conn.SetPongHandler(func(appData string) error {
		log.Debug().Msg("Received pong from server")
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// subscription payload
	var args []map[string]string
	for _, m := range models {
		args = append(args, map[string]string{"model": m, "ch": "queries"})
	}

	log.Info().Interface("models", models).Msg("Subscribing to query log channels")
	if err = conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	// keep-alive ping ticker
	pingTicker := time.NewTicker(ping)
	defer pingTicker.Stop()

	// Send initial ping and set up periodic pings
	if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
		return fmt.Errorf("initial ping failed: %w", err)
	}
	log.Debug().Dur("interval", ping).Msg("Started WebSocket ping ticker")

	// Connection health monitoring
	lastDataReceived := time.Now()
	healthCheckTicker := time.NewTicker(30 * time.Second)
	defer healthCheckTicker.Stop()

	// read loop
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				select {
				case errors <- fmt.Errorf("ping failed: %w", err):
				default:
				}
				return err
			}
			log.Debug().Msg("Sent ping to server")
		case <-healthCheckTicker.C:
			// Check if we've received data recently
			if time.Since(lastDataReceived) > 60*time.Second {
				log.Warn().Time("last_data", lastDataReceived).Msg("No data received for 60 seconds, connection may be stale")
				return fmt.Errorf("connection appears stale - no data for %v", time.Since(lastDataReceived))
			}
		default:
			conn.SetReadDeadline(time.Now().Add(30 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Info().Msg("WebSocket connection closed normally")
					return err
				}
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Error().Err(err).Msg("WebSocket connection closed unexpectedly")
				}
				return fmt.Errorf("read message failed: %w", err)
			}

			lastDataReceived = time.Now()

			var raw map[string]any
			if err := json.Unmarshal(msg, &raw); err != nil {
				log.Debug().Err(err).Str("message", string(msg)).Msg("failed to parse message")
				continue
			}

			// Log successful subscription confirmations
			if op, ok := raw["op"].(string); ok && op == "subscribe" {
				if success, ok := raw["success"].(bool); ok && success {
					log.Info().Interface("response", raw).Msg("Successfully subscribed to query log channels")
				} else {
					log.Warn().Interface("response", raw).Msg("Subscription may have failed")
				}
				continue
			}

			// Handle data messages
			switch raw["ch"] {
			case "queries":
				if err := parseQuery(raw, queries); err != nil {
					log.Debug().Err(err).Interface("raw_data", raw).Msg("Failed to parse query record")
					select {
					case errors <- fmt.Errorf("parse query: %w", err):
					default:
					}
				}
			default:
				// Log unknown message types for debugging
				if ch, ok := raw["ch"].(string); ok && ch != "" {
					log.Debug().Str("channel", ch).Interface("data", raw).Msg("Received unknown channel message")
				}
			}
		}
	}
}

func parseQuery(m map[string]any, out chan<- theft.QueryRecord) error {
	data, ok := m["data"].(map[string]any)
	if !ok {
		return fmt.Errorf("invalid query data format")
	}

	modelID, ok := m["model"].(string)
	if !ok || modelID == "" {
		return fmt.Errorf("missing model in query record")
	}

	queryHash, ok := data["hash"].(string)
	if !ok || queryHash == "" {
		return fmt.Errorf("missing query hash")
	}

	source, _ := data["source"].(string)
	if source == "" {
		source = "unknown"
	}

	// Parse timestamp if available
	var timestamp time.Time
	if ts, ok := data["ts"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			timestamp = parsed
		}
	}
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	record := theft.QueryRecord{
		ModelID:   modelID,
		QueryHash: queryHash,
		Source:    source,
		Ts:        timestamp,
	}

	select {
	case out <- record:
		log.Debug().
			Str("model_id", modelID).
			Str("source", source).
			Msg("Query record processed successfully")
	default:
		log.Warn().Str("model_id", modelID).Msg("query channel full, dropping message")
	}

	return nil
}
