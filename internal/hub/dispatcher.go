package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// dispatch routes one inbound frame. A frame that fails to parse gets an
// error reply but never tears down the connection. Every parsed frame also
// counts as a heartbeat.
func (m *Main) dispatch(conn *connection, data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		m.logger.Debug("Dropping unparseable frame",
			slog.String("connectionID", conn.id),
			slog.String(errLoggerKey, err.Error()))
		conn.enqueue(errorFrame("invalid JSON"))
		return
	}
	m.conns.Heartbeat(conn.id)

	switch frame.Type {
	case "ping":
		conn.enqueue(serverFrame{
			Type:      "pong",
			Timestamp: time.Now().UnixMilli(),
			Echo:      frame.Timestamp,
		})
	case "pong":
		// Liveness was already recorded above.
	case "generate", "chat", "code":
		m.handleGeneration(conn, frame)
	case "token_count":
		count := CountTokens(frame.Text)
		conn.enqueue(serverFrame{Type: "token_count", Count: &count})
	case "cancel":
		m.cancelSession(frame)
	default:
		conn.enqueue(errorFrame(fmt.Sprintf("Unknown message type: %s", frame.Type)))
	}
}
