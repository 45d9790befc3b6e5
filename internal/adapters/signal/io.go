package signal

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/dkeye/parlor/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// inbound is the optional JSON form of a chat line.
type inbound struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ReadText returns the next chat line. Binary frames and keepalive
// envelopes are skipped.
func (c *WsSignalConn) ReadText() (string, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if mt != websocket.TextMessage {
			continue
		}
		text, ok := decodeInbound(data)
		if !ok {
			continue
		}
		return text, nil
	}
}

func decodeInbound(data []byte) (string, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var in inbound
		if err := json.Unmarshal(trimmed, &in); err == nil {
			if in.Type == "ping" {
				return "", false
			}
			if in.Content != "" {
				return in.Content, true
			}
		}
	}
	return string(data), true
}

// WriteEvent writes ev as a JSON envelope.
func (c *WsSignalConn) WriteEvent(ev domain.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal event")
		return err
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *WsSignalConn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait))
}
