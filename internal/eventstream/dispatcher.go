package eventstream

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/peerhelp/reputation/internal/engine"
)

// Dispatcher decodes stream frames into event envelopes and hands them to
// the engine. Undecodable frames are logged and skipped; engine errors
// propagate so the client drops the connection and the stream redelivers.
type Dispatcher struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher bound to an engine.
func NewDispatcher(eng *engine.Engine, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		engine: eng,
		logger: logger,
	}
}

// Handler returns a MessageHandler suitable for a Client. The context bounds
// the engine work for each frame.
func (d *Dispatcher) Handler(ctx context.Context) MessageHandler {
	return func(messageType int, payload []byte) error {
		if messageType != websocket.TextMessage {
			d.logger.Debug("ignoring non-text frame", slog.Int("message_type", messageType))
			return nil
		}

		var env engine.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			d.logger.Warn("skipping undecodable frame",
				slog.String("error", err.Error()))
			return nil
		}

		return d.engine.Handle(ctx, env)
	}
}
