package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type wsCommand struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type wsAck struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Client  string `json:"client,omitempty"`
}

// WSServer exposes the hub over a websocket endpoint. Clients start on
// the rounds channel and switch with subscribe/unsubscribe commands.
type WSServer struct {
	hub    *Hub
	logger *zap.Logger
}

func NewWSServer(hub *Hub, logger *zap.Logger) *WSServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSServer{hub: hub, logger: logger}
}

func (s *WSServer) Handle(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("ws accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := c.Request.Context()
	sub := s.hub.Subscribe([]string{ChannelRounds}, 64)
	defer s.hub.Unsubscribe(sub)

	s.logger.Debug("ws client connected", zap.String("client", sub.ID))
	_ = writeJSON(ctx, conn, wsAck{Type: "hello", Client: sub.ID})

	readErr := make(chan error, 1)
	go func() {
		readErr <- s.readLoop(ctx, conn, sub)
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutdown")
			return
		case err := <-readErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Debug("ws client gone", zap.String("client", sub.ID), zap.Error(err))
			}
			return
		case msg := <-sub.C:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := writeJSON(writeCtx, conn, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *WSServer) readLoop(ctx context.Context, conn *websocket.Conn, sub *Subscription) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		switch cmd.Type {
		case "subscribe":
			if validChannel(cmd.Channel) {
				sub.SetChannel(cmd.Channel, true)
				_ = writeJSON(ctx, conn, wsAck{Type: "subscribed", Channel: cmd.Channel})
			}
		case "unsubscribe":
			if validChannel(cmd.Channel) {
				sub.SetChannel(cmd.Channel, false)
				_ = writeJSON(ctx, conn, wsAck{Type: "unsubscribed", Channel: cmd.Channel})
			}
		case "ping":
			_ = writeJSON(ctx, conn, wsAck{Type: "pong"})
		}
	}
}

func validChannel(name string) bool {
	switch name {
	case ChannelGlobal, ChannelRounds, ChannelPrices:
		return true
	}
	return false
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
