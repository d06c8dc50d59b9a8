package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// LogsNotification carries one transaction's log output as pushed by the
// node's logsSubscribe stream.
type LogsNotification struct {
	Slot      uint64          `json:"-"`
	Signature string          `json:"signature"`
	Err       json.RawMessage `json:"err"`
	Logs      []string        `json:"logs"`
}

// Failed reports whether the transaction errored; its logs must not be
// projected.
func (n *LogsNotification) Failed() bool {
	return len(n.Err) > 0 && string(n.Err) != "null"
}

type logsSubscribeParams struct {
	Mentions []string `json:"mentions"`
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type wsFrame struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	Params *struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value LogsNotification `json:"value"`
		} `json:"result"`
		Subscription uint64 `json:"subscription"`
	} `json:"params"`
}

// LogsClient is one websocket connection subscribed to a program's logs.
type LogsClient struct {
	url  string
	conn *websocket.Conn
}

func NewLogsClient(url string) *LogsClient {
	return &LogsClient{url: url}
}

func (c *LogsClient) Connect(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("logs client is nil")
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	// Log payloads for busy slots can be large; raise read limit above default.
	conn.SetReadLimit(2 << 20) // 2MB
	c.conn = conn
	return nil
}

func (c *LogsClient) Close(status websocket.StatusCode, reason string) error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close(status, reason)
}

// Subscribe registers interest in every transaction mentioning programID
// and waits for the node to acknowledge the subscription.
func (c *LogsClient) Subscribe(ctx context.Context, programID, commitment string) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("ws not connected")
	}
	payload, err := json.Marshal(wsRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "logsSubscribe",
		Params: []any{
			logsSubscribeParams{Mentions: []string{programID}},
			commitmentParam{Commitment: commitment},
		},
	})
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return err
	}
	for {
		frame, err := c.readFrame(ctx)
		if err != nil {
			return err
		}
		if frame.ID == nil {
			continue
		}
		if frame.Error != nil {
			return fmt.Errorf("logsSubscribe rejected: %w", frame.Error)
		}
		return nil
	}
}

func (c *LogsClient) readFrame(ctx context.Context) (*wsFrame, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode ws frame: %w", err)
	}
	return &frame, nil
}

// Read blocks until the next log notification. Frames that are not
// notifications (acks, pongs) are skipped.
func (c *LogsClient) Read(ctx context.Context) (*LogsNotification, error) {
	if c == nil || c.conn == nil {
		return nil, fmt.Errorf("ws not connected")
	}
	for {
		frame, err := c.readFrame(ctx)
		if err != nil {
			return nil, err
		}
		if frame.Params == nil {
			continue
		}
		note := frame.Params.Result.Value
		note.Slot = frame.Params.Result.Context.Slot
		return &note, nil
	}
}

type LogStreamOptions struct {
	URL               string
	ProgramID         string
	Commitment        string
	HeartbeatInterval time.Duration
	PingTimeout       time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	Logger            *zap.Logger
}

// LogStream maintains a logsSubscribe connection across failures,
// reconnecting with bounded exponential backoff.
type LogStream struct {
	opts      LogStreamOptions
	seenFirst bool
}

func NewLogStream(opts LogStreamOptions) *LogStream {
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 20 * time.Second
	}
	if opts.PingTimeout == 0 {
		opts.PingTimeout = 5 * time.Second
	}
	if opts.BackoffMin == 0 {
		opts.BackoffMin = 1 * time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.Commitment == "" {
		opts.Commitment = "confirmed"
	}
	return &LogStream{opts: opts}
}

func (s *LogStream) Run(ctx context.Context, onNotification func(*LogsNotification)) error {
	if s == nil {
		return fmt.Errorf("stream is nil")
	}
	backoff := s.opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		client := NewLogsClient(s.opts.URL)
		if err := client.Connect(ctx); err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("ledger ws connect failed", zap.Error(err))
			}
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		if err := client.Subscribe(ctx, s.opts.ProgramID, s.opts.Commitment); err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("ledger ws subscribe failed", zap.Error(err))
			}
			_ = client.Close(websocket.StatusInternalError, "subscribe failed")
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		if s.opts.Logger != nil {
			s.opts.Logger.Info("ledger ws subscribed",
				zap.String("program", s.opts.ProgramID),
				zap.String("commitment", s.opts.Commitment))
		}
		backoff = s.opts.BackoffMin

		err := s.consume(ctx, client, onNotification)
		_ = client.Close(websocket.StatusNormalClosure, "reconnect")
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		if err := sleepWithJitter(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, s.opts.BackoffMax)
	}
}

func (s *LogStream) consume(ctx context.Context, client *LogsClient, onNotification func(*LogsNotification)) error {
	if client == nil {
		return fmt.Errorf("logs client is nil")
	}
	heartbeatErr := make(chan error, 1)
	heartbeatCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				heartbeatErr <- heartbeatCtx.Err()
				return
			case <-ticker.C:
				pingCtx, cancelPing := context.WithTimeout(heartbeatCtx, s.opts.PingTimeout)
				err := client.conn.Ping(pingCtx)
				cancelPing()
				if err != nil {
					heartbeatErr <- err
					return
				}
			}
		}
	}()

	for {
		select {
		case err := <-heartbeatErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		default:
		}
		note, err := client.Read(ctx)
		if err != nil {
			if s.opts.Logger != nil && !errors.Is(err, context.Canceled) {
				s.opts.Logger.Warn("ledger ws read failed", zap.Error(err))
			}
			return err
		}
		if s.opts.Logger != nil && !s.seenFirst {
			s.seenFirst = true
			s.opts.Logger.Info("ledger ws first notification", zap.String("signature", note.Signature))
		}
		if onNotification != nil {
			onNotification(note)
		}
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Int63n(int64(base / 2)))
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
