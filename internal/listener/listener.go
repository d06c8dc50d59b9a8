package listener

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"zeitgeist/internal/events"
	"zeitgeist/internal/ledger"
	"zeitgeist/internal/projector"
)

type Options struct {
	RPC        *ledger.RPCClient
	WSURL      string
	ProgramID  string
	Commitment string
	Decoder    *events.Decoder
	Projector  *projector.Projector
	Logger     *zap.Logger
}

// Listener subscribes to the program's transaction logs and feeds every
// decoded event through the projector in emission order.
type Listener struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(opts Options) *Listener {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Commitment == "" {
		opts.Commitment = "confirmed"
	}
	return &Listener{opts: opts, logger: opts.Logger}
}

// Start launches the subscription loop. Calling Start on a running
// listener logs a warning and does nothing.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		l.logger.Warn("listener already running")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.running = true
	l.cancel = cancel
	l.done = make(chan struct{})

	stream := ledger.NewLogStream(ledger.LogStreamOptions{
		URL:        l.opts.WSURL,
		ProgramID:  l.opts.ProgramID,
		Commitment: l.opts.Commitment,
		Logger:     l.logger,
	})
	go func() {
		defer close(l.done)
		err := stream.Run(runCtx, func(note *ledger.LogsNotification) {
			l.handle(runCtx, note)
		})
		if err != nil && runCtx.Err() == nil {
			l.logger.Error("log stream stopped", zap.Error(err))
		}
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()
}

// Stop cancels the subscription and waits for the loop to drain.
// Stopping a stopped listener logs a warning and does nothing.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		l.logger.Warn("listener not running")
		return
	}
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()

	cancel()
	<-done
}

// Healthy reports whether the subscription loop is up and the node
// answers queries.
func (l *Listener) Healthy(ctx context.Context) bool {
	l.mu.Lock()
	running := l.running
	l.mu.Unlock()
	if !running {
		return false
	}
	_, err := l.opts.RPC.GetSlot(ctx, l.opts.Commitment)
	return err == nil
}

func (l *Listener) handle(ctx context.Context, note *ledger.LogsNotification) {
	if note.Failed() {
		l.logger.Debug("skipping failed transaction", zap.String("signature", note.Signature))
		return
	}
	logs := note.Logs
	blockTime := time.Now().Unix()
	// The push notification has no block time; the transaction record
	// does. Fall back to the pushed logs when the fetch loses the race
	// with the node's index.
	if detail, err := l.opts.RPC.GetTransaction(ctx, note.Signature, l.opts.Commitment); err != nil {
		l.logger.Warn("fetch transaction failed, using pushed logs",
			zap.String("signature", note.Signature),
			zap.Error(err))
	} else if detail != nil {
		logs = detail.Meta.LogMessages
		if detail.BlockTime != nil {
			blockTime = *detail.BlockTime
		}
	}

	for _, ev := range l.opts.Decoder.DecodeLogs(note.Signature, note.Slot, blockTime, logs) {
		if err := l.opts.Projector.Apply(ctx, ev); err != nil {
			l.logger.Error("apply event failed",
				zap.String("type", ev.Type),
				zap.String("signature", ev.Signature),
				zap.Error(err))
		}
	}
}
