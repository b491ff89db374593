package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
)

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] THE INTERFACE FOR EXTERNAL LAYERS (HUB/TRANSPORT)
type Connector interface {
	GetID() uuid.UUID
	GetAccountHash() model.AccountHash
	// Send enqueues msg without blocking. It reports false when the connection
	// is closed or its buffer is full.
	Send(msg model.ServerMessage) bool
	Outbound() <-chan model.ServerMessage
	Done() <-chan struct{}
	Dropped() uint64
	Close()
}

type connect struct {
	id          uuid.UUID
	accountHash model.AccountHash
	createdAt   time.Time
	ctx         context.Context
	cancelFn    context.CancelFunc
	sendCh      chan model.ServerMessage
	closeOnce   sync.Once     // [PROTECTION]
	dropped     atomic.Uint64 // [ATOMIC_FIELD]
}

// NewConnector creates a connection bound to ctx. Cancelling ctx closes it.
func NewConnector(ctx context.Context, hash model.AccountHash, bufferSize int) Connector {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	childCtx, cancel := context.WithCancel(ctx)
	return &connect{
		id:          uuid.New(),
		accountHash: hash,
		createdAt:   time.Now(),
		ctx:         childCtx,
		cancelFn:    cancel,
		sendCh:      make(chan model.ServerMessage, bufferSize),
	}
}

func (c *connect) GetID() uuid.UUID                     { return c.id }
func (c *connect) GetAccountHash() model.AccountHash    { return c.accountHash }
func (c *connect) Outbound() <-chan model.ServerMessage { return c.sendCh }
func (c *connect) Done() <-chan struct{}                { return c.ctx.Done() }
func (c *connect) Dropped() uint64                      { return c.dropped.Load() }

func (c *connect) Send(msg model.ServerMessage) bool {
	// [LIFECYCLE_GATE] A closed connection never accepts, even if the buffer has room.
	if c.ctx.Err() != nil {
		return false
	}

	select {
	case c.sendCh <- msg:
		return true
	default:
		// [BACKPRESSURE] Snapshots are superseded every few ticks; drop instead of waiting.
		c.dropped.Add(1)
		return false
	}
}

// Close cancels the connection. sendCh stays open so concurrent Send calls never panic;
// the write pump exits on Done.
func (c *connect) Close() {
	c.closeOnce.Do(c.cancelFn)
}
