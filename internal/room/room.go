package room

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wyrover/painttyServer/internal/notify"
	"github.com/wyrover/painttyServer/internal/router"
	"github.com/wyrover/painttyServer/internal/transport"
)

const roomInfoInterval = 10 * time.Second

// Room is one isolated drawing+chat session: two durable broadcast channels,
// a command channel, lifecycle timers and an outbound notification stream.
// Build it with NewRoom.
type Room struct {
	opts      Options
	logger    *zap.Logger
	bus       *notify.Bus
	busy      func() bool
	salt      string
	signedKey string

	dataChan *DurableChannel
	msgChan  *DurableChannel

	dataSrv *transport.Server
	msgSrv  *transport.Server
	cmdSrv  *transport.Server
	rt      *router.Router

	mu            sync.Mutex
	emptyClose    bool
	permanent     bool
	checkoutTimer *time.Timer
	expireUnit    time.Duration // scales ExpirationHours, one hour in production

	reportStop chan struct{}
	closeOnce  sync.Once
}

func (r *Room) Name() string { return r.opts.Name }

// SignedKey is the capability token for close/clearall/checkout.
func (r *Room) SignedKey() string { return r.signedKey }

func (r *Room) DataFile() string { return r.dataChan.Path() }
func (r *Room) MsgFile() string  { return r.msgChan.Path() }

// Options returns the room's configuration with the current mutable flags.
func (r *Room) Options() Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.opts
	o.EmptyClose = r.emptyClose
	o.Permanent = r.permanent
	return o
}

// Ports returns the three listener ports.
func (r *Room) Ports() (cmd, data, msg int) {
	return r.cmdSrv.Port(), r.dataSrv.Port(), r.msgSrv.Port()
}

// CurrentLoad is the number of clients present in the room. The command
// channel is public and does not count.
func (r *Room) CurrentLoad() int {
	load := r.dataSrv.ClientCount()
	if n := r.msgSrv.ClientCount(); n > load {
		load = n
	}
	return load
}

// Close tears the room down: timers cancelled, listeners closed, owner
// notified. Log files are deleted only for non-permanent rooms. Safe to call
// more than once.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		if r.checkoutTimer != nil {
			r.checkoutTimer.Stop()
			r.checkoutTimer = nil
		}
		permanent := r.permanent
		r.mu.Unlock()

		close(r.reportStop)

		r.logger.Info("room closed", zap.String("room", r.opts.Name))
		r.bus.Publish(notify.RoomClosed{Name: r.opts.Name})

		r.cmdSrv.Close()
		r.dataSrv.Close()
		r.msgSrv.Close()
		r.dataChan.Close()
		r.msgChan.Close()

		if !permanent {
			if err := r.dataChan.Remove(); err != nil {
				r.logger.Warn("could not delete data log", zap.Error(err))
			}
			if err := r.msgChan.Remove(); err != nil {
				r.logger.Warn("could not delete msg log", zap.Error(err))
			}
			// Must not be dropped: the owner deletes the persisted record
			// and its room-table entry on this event.
			r.bus.PublishSync(notify.RoomDestroyed{Name: r.opts.Name})
		}
	})
}

// armExpiration starts (or restarts) the expiration timer. When it fires
// with clients still present the room defers to empty-close; otherwise it
// closes on the spot.
func (r *Room) armExpiration() {
	if r.opts.ExpirationHours == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d := time.Duration(r.opts.ExpirationHours) * r.expireUnit
	if r.checkoutTimer != nil {
		r.checkoutTimer.Stop()
	}
	r.checkoutTimer = time.AfterFunc(d, func() {
		if r.CurrentLoad() > 0 {
			r.mu.Lock()
			r.emptyClose = true
			r.mu.Unlock()
		} else {
			r.Close()
		}
	})
}

// onPresenceChanged reports the load to the owner and performs the deferred
// empty-close check. leaving marks a disconnect event, where the departing
// client is still counted.
func (r *Room) onPresenceChanged(leaving bool) {
	load := r.CurrentLoad()
	r.bus.Publish(notify.LoadChanged{Name: r.opts.Name, CurrentLoad: load})

	if !leaving {
		return
	}
	r.mu.Lock()
	emptyClose := r.emptyClose
	r.mu.Unlock()
	if emptyClose && load <= 1 {
		r.Close()
	}
}

// reportLoop publishes a room snapshot to the owner every 10 seconds.
func (r *Room) reportLoop() {
	ticker := time.NewTicker(roomInfoInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.reportStop:
			return
		case <-ticker.C:
			r.bus.Publish(notify.RoomInfo{
				Name:        r.opts.Name,
				CmdPort:     r.cmdSrv.Port(),
				MaxLoad:     r.opts.MaxLoad,
				CurrentLoad: r.CurrentLoad(),
				Private:     r.opts.Private(),
				Timestamp:   time.Now().UnixMilli(),
			})
		}
	}
}
