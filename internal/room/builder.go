package room

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wyrover/painttyServer/internal/identity"
	"github.com/wyrover/painttyServer/internal/notify"
	"github.com/wyrover/painttyServer/internal/router"
	"github.com/wyrover/painttyServer/internal/transport"
)

// Deps are the process-wide collaborators a room is built on top of.
type Deps struct {
	Logger   *zap.Logger
	Bus      *notify.Bus
	Busy     func() bool // overload probe for admission shedding
	Salt     string      // preloaded salt; SaltFile is read when empty
	SaltFile string
	DataDir  string // where room logs live
	Bind     string // listen host, ports are always ephemeral
}

// NewRoom builds a fully listening room or fails without leaving anything
// behind. The startup is a dependency graph, not a flat sequence: the salt
// and the storage directory are independent, the signed key needs the salt,
// the log paths need the directory, each channel needs its log, and the
// readiness notification needs all three listeners.
func NewRoom(opts Options, deps Deps) (*Room, error) {
	if err := opts.withDefaults(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Bus == nil {
		deps.Bus = notify.NewBus(0)
	}
	if deps.Busy == nil {
		deps.Busy = func() bool { return false }
	}
	if deps.DataDir == "" {
		deps.DataDir = "./data/room"
	}
	if deps.Bind == "" {
		deps.Bind = "::"
	}

	r := &Room{
		opts:       opts,
		logger:     deps.Logger,
		bus:        deps.Bus,
		busy:       deps.Busy,
		emptyClose: opts.EmptyClose,
		permanent:  opts.Permanent,
		expireUnit: time.Hour,
		reportStop: make(chan struct{}),
	}

	// Abort must undo whatever already succeeded.
	var cleanup []func()
	fail := func(err error) (*Room, error) {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
		return nil, fmt.Errorf("create room %s: %w", opts.Name, err)
	}

	// Salt and storage directory are independent of each other.
	var g errgroup.Group
	g.Go(func() error {
		if deps.Salt != "" {
			r.salt = deps.Salt
			return nil
		}
		salt, err := identity.LoadSalt(deps.SaltFile)
		if err != nil {
			return err
		}
		r.salt = salt
		return nil
	})
	g.Go(func() error {
		return os.MkdirAll(deps.DataDir, 0755)
	})
	if err := g.Wait(); err != nil {
		return fail(err)
	}

	// Signed key depends on the salt; log paths depend on the directory.
	// Recovered rooms reuse both from their persisted record.
	var dataFile, msgFile string
	if opts.Recovery {
		r.signedKey = opts.Key
		dataFile = opts.DataFile
		msgFile = opts.MsgFile
	} else {
		r.signedKey = identity.SignedKey(opts.Name, r.salt)
		base := identity.LogName(opts.Name)
		dataFile = filepath.Join(deps.DataDir, base+".data")
		msgFile = filepath.Join(deps.DataDir, base+".msg")
	}

	// The two logs open independently: fresh rooms truncate, recovered
	// rooms append and read their size from disk.
	var g2 errgroup.Group
	g2.Go(func() error {
		ch, err := newDurableChannel(dataFile, opts.Recovery, deps.Logger)
		if err != nil {
			return err
		}
		r.dataChan = ch
		return nil
	})
	g2.Go(func() error {
		ch, err := newDurableChannel(msgFile, opts.Recovery, deps.Logger)
		if err != nil {
			return err
		}
		r.msgChan = ch
		return nil
	})
	if err := g2.Wait(); err != nil {
		if r.dataChan != nil {
			r.dataChan.Close()
		}
		if r.msgChan != nil {
			r.msgChan.Close()
		}
		return fail(err)
	}
	cleanup = append(cleanup, func() { r.dataChan.Close() }, func() { r.msgChan.Close() })

	// Transports. Drawing data and chat both persist and auto-broadcast;
	// the command channel only routes.
	r.dataSrv = transport.NewServer(transport.Options{
		AutoBroadcast:  true,
		MaxConnections: opts.MaxLoad,
	}, deps.Logger)
	r.dataSrv.OnPacket(func(_ *transport.Client, p []byte) {
		r.dataChan.Append(p)
	})
	r.dataSrv.OnConnection(func(c *transport.Client) {
		r.dataChan.StartReplay(c)
		r.onPresenceChanged(false)
	})

	r.msgSrv = transport.NewServer(transport.Options{
		AutoBroadcast:  true,
		MaxConnections: opts.MaxLoad,
	}, deps.Logger)
	r.msgSrv.OnPacket(func(_ *transport.Client, p []byte) {
		r.msgChan.Append(p)
	})
	r.msgSrv.OnConnection(func(c *transport.Client) {
		r.msgChan.StartReplay(c)
	})
	r.msgSrv.OnDisconnect(func(_ *transport.Client) {
		r.onPresenceChanged(true)
	})

	// Chat greets before history; both channels report load once a client
	// has caught up.
	r.msgChan.welcome = r.sendWelcome
	historyDone := func(Peer) { r.onPresenceChanged(false) }
	r.dataChan.onHistoryDone = historyDone
	r.msgChan.onHistoryDone = historyDone

	r.cmdSrv = transport.NewServer(transport.Options{AutoBroadcast: false}, deps.Logger)
	r.rt = router.New(deps.Logger)
	r.registerHandlers()
	r.cmdSrv.OnMessage(func(c *transport.Client, raw []byte) {
		r.rt.Dispatch(c, raw)
	})

	// The expiration timer does not depend on the sockets.
	r.armExpiration()
	cleanup = append(cleanup, func() {
		r.mu.Lock()
		if r.checkoutTimer != nil {
			r.checkoutTimer.Stop()
		}
		r.mu.Unlock()
	})

	// All three listeners come up independently; readiness needs them all.
	addr := net.JoinHostPort(deps.Bind, "0")
	var g3 errgroup.Group
	for _, srv := range []*transport.Server{r.cmdSrv, r.dataSrv, r.msgSrv} {
		srv := srv
		g3.Go(func() error {
			if err := srv.Listen(addr); err != nil {
				return err
			}
			return nil
		})
	}
	if err := g3.Wait(); err != nil {
		for _, srv := range []*transport.Server{r.cmdSrv, r.dataSrv, r.msgSrv} {
			srv.Close()
		}
		return fail(err)
	}

	cmdPort, dataPort, msgPort := r.Ports()
	r.logger.Info("room created",
		zap.String("room", opts.Name),
		zap.Int("cmdPort", cmdPort),
		zap.Int("dataPort", dataPort),
		zap.Int("msgPort", msgPort),
		zap.Bool("recovery", opts.Recovery))

	r.bus.Publish(notify.RoomCreated{
		Name:        opts.Name,
		CmdPort:     cmdPort,
		DataPort:    dataPort,
		MsgPort:     msgPort,
		MaxLoad:     opts.MaxLoad,
		CurrentLoad: r.CurrentLoad(),
		Private:     opts.Private(),
		Key:         r.signedKey,
	})
	go r.reportLoop()

	return r, nil
}

// sendWelcome delivers the configured greeting ahead of chat history.
func (r *Room) sendWelcome(p Peer) {
	if r.opts.WelcomeMsg == "" {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"content": r.opts.WelcomeMsg + "\n",
	})
	if err != nil {
		return
	}
	if err := p.Send(payload); err != nil {
		r.logger.Debug("welcome not delivered", zap.Error(err))
	}
}
