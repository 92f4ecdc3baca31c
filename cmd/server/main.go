package main

import (
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/wyrover/painttyServer/internal/config"
	"github.com/wyrover/painttyServer/internal/identity"
	"github.com/wyrover/painttyServer/internal/logging"
	"github.com/wyrover/painttyServer/internal/notify"
	"github.com/wyrover/painttyServer/internal/overload"
	"github.com/wyrover/painttyServer/internal/room"
	"github.com/wyrover/painttyServer/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Env, cfg.Logging.Debug)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	salt, err := identity.LoadSalt(cfg.Storage.SaltFile)
	if err != nil {
		logger.Fatal("load salt", zap.Error(err))
	}

	monitor := overload.NewMonitor(0, 0)
	monitor.Start()
	defer monitor.Stop()

	db, err := store.Open(cfg.Storage.Database)
	if err != nil {
		logger.Fatal("open room store", zap.Error(err))
	}
	defer db.Close()

	bus := notify.NewBus(128)
	srv := &server{
		logger: logger,
		db:     db,
		rooms:  make(map[string]*room.Room),
	}
	go srv.consume(bus)

	deps := room.Deps{
		Logger:  logger,
		Bus:     bus,
		Busy:    monitor.Busy,
		Salt:    salt,
		DataDir: cfg.Storage.DataDir,
		Bind:    cfg.Server.Bind,
	}

	// Bring back rooms that survived the last run.
	recs, err := db.ListRooms()
	if err != nil {
		logger.Fatal("list persisted rooms", zap.Error(err))
	}
	for _, rec := range recs {
		r, err := room.NewRoom(room.Options{
			Name:            rec.Name,
			CanvasWidth:     rec.CanvasWidth,
			CanvasHeight:    rec.CanvasHeight,
			Password:        rec.Password,
			MaxLoad:         rec.MaxLoad,
			WelcomeMsg:      rec.WelcomeMsg,
			EmptyClose:      rec.EmptyClose,
			Permanent:       rec.Permanent,
			ExpirationHours: rec.ExpirationHours,
			Recovery:        true,
			Key:             rec.Key,
			DataFile:        rec.DataFile,
			MsgFile:         rec.MsgFile,
		}, deps)
		if err != nil {
			logger.Error("room recovery failed", zap.String("room", rec.Name), zap.Error(err))
			continue
		}
		srv.add(r)
	}

	// The configured room, unless recovery already brought it back.
	if cfg.Room.Name != "" && srv.get(cfg.Room.Name) == nil {
		r, err := room.NewRoom(room.Options{
			Name:            cfg.Room.Name,
			CanvasWidth:     cfg.Room.CanvasWidth,
			CanvasHeight:    cfg.Room.CanvasHeight,
			Password:        cfg.Room.Password,
			MaxLoad:         cfg.Room.MaxLoad,
			WelcomeMsg:      cfg.Room.WelcomeMsg,
			EmptyClose:      cfg.Room.EmptyClose,
			Permanent:       cfg.Room.Permanent,
			ExpirationHours: cfg.Room.ExpirationHours,
		}, deps)
		if err != nil {
			logger.Fatal("room creation failed", zap.String("room", cfg.Room.Name), zap.Error(err))
		}
		srv.add(r)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	srv.closeAll()
	bus.Close()
}

// server tracks the live rooms of this process and consumes their
// notifications. A coordinating parent would sit here in a multi-process
// deployment.
type server struct {
	logger *zap.Logger
	db     *store.Store

	mu    sync.Mutex
	rooms map[string]*room.Room
}

func (s *server) add(r *room.Room) {
	s.mu.Lock()
	s.rooms[r.Name()] = r
	s.mu.Unlock()

	if err := s.db.SaveRoom(recordOf(r)); err != nil {
		s.logger.Error("persist room", zap.String("room", r.Name()), zap.Error(err))
	}
}

func (s *server) get(name string) *room.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[name]
}

func (s *server) remove(name string) {
	s.mu.Lock()
	delete(s.rooms, name)
	s.mu.Unlock()
}

func (s *server) closeAll() {
	s.mu.Lock()
	rooms := make([]*room.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()
	for _, r := range rooms {
		r.Close()
	}
}

func (s *server) consume(bus *notify.Bus) {
	for e := range bus.Events() {
		switch ev := e.(type) {
		case notify.RoomCreated:
			s.logger.Info("room up",
				zap.String("room", ev.Name),
				zap.Int("cmdPort", ev.CmdPort),
				zap.Int("dataPort", ev.DataPort),
				zap.Int("msgPort", ev.MsgPort),
				zap.Bool("private", ev.Private))
		case notify.LoadChanged:
			s.logger.Debug("load changed",
				zap.String("room", ev.Name),
				zap.Int("currentLoad", ev.CurrentLoad))
		case notify.RoomInfo:
			s.logger.Debug("room info",
				zap.String("room", ev.Name),
				zap.Int("currentLoad", ev.CurrentLoad))
		case notify.RoomCheckedOut:
			if err := s.db.TouchCheckout(ev.Name); err != nil {
				s.logger.Error("touch checkout", zap.String("room", ev.Name), zap.Error(err))
			}
		case notify.RoomClosed:
			s.logger.Info("room down", zap.String("room", ev.Name))
		case notify.RoomDestroyed:
			s.remove(ev.Name)
			if err := s.db.DeleteRoom(ev.Name); err != nil {
				s.logger.Error("drop room record", zap.String("room", ev.Name), zap.Error(err))
			}
		}
	}
}

func recordOf(r *room.Room) store.RoomRecord {
	opts := r.Options()
	return store.RoomRecord{
		Name:            opts.Name,
		CanvasWidth:     opts.CanvasWidth,
		CanvasHeight:    opts.CanvasHeight,
		Password:        opts.Password,
		MaxLoad:         opts.MaxLoad,
		WelcomeMsg:      opts.WelcomeMsg,
		EmptyClose:      opts.EmptyClose,
		ExpirationHours: opts.ExpirationHours,
		Permanent:       opts.Permanent,
		Key:             r.SignedKey(),
		DataFile:        r.DataFile(),
		MsgFile:         r.MsgFile(),
	}
}
