package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"fileexchange/internal/config"
	"fileexchange/internal/conn"
	"fileexchange/internal/logger"
	"fileexchange/internal/store"
)

const (
	greeting       = "Connection to the File Exchange Server is successful!"
	fullNotice     = "Server is full. Please try again later."
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Server accepts clients and runs one Session per connection.
type Server struct {
	cfg      config.Config
	dir      *store.Dir
	log      *logger.Logger
	registry *Registry

	mu       sync.Mutex
	listener net.Listener
	stopped  bool

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg config.Config, dir *store.Dir, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		cfg:      cfg,
		dir:      dir,
		log:      log,
		registry: NewRegistry(log.WithPrefix("registry")),
		quit:     make(chan struct{}),
	}
}

// Listen binds the configured port. Serve calls it when needed.
func (srv *Server) Listen() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.stopped {
		return net.ErrClosed
	}
	if srv.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", srv.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	srv.listener = ln
	srv.log.Info("listening on %s, sharing %s", ln.Addr(), srv.dir.Root())
	return nil
}

// Addr is the bound address, or nil before Listen.
func (srv *Server) Addr() net.Addr {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.listener == nil {
		return nil
	}
	return srv.listener.Addr()
}

// Serve accepts connections until ctx is done or Shutdown is called, in which
// case it returns nil. Any other accept failure shuts the server down and is
// returned.
func (srv *Server) Serve(ctx context.Context) error {
	if err := srv.Listen(); err != nil {
		if srv.stopping() {
			return nil
		}
		return err
	}
	stop := context.AfterFunc(ctx, srv.Shutdown)
	defer stop()

	srv.mu.Lock()
	ln := srv.listener
	srv.mu.Unlock()

	var delay time.Duration
	for {
		raw, err := ln.Accept()
		if err != nil {
			if srv.stopping() {
				return nil
			}
			if retryable(err) {
				delay = backoff(delay)
				srv.log.Warn("accept error: %v; retrying in %v", err, delay)
				select {
				case <-time.After(delay):
					continue
				case <-srv.quit:
					return nil
				}
			}
			srv.log.Error("accept failed: %v", err)
			srv.Shutdown()
			return fmt.Errorf("accept: %w", err)
		}
		delay = 0

		if !srv.track() {
			raw.Close()
			return nil
		}
		go srv.handle(raw)
	}
}

func (srv *Server) ListenAndServe(ctx context.Context) error {
	if err := srv.Listen(); err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// Shutdown stops accepting, disconnects every session and waits for their
// goroutines. It is safe to call more than once.
func (srv *Server) Shutdown() {
	srv.stopOnce.Do(func() {
		srv.mu.Lock()
		srv.stopped = true
		ln := srv.listener
		srv.mu.Unlock()

		close(srv.quit)
		if ln != nil {
			ln.Close()
		}
		n := srv.registry.CloseAll()
		srv.log.Info("server stopping, closed %d sessions", n)
	})
	srv.wg.Wait()
}

func (srv *Server) stopping() bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.stopped
}

// track counts a new session goroutine unless shutdown has begun.
func (srv *Server) track() bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.stopped {
		return false
	}
	srv.wg.Add(1)
	return true
}

func (srv *Server) handle(raw net.Conn) {
	defer srv.wg.Done()

	c := conn.New(raw, srv.cfg.WriteTimeout())
	s := newSession(c, srv.log.WithPrefix("session"))
	s.srv = srv
	// queued ahead of anything the registry delivers once the session joins
	s.enqueue(greeting)

	alias, err := srv.registry.Add(s, srv.cfg.MaxClients)
	if err != nil {
		srv.log.Warn("rejecting %s: %v", s.addr, err)
		c.WriteLine(fullNotice)
		s.Close()
		return
	}
	defer func() {
		srv.registry.Remove(s)
		s.Close()
	}()
	s.start()

	// Shutdown may have snapshotted the registry before Add.
	if srv.stopping() {
		return
	}

	srv.log.Info("%s connected from %s", alias, s.addr)
	srv.registry.Broadcast(systemMessage("Welcome %s", alias))
	s.run()
}

// Sessions lists connected clients in join order.
func (srv *Server) Sessions() []SessionInfo {
	return srv.registry.Snapshot()
}

// Announce broadcasts an operator notice to every session.
func (srv *Server) Announce(text string) int {
	srv.log.Info("announcement: %s", text)
	return srv.registry.Broadcast(systemMessage("Server: %s", text))
}

// Kick disconnects the session holding alias. The session's own loop then
// reports the departure.
func (srv *Server) Kick(alias string) error {
	s, ok := srv.registry.FindByAlias(alias)
	if !ok {
		return ErrAliasNotFound
	}
	srv.log.Info("kicking %s", alias)
	s.Close()
	return nil
}

func (srv *Server) Dir() *store.Dir {
	return srv.dir
}

func retryable(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE)
}

func backoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	d *= 2
	if d > maxAcceptDelay {
		d = maxAcceptDelay
	}
	return d
}
