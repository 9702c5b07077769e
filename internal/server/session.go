package server

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fileexchange/internal/command"
	"fileexchange/internal/conn"
	"fileexchange/internal/logger"
	"fileexchange/internal/transfer"
)

// outboxSize bounds the broadcast lines waiting for one slow peer.
const outboxSize = 256

// State is a session's position in its lifecycle.
type State int32

const (
	StateUnregistered State = iota
	StateRegistered
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

var (
	errQueueFull = errors.New("outbound queue full")
	errClosed    = errors.New("session closed")
)

// outItem is one entry of a session's outbound queue: a line, or a block run
// with exclusive access to the stream. When result is set the writer reports
// the outcome on it.
type outItem struct {
	line   string
	block  func(w io.Writer) error
	result chan error
}

// Session is the server side of one client connection. Its own goroutine reads
// and dispatches commands; a second goroutine writes everything the peer
// receives, replies and broadcasts alike, in the order it was queued.
type Session struct {
	id     uuid.UUID
	conn   *conn.Conn
	addr   string
	joined time.Time
	srv    *Server
	log    *logger.Logger

	// alias is written only by Registry.Add and Registry.Claim under the
	// registry lock. Other sessions read it through the registry.
	alias      string
	state      atomic.Int32
	registered atomic.Bool

	out        chan outItem
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
}

// newSession prepares a session. Lines queued before start are written first.
func newSession(c *conn.Conn, log *logger.Logger) *Session {
	s := &Session{
		id:         uuid.New(),
		conn:       c,
		joined:     time.Now(),
		log:        log,
		out:        make(chan outItem, outboxSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	if addr := c.RemoteAddr(); addr != nil {
		s.addr = addr.String()
	}
	return s
}

func (s *Session) start() {
	go s.writeLoop()
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	if st == StateRegistered {
		s.registered.Store(true)
	}
	s.state.Store(int32(st))
}

// Close disconnects the session at once, dropping anything still queued. It
// is safe to call any number of times from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.setState(StateDisconnected)
		close(s.done)
		s.conn.Close()
	})
}

// enqueue queues a line without blocking. The registry calls it under its
// lock.
func (s *Session) enqueue(line string) error {
	select {
	case <-s.done:
		return errClosed
	default:
	}
	select {
	case s.out <- outItem{line: line}:
		return nil
	default:
		return errQueueFull
	}
}

// send queues it behind everything already queued and waits for the writer
// to finish it.
func (s *Session) send(it outItem) error {
	it.result = make(chan error, 1)
	select {
	case s.out <- it:
	case <-s.writerDone:
		return fmt.Errorf("%w: %w", ErrTransport, errClosed)
	}
	select {
	case err := <-it.result:
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return nil
	case <-s.writerDone:
		return fmt.Errorf("%w: %w", ErrTransport, errClosed)
	}
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)
	for {
		select {
		case <-s.done:
			return
		case it := <-s.out:
			var err error
			if it.block != nil {
				err = s.conn.WriteBlock(it.block)
			} else {
				err = s.conn.WriteLine(it.line)
			}
			if it.result != nil {
				it.result <- err
			}
			if err != nil {
				s.log.Debug("write to %s failed: %v", s.addr, err)
				s.Close()
				return
			}
		}
	}
}

// reply queues lines for this session's peer as one block and waits until
// they, and everything queued before them, have been written.
func (s *Session) reply(lines ...string) error {
	return s.send(outItem{block: func(w io.Writer) error {
		for _, line := range lines {
			if _, err := io.WriteString(w, line+"\n"); err != nil {
				return err
			}
		}
		return nil
	}})
}

// flush waits until everything queued so far has been written.
func (s *Session) flush() error {
	return s.send(outItem{block: func(io.Writer) error { return nil }})
}

// run is the command loop. It returns once the session is disconnected.
func (s *Session) run() {
	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			s.drop(fmt.Errorf("%w: %w", ErrTransport, err))
			return
		}

		err = s.dispatch(command.Parse(line))
		switch {
		case err == nil:
		case errors.Is(err, errSessionEnded):
			return
		case fatal(err):
			s.drop(err)
			return
		default:
			if err := s.reply(userMessage(err)); err != nil {
				s.drop(err)
				return
			}
		}
	}
}

// drop handles a session lost to an I/O or protocol failure, which counts as
// an implicit /leave.
func (s *Session) drop(err error) {
	if errors.Is(err, io.EOF) && !s.srv.stopping() {
		// the peer stopped sending but may still be reading
		s.flush()
	}
	s.Close()

	if s.srv.stopping() {
		return
	}
	if errors.Is(err, io.EOF) {
		s.log.Info("%s disconnected", s.alias)
	} else {
		s.log.Warn("%s dropped: %v", s.alias, err)
	}
	if s.registered.Load() {
		s.srv.registry.BroadcastExcept(systemMessage("%s left the file exchange server.", s.alias), s)
	}
}

func (s *Session) dispatch(cmd command.Command) error {
	if cmd.Verb == command.VerbNone {
		return nil
	}
	if s.State() != StateRegistered && !cmd.Verb.AllowedUnregistered() {
		return ErrNotRegistered
	}

	switch cmd.Verb {
	case command.VerbRegister:
		return s.handleRegister(cmd)
	case command.VerbStore:
		return s.handleStore(cmd)
	case command.VerbGet:
		return s.handleGet(cmd)
	case command.VerbDir:
		return s.handleDir()
	case command.VerbChat:
		return s.handleChat(cmd)
	case command.VerbChatUni:
		return s.handleChatUni(cmd)
	case command.VerbList:
		return s.handleList()
	case command.VerbLeave:
		return s.handleLeave()
	case command.VerbHelp:
		return s.reply(command.Help()...)
	default:
		return ErrUnknownCommand
	}
}

func (s *Session) handleRegister(cmd command.Command) error {
	alias, ok := cmd.Arg(0)
	if !ok {
		if err := s.reply("REGISTER_FALSE"); err != nil {
			return err
		}
		return missingArgument(command.VerbRegister)
	}

	old, err := s.srv.registry.Claim(s, alias)
	if err != nil {
		if errors.Is(err, ErrAliasTaken) {
			if rerr := s.reply("REGISTER_FALSE"); rerr != nil {
				return rerr
			}
		}
		return err
	}

	s.log.Info("%s changed their alias to: %s", old, alias)
	if err := s.reply("REGISTER_TRUE", "Successfully changed your nickname to: "+alias); err != nil {
		return err
	}
	s.srv.registry.BroadcastExcept(systemMessage("%s changed their alias to: %s", old, alias), s)
	return nil
}

// handleStore receives "<size>\n" and then exactly size raw bytes.
func (s *Session) handleStore(cmd command.Command) error {
	name, ok := cmd.Arg(0)
	if !ok {
		return missingArgument(command.VerbStore)
	}

	line, err := s.conn.ReadLine()
	if err != nil {
		return fmt.Errorf("%w: reading size of %s: %w", ErrTransport, name, err)
	}
	size, err := transfer.ParseSize(line)
	if err != nil {
		return err
	}
	req := transfer.Request{Name: name, Size: size}

	path, err := s.srv.dir.Resolve(req.Name)
	if err != nil {
		if derr := transfer.Discard(s.conn, req.Size); derr != nil {
			return derr
		}
		s.log.Warn("%s tried to store %q: %v", s.alias, req.Name, err)
		return err
	}

	res, err := transfer.Receive(s.conn, req.Size, path)
	if err != nil {
		s.log.Error("receiving %s from %s: %v", req.Name, s.alias, err)
		return err
	}

	s.log.Info("file received from %s: %s", s.alias, res)
	s.srv.registry.Broadcast(uploadMessage(s.alias, req.Name))
	return nil
}

// handleGet answers FILE_EXISTS, the filename, the size line and the payload
// as one block, or FILE_FALSE when there is nothing to send.
func (s *Session) handleGet(cmd command.Command) error {
	name, ok := cmd.Arg(0)
	if !ok {
		return missingArgument(command.VerbGet)
	}

	out, err := s.openForSend(name)
	if err != nil {
		if !errors.Is(err, transfer.ErrFileNotFound) {
			s.log.Warn("%s requested %q: %v", s.alias, name, err)
		}
		if rerr := s.reply("FILE_FALSE"); rerr != nil {
			return rerr
		}
		return transfer.ErrFileNotFound
	}
	defer out.Close()

	var res transfer.Result
	err = s.send(outItem{block: func(w io.Writer) error {
		if _, err := io.WriteString(w, "FILE_EXISTS\n"+name+"\n"); err != nil {
			return err
		}
		var err error
		res, err = out.Send(w)
		return err
	}})
	if err != nil {
		return fmt.Errorf("sending %s: %w", name, err)
	}

	s.log.Info("file sent to %s: %s", s.alias, res)
	return nil
}

func (s *Session) openForSend(name string) (*transfer.Outgoing, error) {
	path, err := s.srv.dir.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", transfer.ErrFileNotFound, name, err)
	}
	return transfer.Open(path)
}

func (s *Session) handleDir() error {
	names, err := s.srv.dir.List()
	if err != nil {
		return fmt.Errorf("error reading server directory: %w", err)
	}
	if len(names) == 0 {
		return s.reply("Server directory is empty.")
	}
	return s.reply(append([]string{"Server Directory:"}, names...)...)
}

func (s *Session) handleChat(cmd command.Command) error {
	text := cmd.Rest(0)
	if text == "" {
		return missingArgument(command.VerbChat)
	}
	s.srv.registry.Broadcast(chatMessage(s.alias, text))
	return nil
}

func (s *Session) handleChatUni(cmd command.Command) error {
	target, _ := cmd.Arg(0)
	text := cmd.Rest(1)
	if target == "" || text == "" {
		return missingArgument(command.VerbChatUni)
	}

	if err := s.srv.registry.Unicast(target, privateMessage(s.alias, text)); err != nil {
		return err
	}
	s.log.Debug("private message %s -> %s", s.alias, target)
	return nil
}

func (s *Session) handleList() error {
	members := s.srv.registry.Snapshot()
	lines := make([]string, 0, len(members)+1)
	lines = append(lines, fmt.Sprintf("Online users (%d):", len(members)))
	for _, m := range members {
		lines = append(lines, m.Alias)
	}
	return s.reply(lines...)
}

func (s *Session) handleLeave() error {
	// everything queued ahead of the farewell is written before it; the peer
	// may already be gone, so the farewell itself is best effort
	_ = s.reply("Connection closed. Thank you!")
	s.log.Info("%s left the file exchange server.", s.alias)
	s.srv.registry.BroadcastExcept(systemMessage("%s left the file exchange server.", s.alias), s)
	s.Close()
	return errSessionEnded
}
