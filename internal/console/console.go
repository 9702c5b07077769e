// Package console is the operator's terminal view of a running server: who is
// connected, what is shared, and the activity log, with an input line for
// announcements and kicks.
package console

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jroimartin/gocui"

	"fileexchange/internal/logger"
	"fileexchange/internal/server"
	"fileexchange/internal/store"
)

const (
	activityView = "activity"
	sessionsView = "sessions"
	filesView    = "files"
	statusView   = "status"
	inputView    = "input"
	helpView     = "help"

	refreshInterval = time.Second
)

const helpText = `Input:
<text>          - Announce to every client as "Server: <text>"
/kick <alias>   - Disconnect a client
/level <name>   - Set the log level: debug, info, warn, error, none
/help           - Toggle this help
/quit           - Stop the server

Keybindings:
Ctrl-C          - Stop the server
F1              - Toggle help
Tab             - Switch views
Enter           - Send input`

// Backend is the part of the server the console drives.
type Backend interface {
	Addr() net.Addr
	Sessions() []server.SessionInfo
	Announce(text string) int
	Kick(alias string) error
	Dir() *store.Dir
}

type Console struct {
	gui        *gocui.Gui
	backend    Backend
	log        *logger.Logger
	maxClients int
	showHelp   bool
	activity   *activityWriter
}

// New takes over the terminal. The caller must call Run, which releases it.
func New(b Backend, log *logger.Logger, maxClients int) (*Console, error) {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return nil, fmt.Errorf("start console: %w", err)
	}

	c := &Console{
		gui:        g,
		backend:    b,
		log:        log,
		maxClients: maxClients,
		activity:   &activityWriter{gui: g},
	}
	g.Cursor = true
	g.SetManagerFunc(c.layout)
	log.Tee(c.activity)
	return c, nil
}

// Run blocks until the operator quits or ctx is done, then restores the
// terminal.
func (c *Console) Run(ctx context.Context) error {
	defer c.gui.Close()
	defer c.activity.closed.Store(true)

	if err := c.keybindings(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.backend.Dir().Watch(ctx, func(string) { c.refreshFiles() }); err != nil {
		c.log.Warn("file watch unavailable: %v", err)
	}
	go c.refreshLoop(ctx)

	stop := context.AfterFunc(ctx, func() {
		c.gui.Update(func(*gocui.Gui) error { return gocui.ErrQuit })
	})
	defer stop()

	if err := c.gui.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

func (c *Console) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshSessions()
		}
	}
}

func (c *Console) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	sidebarWidth := 32
	mainWidth := maxX - sidebarWidth - 1
	mainHeight := maxY - 7
	sessionsHeight := mainHeight / 2

	if v, err := g.SetView(activityView, 0, 0, mainWidth, mainHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Activity"
		v.Wrap = true
		v.Autoscroll = true
	}

	if v, err := g.SetView(sessionsView, mainWidth+1, 0, maxX-1, sessionsHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Clients"
		c.refreshSessions()
	}

	if v, err := g.SetView(filesView, mainWidth+1, sessionsHeight+1, maxX-1, mainHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Shared files"
		c.refreshFiles()
	}

	if v, err := g.SetView(statusView, 0, mainHeight+1, maxX-1, mainHeight+3); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
	}

	if v, err := g.SetView(inputView, 0, mainHeight+4, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Announce"
		v.Editable = true
		v.Wrap = true
		if _, err := g.SetCurrentView(inputView); err != nil {
			return err
		}
	}

	if !c.showHelp {
		if err := g.DeleteView(helpView); err != nil && err != gocui.ErrUnknownView {
			return err
		}
		return nil
	}
	if v, err := g.SetView(helpView, maxX/6, maxY/6, maxX*5/6, maxY*5/6); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Help"
		fmt.Fprintln(v, helpText)
	}
	return nil
}

func (c *Console) refreshSessions() {
	sessions := c.backend.Sessions()
	addr := ""
	if a := c.backend.Addr(); a != nil {
		addr = a.String()
	}
	status := formatStatus(addr, len(sessions), c.maxClients, c.backend.Dir().Root())
	now := time.Now()

	c.gui.Update(func(g *gocui.Gui) error {
		if v, err := g.View(sessionsView); err == nil {
			v.Clear()
			for _, line := range formatSessions(sessions, now) {
				fmt.Fprintln(v, line)
			}
		}
		if v, err := g.View(statusView); err == nil {
			v.Clear()
			fmt.Fprint(v, status)
		}
		return nil
	})
}

func (c *Console) refreshFiles() {
	names, err := c.backend.Dir().List()
	if err != nil {
		c.log.Warn("listing shared directory: %v", err)
		return
	}
	c.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(filesView)
		if err != nil {
			return nil
		}
		v.Clear()
		for _, line := range formatFiles(names) {
			fmt.Fprintln(v, line)
		}
		return nil
	})
}

func (c *Console) keybindings() error {
	if err := c.gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone,
		func(*gocui.Gui, *gocui.View) error {
			return gocui.ErrQuit
		}); err != nil {
		return err
	}

	if err := c.gui.SetKeybinding("", gocui.KeyF1, gocui.ModNone,
		func(*gocui.Gui, *gocui.View) error {
			c.showHelp = !c.showHelp
			return nil
		}); err != nil {
		return err
	}

	if err := c.gui.SetKeybinding(inputView, gocui.KeyEnter, gocui.ModNone, c.handleInput); err != nil {
		return err
	}

	return c.gui.SetKeybinding("", gocui.KeyTab, gocui.ModNone,
		func(g *gocui.Gui, v *gocui.View) error {
			next := nextView(v)
			if next == "" {
				return nil
			}
			_, err := g.SetCurrentView(next)
			return err
		})
}

func nextView(v *gocui.View) string {
	if v == nil {
		return inputView
	}
	switch v.Name() {
	case activityView:
		return sessionsView
	case sessionsView:
		return filesView
	case filesView:
		return inputView
	case inputView:
		return activityView
	}
	return ""
}

func (c *Console) handleInput(_ *gocui.Gui, v *gocui.View) error {
	in := parseInput(v.Buffer())
	v.Clear()
	v.SetCursor(0, 0)

	switch in.kind {
	case inputAnnounce:
		n := c.backend.Announce(in.arg)
		c.log.Debug("announcement reached %d clients", n)
	case inputKick:
		if err := c.backend.Kick(in.arg); err != nil {
			c.log.Warn("cannot kick %s: %v", in.arg, err)
		}
	case inputLevel:
		fmt.Fprintf(c.activity, "log level is now %s\n", setLevel(c.log, in.arg))
	case inputHelp:
		c.showHelp = !c.showHelp
	case inputQuit:
		return gocui.ErrQuit
	case inputUnknown:
		c.log.Warn("unknown console command %q, type /help", in.arg)
	}

	c.refreshSessions()
	return nil
}

type inputKind int

const (
	inputNone inputKind = iota
	inputAnnounce
	inputKick
	inputLevel
	inputHelp
	inputQuit
	inputUnknown
)

type operatorInput struct {
	kind inputKind
	arg  string
}

// parseInput reads one line typed into the console.
func parseInput(line string) operatorInput {
	line = strings.TrimSpace(line)
	if line == "" {
		return operatorInput{kind: inputNone}
	}
	if !strings.HasPrefix(line, "/") {
		return operatorInput{kind: inputAnnounce, arg: line}
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/kick":
		if len(fields) != 2 {
			return operatorInput{kind: inputUnknown, arg: line}
		}
		return operatorInput{kind: inputKick, arg: fields[1]}
	case "/level":
		if len(fields) != 2 {
			return operatorInput{kind: inputUnknown, arg: line}
		}
		return operatorInput{kind: inputLevel, arg: fields[1]}
	case "/help":
		return operatorInput{kind: inputHelp}
	case "/quit":
		return operatorInput{kind: inputQuit}
	}
	return operatorInput{kind: inputUnknown, arg: line}
}

// setLevel changes the level of every logger sharing log's output and returns
// the level now in effect.
func setLevel(log *logger.Logger, name string) logger.Level {
	log.SetLevel(logger.ParseLevel(name))
	return log.Level()
}

func formatSessions(sessions []server.SessionInfo, now time.Time) []string {
	if len(sessions) == 0 {
		return []string{"(nobody connected)"}
	}
	lines := make([]string, 0, len(sessions))
	for _, s := range sessions {
		online := now.Sub(s.Joined).Truncate(time.Second)
		lines = append(lines, fmt.Sprintf("%-12s %-12s %s", s.Alias, s.State, online))
	}
	return lines
}

func formatFiles(names []string) []string {
	if len(names) == 0 {
		return []string{"(empty)"}
	}
	return names
}

func formatStatus(addr string, clients, maxClients int, dir string) string {
	limit := "unlimited"
	if maxClients > 0 {
		limit = fmt.Sprint(maxClients)
	}
	return fmt.Sprintf("Listening on %s | Clients: %d/%s | Sharing %s | F1: Help", addr, clients, limit, dir)
}

// activityWriter copies log lines into the activity view.
type activityWriter struct {
	gui    *gocui.Gui
	closed atomic.Bool
}

func (w *activityWriter) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return len(p), nil
	}
	line := string(p)
	w.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(activityView)
		if err != nil {
			return nil
		}
		fmt.Fprint(v, line)
		return nil
	})
	return len(p), nil
}
