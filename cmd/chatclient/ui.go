package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jroimartin/gocui"

	"tcpchat/internal/client"
)

const helpText = `Commands:
@<user> <message>  - Send private message
/users             - Refresh online users
/exit              - Leave chat

Keybindings:
Ctrl-C             - Quit
Ctrl-H             - Toggle help
Tab                - Switch views
Enter              - Send message`

type ChatUI struct {
	gui        *gocui.Gui
	client     *client.Client
	server     string
	msgView    string
	inputView  string
	statusView string
	userView   string
	helpView   string
	showHelp   bool
}

func NewChatUI(c *client.Client, server string) (*ChatUI, error) {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return nil, err
	}

	ui := &ChatUI{
		gui:        g,
		client:     c,
		server:     server,
		msgView:    "messages",
		inputView:  "input",
		statusView: "status",
		userView:   "users",
		helpView:   "help",
	}

	g.SetManagerFunc(ui.layout)
	return ui, nil
}

func (ui *ChatUI) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	sidebarWidth := 24
	msgWidth := maxX - sidebarWidth - 1
	msgHeight := maxY - 5

	if v, err := g.SetView(ui.msgView, 0, 0, msgWidth, msgHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Messages"
		v.Wrap = true
		v.Autoscroll = true
	}

	if v, err := g.SetView(ui.userView, msgWidth+1, 0, maxX-1, msgHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Online Users"
		v.Wrap = true
		ui.updateUsers()
	}

	if v, err := g.SetView(ui.statusView, 0, msgHeight+1, maxX-1, msgHeight+3); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
		v.Wrap = true
		ui.updateStatus(fmt.Sprintf("Connecting to %s as %s | Ctrl-H: Help", ui.server, ui.client.Username()))
	}

	if v, err := g.SetView(ui.inputView, 0, msgHeight+3, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Input"
		v.Editable = true
		v.Wrap = true

		if _, err := g.SetCurrentView(ui.inputView); err != nil {
			return err
		}
	}

	if ui.showHelp {
		if v, err := g.SetView(ui.helpView, maxX/6, maxY/6, maxX*5/6, maxY*5/6); err != nil {
			if err != gocui.ErrUnknownView {
				return err
			}
			v.Title = "Help"
			fmt.Fprintln(v, helpText)
		}
	} else if err := g.DeleteView(ui.helpView); err != nil && err != gocui.ErrUnknownView {
		return err
	}

	return nil
}

func (ui *ChatUI) updateUsers() {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(ui.userView)
		if err != nil {
			return err
		}
		v.Clear()
		for _, u := range ui.client.Users() {
			marker := "  "
			if u.ID == ui.client.ID() {
				marker = "* "
			}
			fmt.Fprintf(v, "%s%s (%d)\n", marker, u.Name, u.ID)
		}
		return nil
	})
}

func (ui *ChatUI) updateStatus(status string) {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(ui.statusView)
		if err != nil {
			return err
		}
		v.Clear()
		fmt.Fprint(v, status)
		return nil
	})
}

func (ui *ChatUI) appendLine(line string) {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(ui.msgView)
		if err != nil {
			return err
		}
		fmt.Fprintln(v, line)
		return nil
	})
}

// pump feeds client events into the views until the connection ends
func (ui *ChatUI) pump() {
	for ev := range ui.client.Events() {
		ui.appendLine(client.FormatEvent(ev))
		switch ev.Kind {
		case client.EventJoined:
			ui.updateStatus(fmt.Sprintf("Connected to %s as %s (id %d) | Ctrl-H: Help",
				ui.server, ui.client.Username(), ui.client.ID()))
		case client.EventJoinFailed:
			ui.updateStatus("Join rejected: " + ev.Text + " | Ctrl-C: Quit")
		case client.EventUserJoined, client.EventUserLeft, client.EventUserList:
			ui.updateUsers()
		}
	}
	ui.updateStatus(fmt.Sprintf("Disconnected from %s | Ctrl-C: Quit", ui.server))
}

func (ui *ChatUI) keybindings() error {
	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone,
		func(g *gocui.Gui, _ *gocui.View) error {
			return gocui.ErrQuit
		}); err != nil {
		return err
	}

	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlH, gocui.ModNone,
		func(_ *gocui.Gui, _ *gocui.View) error {
			ui.showHelp = !ui.showHelp
			return nil
		}); err != nil {
		return err
	}

	if err := ui.gui.SetKeybinding(ui.inputView, gocui.KeyEnter, gocui.ModNone,
		ui.handleInput); err != nil {
		return err
	}

	if err := ui.gui.SetKeybinding("", gocui.KeyTab, gocui.ModNone,
		func(g *gocui.Gui, v *gocui.View) error {
			nextView := map[string]string{
				ui.msgView:   ui.userView,
				ui.userView:  ui.inputView,
				ui.inputView: ui.msgView,
			}
			if v == nil {
				return nil
			}
			if next, ok := nextView[v.Name()]; ok {
				_, err := g.SetCurrentView(next)
				return err
			}
			return nil
		}); err != nil {
		return err
	}

	return nil
}

func (ui *ChatUI) handleInput(_ *gocui.Gui, v *gocui.View) error {
	input := strings.TrimSpace(v.Buffer())
	v.Clear()
	v.SetCursor(0, 0)
	if input == "" {
		return nil
	}

	cmd, err := client.ParseInput(input)
	if err != nil {
		ui.appendLine(err.Error())
		return nil
	}
	if cmd.Kind == client.CommandBroadcast || cmd.Kind == client.CommandPrivate {
		// the server does not echo our own messages
		ui.appendLine(fmt.Sprintf("[me]: %s", input))
	}

	stop, err := ui.client.Execute(cmd)
	switch {
	case errors.Is(err, client.ErrUnknownUser):
		ui.appendLine(fmt.Sprintf("User '%s' not found. Try /users", cmd.Target))
	case err != nil:
		ui.appendLine("[ERROR] " + err.Error())
	}
	if stop {
		return gocui.ErrQuit
	}
	return nil
}

func (ui *ChatUI) Run() error {
	if err := ui.keybindings(); err != nil {
		return err
	}

	go ui.pump()

	if err := ui.gui.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

func (ui *ChatUI) Close() {
	ui.gui.Close()
}

func runUI(ctx context.Context, c *client.Client, server string) error {
	ui, err := NewChatUI(c, server)
	if err != nil {
		return err
	}
	defer ui.Close()

	go func() {
		<-ctx.Done()
		ui.gui.Update(func(*gocui.Gui) error { return gocui.ErrQuit })
	}()

	if err := ui.Run(); err != nil {
		return err
	}
	if c.Connected() {
		c.Leave()
	}
	return nil
}
