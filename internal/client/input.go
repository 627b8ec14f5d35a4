package client

import (
	"errors"
	"strings"
)

var errPrivateFormat = errors.New("invalid private message format, use @username message")

// CommandKind is what a line of user input asks for
type CommandKind int

const (
	CommandNone CommandKind = iota
	CommandBroadcast
	CommandPrivate
	CommandUsers
	CommandExit
)

// Command is a parsed input line
type Command struct {
	Kind   CommandKind
	Target string
	Text   string
}

// ParseInput interprets one line typed by the user:
//
//	@name text   private message
//	/users       list connected users
//	/exit        leave the chat
//	anything     broadcast
func ParseInput(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	switch {
	case strings.TrimSpace(line) == "":
		return Command{Kind: CommandNone}, nil
	case line == "/exit":
		return Command{Kind: CommandExit}, nil
	case line == "/users":
		return Command{Kind: CommandUsers}, nil
	case strings.HasPrefix(line, "@"):
		target, text, found := strings.Cut(line[1:], " ")
		if !found || target == "" {
			return Command{}, errPrivateFormat
		}
		return Command{Kind: CommandPrivate, Target: target, Text: text}, nil
	default:
		return Command{Kind: CommandBroadcast, Text: line}, nil
	}
}

// Execute performs cmd. It reports true once the client should stop.
func (c *Client) Execute(cmd Command) (bool, error) {
	switch cmd.Kind {
	case CommandBroadcast:
		return false, c.Broadcast(cmd.Text)
	case CommandPrivate:
		return false, c.SendPrivate(cmd.Target, cmd.Text)
	case CommandUsers:
		return false, c.RequestUsers()
	case CommandExit:
		return true, c.Leave()
	default:
		return false, nil
	}
}
