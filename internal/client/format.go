package client

import (
	"fmt"
	"strings"
)

const timeLayout = "2006-01-02 15:04:05"

// FormatEvent renders ev as one line of chat output
func FormatEvent(ev Event) string {
	timestamp := ev.Time.Format(timeLayout)
	switch ev.Kind {
	case EventJoined:
		return fmt.Sprintf("[%s] %s (Your ID: %d)", timestamp, ev.Text, ev.ReceiverID)
	case EventJoinFailed:
		return fmt.Sprintf("[%s][ERROR] Join failed: %s", timestamp, ev.Text)
	case EventUserJoined:
		return fmt.Sprintf("[%s] %s has joined our chat...", timestamp, ev.From)
	case EventUserLeft:
		return fmt.Sprintf("[%s] %s has left our chat...", timestamp, ev.From)
	case EventPrivate:
		return fmt.Sprintf("[%s][PM from %s]: %s", timestamp, ev.From, ev.Text)
	case EventUserList:
		names := make([]string, 0, len(ev.Users))
		for _, u := range ev.Users {
			names = append(names, u.Name)
		}
		return fmt.Sprintf("[%s] Online users (%d): %s", timestamp, len(names), strings.Join(names, ", "))
	case EventError:
		return fmt.Sprintf("[%s][ERROR] %s", timestamp, ev.Text)
	case EventShutdown, EventClosed:
		return fmt.Sprintf("[%s] %s", timestamp, ev.Text)
	default:
		return fmt.Sprintf("[%s][%s]: %s", timestamp, ev.From, ev.Text)
	}
}
