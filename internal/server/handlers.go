package server

import (
	"fmt"

	"tcpchat/internal/protocol"
)

const (
	usernameTakenText    = "Username already exists"
	receiverNotFoundText = "Receiver not found or not connected."
	shutdownText         = "Server is shutting down."
)

// handlerFunc processes one decoded frame from sess
type handlerFunc func(s *Server, sess *Session, msg *protocol.Message) error

func (s *Server) registerHandlers() {
	s.handlers = map[protocol.MessageType]handlerFunc{
		protocol.TypeJoin:            handleJoin,
		protocol.TypeBroadcast:       handleBroadcast,
		protocol.TypePrivate:         handlePrivate,
		protocol.TypeLeave:           handleLeave,
		protocol.TypeUserListRequest: handleUserListRequest,
	}
}

func (s *Server) dispatch(sess *Session, msg *protocol.Message) {
	s.metrics.received(msg.Type)

	if msg.Type.IsValid() && !msg.Type.IsClientType() {
		s.log.Warn().
			Int("fd", sess.FD()).
			Uint32("id", sess.id).
			Stringer("type", msg.Type).
			Msg("server message type sent by client")
		return
	}

	handler, exists := s.handlers[msg.Type]
	if !exists {
		s.log.Warn().
			Int("fd", sess.FD()).
			Uint32("id", sess.id).
			Stringer("type", msg.Type).
			Msg("unknown message type")
		return
	}

	if !sess.authenticated && msg.Type != protocol.TypeJoin && msg.Type != protocol.TypeLeave {
		s.log.Debug().
			Int("fd", sess.FD()).
			Uint32("id", sess.id).
			Stringer("type", msg.Type).
			Msg("dropping message from unauthenticated session")
		return
	}

	if err := handler(s, sess, msg); err != nil {
		s.log.Warn().
			Err(err).
			Uint32("id", sess.id).
			Str("username", sess.username).
			Stringer("type", msg.Type).
			Msg("handler failed")
	}
}

func handleJoin(s *Server, sess *Session, msg *protocol.Message) error {
	if sess.authenticated {
		s.log.Debug().Uint32("id", sess.id).Str("username", sess.username).Msg("ignoring repeated join")
		return nil
	}

	name := msg.Text()
	if err := protocol.ValidateUsername(name); err != nil {
		s.rejectJoin(sess, "invalid", err.Error())
		return fmt.Errorf("join %q: %w", name, err)
	}
	if !s.registry.ClaimUsername(name) {
		s.rejectJoin(sess, "taken", usernameTakenText)
		return fmt.Errorf("join %q: username taken", name)
	}

	sess.authenticate(name)
	s.metrics.sessions(s.registry)
	s.log.Info().Int("fd", sess.FD()).Uint32("id", sess.id).Str("username", name).Msg("user joined")

	s.sendTo(sess, protocol.NewMessage(protocol.TypeJoinSuccess, protocol.ServerID, sess.id,
		fmt.Sprintf("Welcome to the chat, %s!", name)))
	s.broadcast(protocol.NewMessage(protocol.TypeUserJoined, sess.id, protocol.BroadcastID, name), sess.id)
	return nil
}

// rejectJoin answers JOIN_FAILURE and drops the connection
func (s *Server) rejectJoin(sess *Session, reason, text string) {
	s.metrics.joinFailures.WithLabelValues(reason).Inc()
	s.sendTo(sess, protocol.NewMessage(protocol.TypeJoinFailure, protocol.ServerID, protocol.InvalidID, text))
	s.disconnect(sess, "join rejected: "+reason)
}

func handleUserListRequest(s *Server, sess *Session, msg *protocol.Message) error {
	var entries []protocol.UserEntry
	for _, other := range s.registry.All() {
		if other.authenticated && other.id != sess.id {
			entries = append(entries, protocol.UserEntry{Name: other.username, ID: other.id})
		}
	}
	if len(entries) == 0 {
		return nil
	}
	s.sendTo(sess, protocol.NewMessage(protocol.TypeUserList, protocol.ServerID, sess.id,
		protocol.EncodeUserList(entries)))
	return nil
}

func handleBroadcast(s *Server, sess *Session, msg *protocol.Message) error {
	s.log.Debug().Uint32("id", sess.id).Str("username", sess.username).Int("size", len(msg.Payload)).Msg("broadcast")
	s.broadcast(&protocol.Message{
		Type:       protocol.TypeServerBroadcast,
		SenderID:   sess.id,
		ReceiverID: protocol.BroadcastID,
		Payload:    msg.Payload,
	}, sess.id)
	return nil
}

func handlePrivate(s *Server, sess *Session, msg *protocol.Message) error {
	target := s.registry.FindByID(msg.ReceiverID)
	if target == nil || !target.authenticated {
		s.sendTo(sess, protocol.NewMessage(protocol.TypeError, protocol.ServerID, sess.id, receiverNotFoundText))
		return fmt.Errorf("private message to %d: receiver not found", msg.ReceiverID)
	}

	s.log.Debug().Uint32("from", sess.id).Uint32("to", target.id).Int("size", len(msg.Payload)).Msg("private message")
	s.sendTo(target, &protocol.Message{
		Type:       protocol.TypeServerPrivate,
		SenderID:   sess.id,
		ReceiverID: target.id,
		Payload:    msg.Payload,
	})
	return nil
}

func handleLeave(s *Server, sess *Session, msg *protocol.Message) error {
	s.disconnect(sess, "leave")
	return nil
}
