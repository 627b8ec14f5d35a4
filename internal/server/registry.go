package server

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"tcpchat/internal/protocol"
	"tcpchat/internal/transport"
)

// Registry tracks live sessions by descriptor and by id, plus the set of
// claimed usernames. It is owned by the engine goroutine and is not safe
// for concurrent use.
type Registry struct {
	byFD      map[int]*Session
	byID      map[uint32]*Session
	usernames map[string]struct{}
	nextID    uint32
	log       zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		byFD:      make(map[int]*Session),
		byID:      make(map[uint32]*Session),
		usernames: make(map[string]struct{}),
		nextID:    1,
		log:       log,
	}
}

func (r *Registry) allocID() uint32 {
	for {
		id := r.nextID
		r.nextID++
		if id == protocol.ServerID || id == protocol.InvalidID {
			continue
		}
		if _, taken := r.byID[id]; taken {
			continue
		}
		return id
	}
}

// Add creates an unauthenticated session for stream with a fresh id
func (r *Registry) Add(stream transport.Stream) *Session {
	sess := &Session{
		id:          r.allocID(),
		stream:      stream,
		connectedAt: time.Now(),
	}
	r.byFD[stream.FD()] = sess
	r.byID[sess.id] = sess
	r.log.Debug().Int("fd", stream.FD()).Uint32("id", sess.id).Msg("session added")
	return sess
}

// Remove erases the session from both views, releases its username and
// closes its socket. Unknown descriptors are ignored.
func (r *Registry) Remove(fd int) *Session {
	sess, ok := r.byFD[fd]
	if !ok {
		r.log.Warn().Int("fd", fd).Msg("remove of unknown descriptor")
		return nil
	}
	delete(r.byFD, fd)
	delete(r.byID, sess.id)
	if sess.authenticated {
		delete(r.usernames, sess.username)
	}
	if err := sess.close(); err != nil {
		r.log.Warn().Err(err).Int("fd", fd).Uint32("id", sess.id).Msg("close session socket")
	}
	r.log.Debug().Int("fd", fd).Uint32("id", sess.id).Str("username", sess.username).Msg("session removed")
	return sess
}

func (r *Registry) FindByID(id uint32) *Session {
	return r.byID[id]
}

func (r *Registry) FindByFD(fd int) *Session {
	return r.byFD[fd]
}

func (r *Registry) IsUsernameTaken(name string) bool {
	_, ok := r.usernames[name]
	return ok
}

// ClaimUsername reserves name, reporting false if it is already taken
func (r *Registry) ClaimUsername(name string) bool {
	if r.IsUsernameTaken(name) {
		return false
	}
	r.usernames[name] = struct{}{}
	return true
}

// Len returns the number of live sessions, authenticated or not
func (r *Registry) Len() int {
	return len(r.byFD)
}

// Authenticated returns the number of sessions that completed JOIN
func (r *Registry) Authenticated() int {
	return len(r.usernames)
}

// All returns a snapshot of every session ordered by id
func (r *Registry) All() []*Session {
	out := make([]*Session, 0, len(r.byID))
	for _, sess := range r.byID {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Broadcast serializes msg once and writes it to every authenticated
// session except excludeID. It returns the number of sessions reached and
// those whose write failed.
func (r *Registry) Broadcast(msg *protocol.Message, excludeID uint32) (int, []*Session) {
	frame := protocol.Serialize(msg)
	delivered := 0
	var failed []*Session
	for _, sess := range r.All() {
		if !sess.authenticated || sess.id == excludeID {
			continue
		}
		if sess.stream == nil {
			r.log.Warn().Uint32("id", sess.id).Msg("broadcast skipped session without socket")
			continue
		}
		res := sess.send(frame)
		if !res.OK() {
			r.log.Warn().
				Err(res.Err).
				Int("fd", sess.FD()).
				Uint32("id", sess.id).
				Str("status", res.Status.String()).
				Stringer("type", msg.Type).
				Msg("broadcast send failed")
			failed = append(failed, sess)
			continue
		}
		delivered++
	}
	return delivered, failed
}
