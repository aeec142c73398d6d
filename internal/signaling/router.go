package signaling

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/roomhub/groupcall/internal/metrics"
	"github.com/roomhub/groupcall/internal/models"
	"github.com/roomhub/groupcall/internal/room"
)

// Conn is the router's view of one signaling connection.
type Conn interface {
	ID() string
	Room() string
	SetRoom(name string)
	Send(msg any) error
}

// Directory resolves shareable room codes to room names and tracks live
// presence for the REST surface. Optional.
type Directory interface {
	Resolve(ctx context.Context, identifier string) (string, error)
	Joined(ctx context.Context, roomName, participantID string) error
	Left(ctx context.Context, roomName, participantID string) error
}

// Router parses inbound signaling frames and dispatches them to room
// operations. Failures are scoped to the originating connection; the
// connection stays open after an error reply.
type Router struct {
	registry  *room.Registry
	directory Directory
	log       *zap.SugaredLogger
}

func NewRouter(registry *room.Registry, directory Directory, log *zap.SugaredLogger) *Router {
	return &Router{
		registry:  registry,
		directory: directory,
		log:       log,
	}
}

// Serve runs the session pumps for an upgraded connection and blocks
// until the connection closes.
func (rt *Router) Serve(ctx context.Context, conn *websocket.Conn) {
	s := newSession(conn, rt.log)
	go s.writePump()
	s.readPump(ctx, rt)
}

// Dispatch routes one inbound frame.
func (rt *Router) Dispatch(ctx context.Context, c Conn, data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		rt.reply(c, models.NewError("invalid message"))
		return
	}
	metrics.SignalingMessages.WithLabelValues(env.ID).Inc()

	switch env.ID {
	case models.MsgJoinRoom:
		rt.handleJoin(ctx, c, env)
	case models.MsgReceiveVideoFrom:
		rt.handleReceiveVideo(ctx, c, env)
	case models.MsgOnIceCandidate:
		rt.handleCandidate(ctx, c, env)
	case models.MsgStopPresenting:
		rt.handleStopPresenting(ctx, c)
	case models.MsgLeaveRoom:
		rt.leave(ctx, c)
	default:
		rt.reply(c, models.NewError("unrecognized message: "+env.ID))
	}
}

// Disconnected handles the transport close notification; it is delivered
// exactly once per connection.
func (rt *Router) Disconnected(ctx context.Context, c Conn) {
	rt.leave(ctx, c)
}

func (rt *Router) handleJoin(ctx context.Context, c Conn, env models.Envelope) {
	if env.Name == "" || env.Room == "" {
		rt.reply(c, models.NewError("joinRoom requires name and room"))
		return
	}
	if c.Room() != "" {
		rt.reply(c, models.NewError("already joined a room"))
		return
	}

	roomName := env.Room
	if rt.directory != nil {
		resolved, err := rt.directory.Resolve(ctx, roomName)
		if err != nil {
			rt.log.Warnw("room resolve failed", "room", roomName, "error", err)
		} else {
			roomName = resolved
		}
	}

	rm, err := rt.registry.GetOrCreate(ctx, roomName)
	if err != nil {
		rt.log.Errorw("room creation failed", "room", roomName, "error", err)
		rt.reply(c, models.NewError("media engine unavailable"))
		return
	}

	p := room.NewParticipant(c.ID(), env.Name, rm.Name(), c)
	roster, presenter, err := rm.Join(ctx, p)
	if err != nil {
		if errors.Is(err, room.ErrNameTaken) {
			rt.reply(c, models.NewExistingName())
		} else {
			rt.log.Errorw("join failed", "room", roomName, "participant", env.Name, "error", err)
			rt.reply(c, models.NewError("could not join room"))
		}
		// reap the room if this failed join was the one that created it
		rt.registry.Remove(ctx, rm.Name())
		return
	}

	c.SetRoom(rm.Name())
	if rt.directory != nil {
		if err := rt.directory.Joined(ctx, rm.Name(), c.ID()); err != nil {
			rt.log.Warnw("presence update failed", "room", rm.Name(), "error", err)
		}
	}
	rt.reply(c, models.NewRoster(roster, presenter))
}

func (rt *Router) handleReceiveVideo(ctx context.Context, c Conn, env models.Envelope) {
	rm, ok := rt.joinedRoom(c)
	if !ok {
		return
	}
	typ := env.Type
	if typ == "" {
		typ = models.ChannelMixed
	}
	if !typ.Valid() {
		rt.reply(c, models.NewError("unknown channel type: "+string(env.Type)))
		return
	}

	answer, err := rm.ReceiveVideoFrom(ctx, c.ID(), env.Sender, typ, env.SdpOffer)
	if err != nil {
		switch {
		case errors.Is(err, room.ErrNoSuchSender):
			rt.reply(c, models.NewError("unknown sender: "+env.Sender))
		case errors.Is(err, room.ErrNoSuchParticipant), errors.Is(err, room.ErrRoomClosed):
			rt.reply(c, models.NewError("not in a room"))
		default:
			rt.log.Warnw("negotiation failed", "room", rm.Name(), "sender", env.Sender, "error", err)
			rt.reply(c, models.NewError("media negotiation failed"))
		}
		return
	}
	rt.reply(c, models.NewVideoAnswer(env.Sender, typ, answer))
}

func (rt *Router) handleCandidate(ctx context.Context, c Conn, env models.Envelope) {
	rm, ok := rt.joinedRoom(c)
	if !ok {
		return
	}
	if env.Candidate == nil {
		rt.reply(c, models.NewError("onIceCandidate requires a candidate"))
		return
	}
	typ := env.Type
	if typ == "" {
		typ = models.ChannelMixed
	}
	rm.AddIceCandidate(ctx, c.ID(), typ, *env.Candidate)
}

func (rt *Router) handleStopPresenting(ctx context.Context, c Conn) {
	rm, ok := rt.joinedRoom(c)
	if !ok {
		return
	}
	rm.StopPresenting(ctx, c.ID())
}

func (rt *Router) leave(ctx context.Context, c Conn) {
	roomName := c.Room()
	if roomName == "" {
		return
	}
	rt.registry.Leave(ctx, roomName, c.ID())
	if rt.directory != nil {
		if err := rt.directory.Left(ctx, roomName, c.ID()); err != nil {
			rt.log.Warnw("presence update failed", "room", roomName, "error", err)
		}
	}
	c.SetRoom("")
}

func (rt *Router) joinedRoom(c Conn) (*room.Room, bool) {
	if c.Room() == "" {
		rt.reply(c, models.NewError("join a room first"))
		return nil, false
	}
	rm, ok := rt.registry.Get(c.Room())
	if !ok {
		rt.reply(c, models.NewError("room no longer exists"))
		return nil, false
	}
	return rm, true
}

func (rt *Router) reply(c Conn, msg any) {
	if err := c.Send(msg); err != nil {
		rt.log.Warnw("reply failed", "session", c.ID(), "error", err)
	}
}
