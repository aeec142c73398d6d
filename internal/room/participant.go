package room

import (
	"context"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/roomhub/groupcall/internal/engine"
	"github.com/roomhub/groupcall/internal/models"
)

// MessageSender delivers one outbound message to a participant's
// connection. Implementations must serialize writes; Send must not block
// on a slow client.
type MessageSender interface {
	Send(msg any) error
}

// Participant is the per-connection state inside a room. Identity (id and
// room name) is fixed at construction; everything else is guarded by the
// owning room's lock.
type Participant struct {
	id       string
	name     string
	roomName string
	sender   MessageSender

	outgoing     engine.ObjectID // endpoint feeding the room mixer
	hubPort      engine.ObjectID // slot on the room's composite hub
	presentation engine.ObjectID // screen-share endpoint, empty unless live
	presenter    bool
}

func NewParticipant(id, name, roomName string, sender MessageSender) *Participant {
	return &Participant{
		id:       id,
		name:     name,
		roomName: roomName,
		sender:   sender,
	}
}

func (p *Participant) ID() string       { return p.id }
func (p *Participant) Name() string     { return p.name }
func (p *Participant) RoomName() string { return p.roomName }

// IsPresenter must only be relied on while the owning room is quiescent
// or its lock is held.
func (p *Participant) IsPresenter() bool { return p.presenter }

// Equal compares by identity: connection id and room name.
func (p *Participant) Equal(o *Participant) bool {
	if o == nil {
		return false
	}
	return p.id == o.id && p.roomName == o.roomName
}

func (p *Participant) send(log *zap.SugaredLogger, msg any) {
	if err := p.sender.Send(msg); err != nil {
		log.Warnw("dropping outbound message", "participant", p.name, "error", err)
	}
}

// addIceCandidate forwards a remote candidate to the endpoint matching
// the channel type. Candidates for endpoints that no longer exist are
// dropped: clients keep trickling after a channel is torn down.
func (p *Participant) addIceCandidate(ctx context.Context, eng engine.Client, log *zap.SugaredLogger, typ models.ChannelType, candidate webrtc.ICECandidateInit) {
	ep := p.outgoing
	if typ == models.ChannelPresentation {
		ep = p.presentation
	}
	if ep == "" {
		log.Debugw("candidate for missing endpoint dropped", "participant", p.name, "type", typ)
		return
	}
	if err := eng.AddIceCandidate(ctx, ep, candidate); err != nil {
		log.Warnw("add candidate failed", "participant", p.name, "type", typ, "error", err)
	}
}
