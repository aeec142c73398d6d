package room

import (
	"sync"

	"go.uber.org/zap"

	"github.com/roomhub/groupcall/internal/engine"
	"github.com/roomhub/groupcall/internal/models"
)

// candidateTarget says where a gathered candidate for an endpoint goes and
// how the resulting iceCandidate message is labeled. For presentation
// viewer endpoints the label carries the presenter's name, matching what
// the client negotiated against.
type candidateTarget struct {
	participant *Participant
	name        string
	typ         models.ChannelType
}

// candidateRouter maps engine endpoints to participants so that candidate
// events can be forwarded through each participant's serialized sender.
// It is shared by all rooms of a registry; endpoints are engine-global.
type candidateRouter struct {
	log *zap.SugaredLogger

	mu      sync.RWMutex
	targets map[engine.ObjectID]candidateTarget
}

func newCandidateRouter(log *zap.SugaredLogger) *candidateRouter {
	return &candidateRouter{
		log:     log,
		targets: make(map[engine.ObjectID]candidateTarget),
	}
}

func (c *candidateRouter) track(endpoint engine.ObjectID, p *Participant, name string, typ models.ChannelType) {
	c.mu.Lock()
	c.targets[endpoint] = candidateTarget{participant: p, name: name, typ: typ}
	c.mu.Unlock()
}

func (c *candidateRouter) untrack(endpoint engine.ObjectID) {
	if endpoint == "" {
		return
	}
	c.mu.Lock()
	delete(c.targets, endpoint)
	c.mu.Unlock()
}

func (c *candidateRouter) dispatch(ev engine.CandidateEvent) {
	c.mu.RLock()
	target, ok := c.targets[ev.Endpoint]
	c.mu.RUnlock()
	if !ok {
		// event for an endpoint already torn down
		c.log.Debugw("candidate event for unknown endpoint", "endpoint", ev.Endpoint)
		return
	}
	target.participant.send(c.log, models.NewIceCandidate(target.name, target.typ, ev.Candidate))
}
