package room

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/roomhub/groupcall/internal/engine"
	"github.com/roomhub/groupcall/internal/metrics"
)

// Registry is the process-wide room map. Rooms are created lazily on the
// first join and destroyed when the last participant leaves. The registry
// also fans the engine's candidate events out to participants.
type Registry struct {
	engine     engine.Client
	overlayURI string
	log        *zap.SugaredLogger
	candidates *candidateRouter

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry(eng engine.Client, overlayURI string, log *zap.SugaredLogger) *Registry {
	return &Registry{
		engine:     eng,
		overlayURI: overlayURI,
		log:        log,
		candidates: newCandidateRouter(log),
		rooms:      make(map[string]*Room),
	}
}

// GetOrCreate returns the room, creating it with fresh pipelines when it
// does not exist. Concurrent callers with the same name get the same
// instance; the registry lock is held across creation so pipelines are
// never allocated twice.
func (g *Registry) GetOrCreate(ctx context.Context, name string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.rooms[name]; ok {
		return r, nil
	}
	r, err := newRoom(ctx, name, g.engine, g.candidates, g.overlayURI, g.log)
	if err != nil {
		return nil, err
	}
	g.rooms[name] = r
	metrics.ActiveRooms.Inc()
	return r, nil
}

func (g *Registry) Get(name string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[name]
	return r, ok
}

func (g *Registry) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Remove evicts an empty room and releases its pipelines. Removing a
// nonexistent name, or a room that picked up a participant in the
// meantime, is a no-op.
func (g *Registry) Remove(ctx context.Context, name string) {
	g.mu.Lock()
	r, ok := g.rooms[name]
	if !ok {
		g.mu.Unlock()
		return
	}

	r.mu.Lock()
	if len(r.participants) > 0 {
		r.mu.Unlock()
		g.mu.Unlock()
		return
	}
	r.closed = true
	mixer, presentation := r.mixerPipeline, r.presentationPipeline
	r.mu.Unlock()

	delete(g.rooms, name)
	metrics.ActiveRooms.Dec()
	g.mu.Unlock()

	r.releaseQuiet(ctx, presentation, "presentation pipeline")
	r.releaseQuiet(ctx, mixer, "mixer pipeline")
	g.log.Infow("room destroyed", "room", name)
}

// Leave removes the participant from the named room and destroys the room
// once it reports itself empty.
func (g *Registry) Leave(ctx context.Context, roomName, participantID string) {
	r, ok := g.Get(roomName)
	if !ok {
		return
	}
	if r.Leave(ctx, participantID) {
		g.Remove(ctx, roomName)
	}
}

// DispatchCandidates consumes the engine's candidate events until the
// context is done or the stream closes. Run it once, from bootstrap.
func (g *Registry) DispatchCandidates(ctx context.Context) {
	events := g.engine.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.candidates.dispatch(ev)
		}
	}
}
