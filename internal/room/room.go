package room

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/roomhub/groupcall/internal/engine"
	"github.com/roomhub/groupcall/internal/metrics"
	"github.com/roomhub/groupcall/internal/models"
)

var (
	ErrRoomClosed        = errors.New("room is closed")
	ErrNameTaken         = errors.New("display name already taken in this room")
	ErrNoSuchParticipant = errors.New("no such participant")
	ErrNoSuchSender      = errors.New("unknown sender")
)

// Room groups participants around one shared mixer and one isolated
// presentation pipeline. All membership, presenter and endpoint mutations
// are serialized by mu; engine calls for a logical operation (join, leave,
// negotiate) run under it so that the invariants hold at every point an
// operation can observe.
type Room struct {
	name       string
	engine     engine.Client
	candidates *candidateRouter
	overlayURI string
	log        *zap.SugaredLogger

	mu           sync.Mutex
	participants map[string]*Participant
	presenter    *Participant
	closed       bool

	mixerPipeline        engine.ObjectID
	presentationPipeline engine.ObjectID
	mixer                engine.ObjectID // composite hub on the mixer pipeline
}

// newRoom allocates the room's media contexts: the mixer pipeline with its
// composite hub, and the separate presentation pipeline so screen-share
// never competes with mixer encoding.
func newRoom(ctx context.Context, name string, eng engine.Client, candidates *candidateRouter, overlayURI string, log *zap.SugaredLogger) (*Room, error) {
	r := &Room{
		name:         name,
		engine:       eng,
		candidates:   candidates,
		overlayURI:   overlayURI,
		log:          log.With("room", name),
		participants: make(map[string]*Participant),
	}

	var err error
	if r.mixerPipeline, err = eng.CreateMediaPipeline(ctx); err != nil {
		metrics.EngineFailures.Inc()
		return nil, fmt.Errorf("create mixer pipeline: %w", err)
	}
	if r.presentationPipeline, err = eng.CreateMediaPipeline(ctx); err != nil {
		metrics.EngineFailures.Inc()
		r.releaseQuiet(ctx, r.mixerPipeline, "mixer pipeline")
		return nil, fmt.Errorf("create presentation pipeline: %w", err)
	}
	if r.mixer, err = eng.CreateComposite(ctx, r.mixerPipeline); err != nil {
		metrics.EngineFailures.Inc()
		r.releaseQuiet(ctx, r.presentationPipeline, "presentation pipeline")
		r.releaseQuiet(ctx, r.mixerPipeline, "mixer pipeline")
		return nil, fmt.Errorf("create mixer hub: %w", err)
	}

	r.log.Infow("room created")
	return r, nil
}

func (r *Room) Name() string { return r.name }

func (r *Room) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// Presenter returns the active presenter's display name, or "".
func (r *Room) Presenter() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.presenter == nil {
		return ""
	}
	return r.presenter.name
}

// ParticipantNames returns the current roster, sorted.
func (r *Room) ParticipantNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked()
}

func (r *Room) rosterLocked() []string {
	names := make([]string, 0, len(r.participants))
	for _, p := range r.participants {
		names = append(names, p.name)
	}
	sort.Strings(names)
	return names
}

// Join adds the participant, builds its media path into the mixer
// (endpoint, optional name overlay, hub port, loopback) and subscribes
// candidate events. On any engine failure the partial allocations are
// rolled back and the participant is not added. Returns the roster
// (including the new participant) and the active presenter's name.
func (r *Room) Join(ctx context.Context, p *Participant) ([]string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, "", ErrRoomClosed
	}
	for _, existing := range r.participants {
		if existing.name == p.name {
			return nil, "", ErrNameTaken
		}
	}

	var created []engine.ObjectID
	rollback := func() {
		for i := len(created) - 1; i >= 0; i-- {
			r.releaseQuiet(ctx, created[i], "join rollback")
		}
	}

	outgoing, err := r.engine.CreateWebRtcEndpoint(ctx, r.mixerPipeline)
	if err != nil {
		metrics.EngineFailures.Inc()
		return nil, "", fmt.Errorf("create outgoing endpoint: %w", err)
	}
	created = append(created, outgoing)

	if err := r.engine.SubscribeIceCandidates(ctx, outgoing); err != nil {
		metrics.EngineFailures.Inc()
		rollback()
		return nil, "", fmt.Errorf("subscribe candidates: %w", err)
	}

	hubPort, err := r.engine.CreateHubPort(ctx, r.mixer)
	if err != nil {
		metrics.EngineFailures.Inc()
		rollback()
		return nil, "", fmt.Errorf("create hub port: %w", err)
	}
	created = append(created, hubPort)

	// outgoing -> (overlay ->) hub port, and the hub back out through the
	// same endpoint so the participant receives the mixed view.
	into := outgoing
	if r.overlayURI != "" {
		overlay, err := r.engine.CreateImageOverlay(ctx, r.mixerPipeline, r.overlayURI+url.PathEscape(p.name))
		if err != nil {
			metrics.EngineFailures.Inc()
			rollback()
			return nil, "", fmt.Errorf("create name overlay: %w", err)
		}
		created = append(created, overlay)
		if err := r.engine.Connect(ctx, outgoing, overlay); err != nil {
			metrics.EngineFailures.Inc()
			rollback()
			return nil, "", fmt.Errorf("connect overlay: %w", err)
		}
		into = overlay
	}
	if err := r.engine.Connect(ctx, into, hubPort); err != nil {
		metrics.EngineFailures.Inc()
		rollback()
		return nil, "", fmt.Errorf("connect into mixer: %w", err)
	}
	if err := r.engine.Connect(ctx, hubPort, outgoing); err != nil {
		metrics.EngineFailures.Inc()
		rollback()
		return nil, "", fmt.Errorf("connect mixer loopback: %w", err)
	}

	p.outgoing = outgoing
	p.hubPort = hubPort
	r.candidates.track(outgoing, p, p.name, models.ChannelMixed)

	r.participants[p.id] = p
	metrics.ActiveParticipants.Inc()
	r.log.Infow("participant joined", "participant", p.name, "count", len(r.participants))

	r.broadcastExceptLocked(p.id, models.NewParticipantArrived(p.name))

	presenter := ""
	if r.presenter != nil {
		presenter = r.presenter.name
	}
	return r.rosterLocked(), presenter, nil
}

// Leave removes the participant and releases everything it held. Releases
// are best-effort: engine failures are logged and local state is cleared
// regardless. Leaving a participant that is not present is a no-op.
// Reports whether the room is empty afterwards.
func (r *Room) Leave(ctx context.Context, participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[participantID]
	if !ok {
		return len(r.participants) == 0
	}

	if r.presenter != nil && r.presenter.Equal(p) {
		r.stopPresentingLocked(ctx)
	} else if p.presentation != "" {
		r.releasePresentationLocked(ctx, p)
	}

	r.candidates.untrack(p.outgoing)
	r.releaseQuiet(ctx, p.hubPort, "hub port")
	r.releaseQuiet(ctx, p.outgoing, "outgoing endpoint")
	p.hubPort = ""
	p.outgoing = ""

	delete(r.participants, participantID)
	metrics.ActiveParticipants.Dec()
	r.log.Infow("participant left", "participant", p.name, "count", len(r.participants))

	r.broadcastLocked(models.NewParticipantLeft(p.name))
	return len(r.participants) == 0
}

// ReceiveVideoFrom negotiates a channel for the viewer: picks (or builds)
// the endpoint the presenter-handoff state machine dictates, processes the
// offer on it and starts candidate gathering.
func (r *Room) ReceiveVideoFrom(ctx context.Context, viewerID, senderName string, typ models.ChannelType, sdpOffer string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrRoomClosed
	}
	viewer, ok := r.participants[viewerID]
	if !ok {
		return "", ErrNoSuchParticipant
	}
	sender := r.byNameLocked(senderName)
	if sender == nil {
		return "", ErrNoSuchSender
	}

	ep, err := r.endpointForLocked(ctx, viewer, sender, typ)
	if err != nil {
		return "", err
	}

	answer, err := r.engine.ProcessOffer(ctx, ep, sdpOffer)
	if err != nil {
		metrics.EngineFailures.Inc()
		return "", fmt.Errorf("process offer: %w", err)
	}
	if err := r.engine.GatherCandidates(ctx, ep); err != nil {
		metrics.EngineFailures.Inc()
		r.log.Warnw("gather candidates failed", "participant", viewer.name, "error", err)
	}
	return answer, nil
}

func (r *Room) byNameLocked(name string) *Participant {
	for _, p := range r.participants {
		if p.name == name {
			return p
		}
	}
	return nil
}

// endpointForLocked implements the presenter handoff:
//
//	Idle, self-targeted presentation  -> become presenter
//	Idle, other-targeted presentation -> nothing to view, serve the mixed path
//	Presenting, requester == presenter -> presenter's own endpoint
//	Presenting, anyone else            -> lazy viewer endpoint chained to the
//	                                      presenter (losers of the presenter
//	                                      race end up here as viewers)
func (r *Room) endpointForLocked(ctx context.Context, viewer, sender *Participant, typ models.ChannelType) (engine.ObjectID, error) {
	if typ != models.ChannelPresentation {
		return viewer.outgoing, nil
	}

	if r.presenter == nil {
		if viewer.Equal(sender) {
			if err := r.becomePresenterLocked(ctx, viewer); err != nil {
				return "", err
			}
			return viewer.presentation, nil
		}
		return viewer.outgoing, nil
	}

	if r.presenter.Equal(viewer) {
		return viewer.presentation, nil
	}

	if viewer.presentation == "" {
		ep, err := r.engine.CreateWebRtcEndpoint(ctx, r.presentationPipeline)
		if err != nil {
			metrics.EngineFailures.Inc()
			return "", fmt.Errorf("create viewer endpoint: %w", err)
		}
		if err := r.engine.SubscribeIceCandidates(ctx, ep); err != nil {
			metrics.EngineFailures.Inc()
			r.releaseQuiet(ctx, ep, "viewer endpoint")
			return "", fmt.Errorf("subscribe candidates: %w", err)
		}
		viewer.presentation = ep
		r.candidates.track(ep, viewer, r.presenter.name, models.ChannelPresentation)
	}
	// one-way: presenter feed into the viewer's endpoint
	if err := r.engine.Connect(ctx, r.presenter.presentation, viewer.presentation); err != nil {
		metrics.EngineFailures.Inc()
		return "", fmt.Errorf("connect presentation: %w", err)
	}
	return viewer.presentation, nil
}

func (r *Room) becomePresenterLocked(ctx context.Context, p *Participant) error {
	ep, err := r.engine.CreateWebRtcEndpoint(ctx, r.presentationPipeline)
	if err != nil {
		metrics.EngineFailures.Inc()
		return fmt.Errorf("create presentation endpoint: %w", err)
	}
	if err := r.engine.SubscribeIceCandidates(ctx, ep); err != nil {
		metrics.EngineFailures.Inc()
		r.releaseQuiet(ctx, ep, "presentation endpoint")
		return fmt.Errorf("subscribe candidates: %w", err)
	}

	p.presentation = ep
	p.presenter = true
	r.presenter = p
	r.candidates.track(ep, p, p.name, models.ChannelPresentation)
	metrics.ActivePresentations.Inc()
	r.log.Infow("presenter ready", "presenter", p.name)

	r.broadcastLocked(models.NewPresenterReady(p.name))
	return nil
}

// StopPresenting ends the participant's presentation if it is the active
// presenter; otherwise it is a no-op.
func (r *Room) StopPresenting(ctx context.Context, participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[participantID]
	if !ok || r.presenter == nil || !r.presenter.Equal(p) {
		return
	}
	r.stopPresentingLocked(ctx)
}

// stopPresentingLocked tears the presentation down for everyone: the
// presenter's endpoint and every viewer's endpoint are released, the room
// returns to idle. Nobody is promoted in the presenter's place.
func (r *Room) stopPresentingLocked(ctx context.Context) {
	presenter := r.presenter
	if presenter == nil {
		return
	}

	for _, p := range r.participants {
		if p.presentation != "" {
			r.releasePresentationLocked(ctx, p)
		}
	}

	presenter.presenter = false
	r.presenter = nil
	metrics.ActivePresentations.Dec()
	r.log.Infow("presentation ended", "presenter", presenter.name)

	r.broadcastLocked(models.NewCancelPresentation(presenter.name))
}

func (r *Room) releasePresentationLocked(ctx context.Context, p *Participant) {
	r.candidates.untrack(p.presentation)
	r.releaseQuiet(ctx, p.presentation, "presentation endpoint")
	p.presentation = ""
}

// AddIceCandidate forwards a trickled candidate from the participant's
// client to the matching endpoint. Unknown participants and torn-down
// endpoints are silently tolerated.
func (r *Room) AddIceCandidate(ctx context.Context, participantID string, typ models.ChannelType, candidate webrtc.ICECandidateInit) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[participantID]
	if !ok {
		r.log.Debugw("candidate for unknown participant dropped", "participant", participantID)
		return
	}
	p.addIceCandidate(ctx, r.engine, r.log, typ, candidate)
}

// Broadcast sends the message to every participant. Individual send
// failures are logged and do not stop delivery to the rest.
func (r *Room) Broadcast(msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(msg)
}

func (r *Room) broadcastLocked(msg any) {
	for _, p := range r.participants {
		p.send(r.log, msg)
	}
}

func (r *Room) broadcastExceptLocked(participantID string, msg any) {
	for id, p := range r.participants {
		if id != participantID {
			p.send(r.log, msg)
		}
	}
}

// releaseQuiet releases an engine object best-effort. Failures are logged
// and never block progress; local state proceeds as if released.
func (r *Room) releaseQuiet(ctx context.Context, object engine.ObjectID, what string) {
	if object == "" {
		return
	}
	if err := r.engine.Release(ctx, object); err != nil {
		metrics.EngineFailures.Inc()
		r.log.Warnw("release failed", "object", what, "error", err)
	}
}
