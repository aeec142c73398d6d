// Package enginetest provides an in-memory engine.Client used by tests of
// the room and signaling layers.
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/roomhub/groupcall/internal/engine"
)

// Fake records every call made against it and answers deterministically.
// Failures can be injected per object type or per operation.
type Fake struct {
	mu     sync.Mutex
	nextID int

	created     map[engine.ObjectID]string // object -> type
	released    map[engine.ObjectID]int
	connections [][2]engine.ObjectID
	subscribed  map[engine.ObjectID]bool
	candidates  map[engine.ObjectID][]webrtc.ICECandidateInit

	// FailCreate, keyed by object type, makes the matching create call fail.
	FailCreate map[string]error
	// FailProcessOffer makes every ProcessOffer call fail.
	FailProcessOffer error
	// FailRelease makes every Release call fail (state is still recorded).
	FailRelease error

	events chan engine.CandidateEvent
}

var _ engine.Client = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		created:    make(map[engine.ObjectID]string),
		released:   make(map[engine.ObjectID]int),
		subscribed: make(map[engine.ObjectID]bool),
		candidates: make(map[engine.ObjectID][]webrtc.ICECandidateInit),
		FailCreate: make(map[string]error),
		events:     make(chan engine.CandidateEvent, 64),
	}
}

func (f *Fake) create(objectType string) (engine.ObjectID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailCreate[objectType]; err != nil {
		return "", &engine.Error{Op: "create " + objectType, Err: err}
	}
	f.nextID++
	id := engine.ObjectID(fmt.Sprintf("%s/%d", objectType, f.nextID))
	f.created[id] = objectType
	return id, nil
}

func (f *Fake) CreateMediaPipeline(ctx context.Context) (engine.ObjectID, error) {
	return f.create("MediaPipeline")
}

func (f *Fake) CreateComposite(ctx context.Context, pipeline engine.ObjectID) (engine.ObjectID, error) {
	return f.create("Composite")
}

func (f *Fake) CreateHubPort(ctx context.Context, hub engine.ObjectID) (engine.ObjectID, error) {
	return f.create("HubPort")
}

func (f *Fake) CreateWebRtcEndpoint(ctx context.Context, pipeline engine.ObjectID) (engine.ObjectID, error) {
	return f.create("WebRtcEndpoint")
}

func (f *Fake) CreateImageOverlay(ctx context.Context, pipeline engine.ObjectID, imageURI string) (engine.ObjectID, error) {
	return f.create("ImageOverlayFilter")
}

func (f *Fake) Connect(ctx context.Context, source, sink engine.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connections = append(f.connections, [2]engine.ObjectID{source, sink})
	return nil
}

func (f *Fake) ProcessOffer(ctx context.Context, endpoint engine.ObjectID, sdpOffer string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailProcessOffer != nil {
		return "", &engine.Error{Op: "processOffer", Err: f.FailProcessOffer}
	}
	return fmt.Sprintf("answer(%s,%s)", endpoint, sdpOffer), nil
}

func (f *Fake) GatherCandidates(ctx context.Context, endpoint engine.ObjectID) error {
	return nil
}

func (f *Fake) AddIceCandidate(ctx context.Context, endpoint engine.ObjectID, candidate webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates[endpoint] = append(f.candidates[endpoint], candidate)
	return nil
}

func (f *Fake) SubscribeIceCandidates(ctx context.Context, endpoint engine.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[endpoint] = true
	return nil
}

func (f *Fake) Release(ctx context.Context, object engine.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released[object]++
	if f.FailRelease != nil {
		return &engine.Error{Op: "release", Err: f.FailRelease}
	}
	return nil
}

func (f *Fake) Events() <-chan engine.CandidateEvent {
	return f.events
}

func (f *Fake) Close() error {
	close(f.events)
	return nil
}

// EmitCandidate injects a gathered-candidate event as the engine would.
func (f *Fake) EmitCandidate(endpoint engine.ObjectID, candidate webrtc.ICECandidateInit) {
	f.events <- engine.CandidateEvent{Endpoint: endpoint, Candidate: candidate}
}

// ObjectsOfType lists live (created and not released) objects of a type.
func (f *Fake) ObjectsOfType(objectType string) []engine.ObjectID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []engine.ObjectID
	for id, typ := range f.created {
		if typ == objectType && f.released[id] == 0 {
			out = append(out, id)
		}
	}
	return out
}

// LiveCount reports how many created objects have not been released.
func (f *Fake) LiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id := range f.created {
		if f.released[id] == 0 {
			n++
		}
	}
	return n
}

// Released reports whether the object was released at least once.
func (f *Fake) Released(object engine.ObjectID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released[object] > 0
}

// ReleaseCount reports how many times the object was released.
func (f *Fake) ReleaseCount(object engine.ObjectID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released[object]
}

// Connected reports whether source was ever connected to sink.
func (f *Fake) Connected(source, sink engine.ObjectID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.connections {
		if c[0] == source && c[1] == sink {
			return true
		}
	}
	return false
}

// Subscribed reports whether candidate events were subscribed for the endpoint.
func (f *Fake) Subscribed(endpoint engine.ObjectID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[endpoint]
}

// CandidatesFor returns the candidates pushed toward the endpoint.
func (f *Fake) CandidatesFor(endpoint engine.ObjectID) []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.candidates[endpoint]...)
}
