package engine

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ObjectID identifies a media object (pipeline, hub, endpoint, filter)
// inside the external media engine.
type ObjectID string

// CandidateEvent is a connectivity candidate gathered by the engine for
// one of our endpoints.
type CandidateEvent struct {
	Endpoint  ObjectID
	Candidate webrtc.ICECandidateInit
}

// Client is the control surface of the external media engine. Every call
// may fail independently; callers decide whether a failure aborts the
// operation or is merely logged.
type Client interface {
	CreateMediaPipeline(ctx context.Context) (ObjectID, error)
	CreateComposite(ctx context.Context, pipeline ObjectID) (ObjectID, error)
	CreateHubPort(ctx context.Context, hub ObjectID) (ObjectID, error)
	CreateWebRtcEndpoint(ctx context.Context, pipeline ObjectID) (ObjectID, error)

	// CreateImageOverlay builds an overlay filter that stamps the image at
	// imageURI over the full frame.
	CreateImageOverlay(ctx context.Context, pipeline ObjectID, imageURI string) (ObjectID, error)

	Connect(ctx context.Context, source, sink ObjectID) error
	ProcessOffer(ctx context.Context, endpoint ObjectID, sdpOffer string) (string, error)
	GatherCandidates(ctx context.Context, endpoint ObjectID) error
	AddIceCandidate(ctx context.Context, endpoint ObjectID, candidate webrtc.ICECandidateInit) error

	// SubscribeIceCandidates makes the engine report gathered candidates
	// for the endpoint on the Events stream.
	SubscribeIceCandidates(ctx context.Context, endpoint ObjectID) error

	Release(ctx context.Context, object ObjectID) error

	// Events delivers candidate events for all subscribed endpoints. The
	// channel is closed when the client shuts down.
	Events() <-chan CandidateEvent

	Close() error
}

// Error wraps a failed engine call with the operation that issued it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
