package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const eventBufferSize = 256

// Kurento speaks the engine's JSON-RPC 2.0 control protocol over a
// persistent websocket: "create" builds media objects, "invoke" calls
// operations on them, "release" destroys them and "subscribe" turns on
// event notifications, which arrive as "onEvent" frames.
type Kurento struct {
	conn    *websocket.Conn
	log     *zap.SugaredLogger
	timeout time.Duration

	writeMu sync.Mutex

	mu        sync.Mutex
	nextID    uint64
	pending   map[uint64]chan rpcResult
	sessionID string

	events    chan CandidateEvent
	done      chan struct{}
	closeOnce sync.Once
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcResult struct {
	raw json.RawMessage
	err error
}

// Dial connects to the media engine control websocket and starts the
// read loop. The client is safe for concurrent use.
func Dial(ctx context.Context, uri string, timeout time.Duration, log *zap.SugaredLogger) (*Kurento, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, uri, nil)
	if err != nil {
		return nil, &Error{Op: "dial", Err: err}
	}

	k := &Kurento{
		conn:    conn,
		log:     log,
		timeout: timeout,
		pending: make(map[uint64]chan rpcResult),
		events:  make(chan CandidateEvent, eventBufferSize),
		done:    make(chan struct{}),
	}
	go k.readLoop()
	return k, nil
}

func (k *Kurento) Events() <-chan CandidateEvent {
	return k.events
}

func (k *Kurento) Close() error {
	k.closeOnce.Do(func() {
		close(k.done)
		k.conn.Close()
	})
	return nil
}

func (k *Kurento) CreateMediaPipeline(ctx context.Context) (ObjectID, error) {
	return k.create(ctx, "MediaPipeline", nil)
}

func (k *Kurento) CreateComposite(ctx context.Context, pipeline ObjectID) (ObjectID, error) {
	return k.create(ctx, "Composite", map[string]any{"mediaPipeline": pipeline})
}

func (k *Kurento) CreateHubPort(ctx context.Context, hub ObjectID) (ObjectID, error) {
	return k.create(ctx, "HubPort", map[string]any{"hub": hub})
}

func (k *Kurento) CreateWebRtcEndpoint(ctx context.Context, pipeline ObjectID) (ObjectID, error) {
	return k.create(ctx, "WebRtcEndpoint", map[string]any{"mediaPipeline": pipeline})
}

func (k *Kurento) CreateImageOverlay(ctx context.Context, pipeline ObjectID, imageURI string) (ObjectID, error) {
	overlay, err := k.create(ctx, "ImageOverlayFilter", map[string]any{"mediaPipeline": pipeline})
	if err != nil {
		return "", err
	}
	_, err = k.invoke(ctx, overlay, "addImage", map[string]any{
		"id":              "name",
		"uri":             imageURI,
		"offsetXPercent":  0.0,
		"offsetYPercent":  0.0,
		"widthPercent":    1.0,
		"heightPercent":   1.0,
		"keepAspectRatio": false,
		"center":          true,
	})
	if err != nil {
		return "", err
	}
	return overlay, nil
}

func (k *Kurento) Connect(ctx context.Context, source, sink ObjectID) error {
	_, err := k.invoke(ctx, source, "connect", map[string]any{"sink": sink})
	return err
}

func (k *Kurento) ProcessOffer(ctx context.Context, endpoint ObjectID, sdpOffer string) (string, error) {
	raw, err := k.invoke(ctx, endpoint, "processOffer", map[string]any{"offer": sdpOffer})
	if err != nil {
		return "", err
	}
	var answer string
	if err := json.Unmarshal(raw, &answer); err != nil {
		return "", &Error{Op: "processOffer", Err: err}
	}
	return answer, nil
}

func (k *Kurento) GatherCandidates(ctx context.Context, endpoint ObjectID) error {
	_, err := k.invoke(ctx, endpoint, "gatherCandidates", nil)
	return err
}

func (k *Kurento) AddIceCandidate(ctx context.Context, endpoint ObjectID, candidate webrtc.ICECandidateInit) error {
	_, err := k.invoke(ctx, endpoint, "addIceCandidate", map[string]any{"candidate": candidate})
	return err
}

func (k *Kurento) SubscribeIceCandidates(ctx context.Context, endpoint ObjectID) error {
	params := map[string]any{
		"object": endpoint,
		"type":   "OnIceCandidate",
	}
	k.withSession(params)
	_, err := k.call(ctx, "subscribe", params)
	if err != nil {
		return &Error{Op: "subscribe", Err: err}
	}
	return nil
}

func (k *Kurento) Release(ctx context.Context, object ObjectID) error {
	params := map[string]any{"object": object}
	k.withSession(params)
	if _, err := k.call(ctx, "release", params); err != nil {
		return &Error{Op: "release", Err: err}
	}
	return nil
}

func (k *Kurento) create(ctx context.Context, objectType string, ctorParams map[string]any) (ObjectID, error) {
	params := map[string]any{"type": objectType}
	if ctorParams != nil {
		params["constructorParams"] = ctorParams
	}
	k.withSession(params)

	raw, err := k.call(ctx, "create", params)
	if err != nil {
		return "", &Error{Op: "create " + objectType, Err: err}
	}

	var result struct {
		Value     ObjectID `json:"value"`
		SessionID string   `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", &Error{Op: "create " + objectType, Err: err}
	}
	k.storeSession(result.SessionID)
	return result.Value, nil
}

func (k *Kurento) invoke(ctx context.Context, object ObjectID, operation string, opParams map[string]any) (json.RawMessage, error) {
	params := map[string]any{
		"object":    object,
		"operation": operation,
	}
	if opParams != nil {
		params["operationParams"] = opParams
	}
	k.withSession(params)

	raw, err := k.call(ctx, "invoke", params)
	if err != nil {
		return nil, &Error{Op: operation, Err: err}
	}

	var result struct {
		Value     json.RawMessage `json:"value"`
		SessionID string          `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &Error{Op: operation, Err: err}
	}
	k.storeSession(result.SessionID)
	return result.Value, nil
}

func (k *Kurento) withSession(params map[string]any) {
	k.mu.Lock()
	if k.sessionID != "" {
		params["sessionId"] = k.sessionID
	}
	k.mu.Unlock()
}

func (k *Kurento) storeSession(id string) {
	if id == "" {
		return
	}
	k.mu.Lock()
	k.sessionID = id
	k.mu.Unlock()
}

func (k *Kurento) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	k.mu.Lock()
	k.nextID++
	id := k.nextID
	ch := make(chan rpcResult, 1)
	k.pending[id] = ch
	k.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	k.writeMu.Lock()
	err := k.conn.WriteJSON(req)
	k.writeMu.Unlock()
	if err != nil {
		k.dropPending(id)
		return nil, err
	}

	timer := time.NewTimer(k.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.raw, res.err
	case <-ctx.Done():
		k.dropPending(id)
		return nil, ctx.Err()
	case <-timer.C:
		k.dropPending(id)
		return nil, fmt.Errorf("%s: timed out after %s", method, k.timeout)
	case <-k.done:
		k.dropPending(id)
		return nil, fmt.Errorf("%s: client closed", method)
	}
}

func (k *Kurento) dropPending(id uint64) {
	k.mu.Lock()
	delete(k.pending, id)
	k.mu.Unlock()
}

func (k *Kurento) readLoop() {
	defer func() {
		k.mu.Lock()
		for id, ch := range k.pending {
			ch <- rpcResult{err: fmt.Errorf("connection closed")}
			delete(k.pending, id)
		}
		k.mu.Unlock()
		close(k.events)
	}()

	for {
		_, data, err := k.conn.ReadMessage()
		if err != nil {
			select {
			case <-k.done:
			default:
				k.log.Warnw("engine connection lost", "error", err)
			}
			return
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			k.log.Warnw("engine sent undecodable frame", "error", err)
			continue
		}

		if msg.Method == "onEvent" {
			k.handleEvent(msg.Params)
			continue
		}
		if msg.ID == nil {
			continue
		}

		k.mu.Lock()
		ch, ok := k.pending[*msg.ID]
		delete(k.pending, *msg.ID)
		k.mu.Unlock()
		if !ok {
			// late reply for a timed-out call
			continue
		}

		if msg.Error != nil {
			ch <- rpcResult{err: msg.Error}
		} else {
			ch <- rpcResult{raw: msg.Result}
		}
	}
}

func (k *Kurento) handleEvent(params json.RawMessage) {
	var ev struct {
		Value struct {
			Type   string   `json:"type"`
			Object ObjectID `json:"object"`
			Data   struct {
				Source    ObjectID                 `json:"source"`
				Candidate *webrtc.ICECandidateInit `json:"candidate"`
			} `json:"data"`
		} `json:"value"`
	}
	if err := json.Unmarshal(params, &ev); err != nil {
		k.log.Warnw("engine sent undecodable event", "error", err)
		return
	}
	if ev.Value.Type != "OnIceCandidate" || ev.Value.Data.Candidate == nil {
		return
	}

	endpoint := ev.Value.Object
	if endpoint == "" {
		endpoint = ev.Value.Data.Source
	}

	select {
	case k.events <- CandidateEvent{Endpoint: endpoint, Candidate: *ev.Value.Data.Candidate}:
	default:
		k.log.Warnw("candidate event buffer full, dropping", "endpoint", endpoint)
	}
}
