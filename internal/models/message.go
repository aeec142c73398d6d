package models

import "github.com/pion/webrtc/v4"

// ChannelType selects which media path a signaling message refers to:
// the shared mixer feed or the isolated screen-share feed.
type ChannelType string

const (
	ChannelMixed        ChannelType = "mixed"
	ChannelPresentation ChannelType = "presentation"
)

func (t ChannelType) Valid() bool {
	return t == ChannelMixed || t == ChannelPresentation
}

// Message kinds carried in the "id" field of every signaling frame.
const (
	// client -> server
	MsgJoinRoom         = "joinRoom"
	MsgReceiveVideoFrom = "receiveVideoFrom"
	MsgOnIceCandidate   = "onIceCandidate"
	MsgStopPresenting   = "stopPresenting"
	MsgLeaveRoom        = "leaveRoom"

	// server -> client
	MsgExistingParticipants = "existingParticipants"
	MsgNewParticipant       = "newParticipantArrived"
	MsgParticipantLeft      = "participantLeft"
	MsgReceiveVideoAnswer   = "receiveVideoAnswer"
	MsgIceCandidate         = "iceCandidate"
	MsgPresenterReady       = "presenterReady"
	MsgCancelPresentation   = "cancelPresentation"
	MsgExistingName         = "existingName"
	MsgError                = "error"
)

// Envelope is the superset of fields a client may send. The "id" field
// discriminates the message kind.
type Envelope struct {
	ID        string                   `json:"id"`
	Name      string                   `json:"name,omitempty"`
	Room      string                   `json:"room,omitempty"`
	Sender    string                   `json:"sender,omitempty"`
	SdpOffer  string                   `json:"sdpOffer,omitempty"`
	Type      ChannelType              `json:"type,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

type Roster struct {
	ID        string   `json:"id"`
	Data      []string `json:"data"`
	Presenter string   `json:"presenter,omitempty"`
}

type ParticipantEvent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type VideoAnswer struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	SdpAnswer string      `json:"sdpAnswer"`
	Type      ChannelType `json:"type"`
}

type IceCandidate struct {
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	Type      ChannelType             `json:"type"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type PresenterEvent struct {
	ID        string `json:"id"`
	Presenter string `json:"presenter"`
}

type ErrorMessage struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func NewRoster(names []string, presenter string) Roster {
	return Roster{ID: MsgExistingParticipants, Data: names, Presenter: presenter}
}

func NewParticipantArrived(name string) ParticipantEvent {
	return ParticipantEvent{ID: MsgNewParticipant, Name: name}
}

func NewParticipantLeft(name string) ParticipantEvent {
	return ParticipantEvent{ID: MsgParticipantLeft, Name: name}
}

func NewVideoAnswer(name string, typ ChannelType, sdpAnswer string) VideoAnswer {
	return VideoAnswer{ID: MsgReceiveVideoAnswer, Name: name, SdpAnswer: sdpAnswer, Type: typ}
}

func NewIceCandidate(name string, typ ChannelType, candidate webrtc.ICECandidateInit) IceCandidate {
	return IceCandidate{ID: MsgIceCandidate, Name: name, Type: typ, Candidate: candidate}
}

func NewPresenterReady(presenter string) PresenterEvent {
	return PresenterEvent{ID: MsgPresenterReady, Presenter: presenter}
}

func NewCancelPresentation(presenter string) PresenterEvent {
	return PresenterEvent{ID: MsgCancelPresentation, Presenter: presenter}
}

func NewExistingName() ErrorMessage {
	return ErrorMessage{ID: MsgExistingName, Message: "name already taken in this room"}
}

func NewError(message string) ErrorMessage {
	return ErrorMessage{ID: MsgError, Message: message}
}
