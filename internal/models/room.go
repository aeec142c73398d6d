package models

import "time"

// RoomMetadata is the provisioning record for a room, kept in Redis and
// served by the REST API. Live signaling state is held in-process.
type RoomMetadata struct {
	ID               string    `json:"id"`
	Code             string    `json:"code"` // short, shareable room code
	CreatorID        string    `json:"creatorId"`
	CreatedAt        time.Time `json:"createdAt"`
	MaxParticipants  int       `json:"maxParticipants"`
	ParticipantCount int       `json:"participantCount"`
}

type CreateRoomRequest struct {
	MaxParticipants int `json:"maxParticipants" binding:"min=0,max=32"`
}

type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}
