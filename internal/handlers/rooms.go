package handlers

import (
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roomhub/groupcall/internal/models"
	"github.com/roomhub/groupcall/internal/redis"
)

const (
	roomCodeLength         = 6
	defaultMaxParticipants = 8
	codeChars              = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no ambiguous chars
)

// RoomAPI is the provisioning surface: creating shareable rooms ahead of
// time, looking them up by code, deleting them. Live signaling state is
// not touched here.
type RoomAPI struct {
	store *redis.Store
	log   *zap.SugaredLogger
}

func NewRoomAPI(store *redis.Store, log *zap.SugaredLogger) *RoomAPI {
	return &RoomAPI{store: store, log: log}
}

// Create provisions a room (requires authentication).
func (a *RoomAPI) Create(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MaxParticipants == 0 {
		req.MaxParticipants = defaultMaxParticipants
	}

	room := models.RoomMetadata{
		ID:              uuid.New().String(),
		Code:            generateRoomCode(),
		CreatorID:       userID.(string),
		CreatedAt:       time.Now(),
		MaxParticipants: req.MaxParticipants,
	}

	if err := a.store.CreateRoom(c.Request.Context(), room); err != nil {
		a.log.Errorw("room provisioning failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	a.log.Infow("room provisioned", "room", room.ID, "code", room.Code, "creator", userID)
	c.JSON(http.StatusCreated, models.CreateRoomResponse{RoomID: room.ID, Code: room.Code})
}

// Get returns room metadata by id or code (public).
func (a *RoomAPI) Get(c *gin.Context) {
	room, err := a.store.GetRoom(c.Request.Context(), c.Param("roomId"))
	if errors.Is(err, redis.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	} else if err != nil {
		a.log.Errorw("room lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}
	c.JSON(http.StatusOK, room)
}

// Delete removes a provisioned room (creator only).
func (a *RoomAPI) Delete(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	room, err := a.store.GetRoom(c.Request.Context(), c.Param("roomId"))
	if errors.Is(err, redis.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}

	if room.CreatorID != userID.(string) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
		return
	}

	if err := a.store.DeleteRoom(c.Request.Context(), *room); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
		return
	}

	a.log.Infow("room deleted", "room", room.ID, "by", userID)
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

func generateRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}
