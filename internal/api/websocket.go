package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"botcore/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams the caller's bot activity log. Auth rides on a token
// query parameter because browsers cannot set headers on ws handshakes.
func (s *Server) websocket(c *gin.Context) {
	token := c.Query("token")
	userID, err := parseToken(token, s.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":  "INVALID_TOKEN",
			"error": "invalid or expired token",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	stream, unsub := s.Bus.Subscribe(events.TopicBotLog, 100)
	defer unsub()

	for msg := range stream {
		entry, ok := msg.(events.BotLogEntry)
		if !ok || entry.UserID != userID {
			continue
		}
		if err := conn.WriteJSON(entry); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}
