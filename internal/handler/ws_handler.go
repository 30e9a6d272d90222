/*
Package handler provides the HTTP handlers and routing setup for the
PairDesk signaling server.

This file contains HandleWebSocket, which rate limits connection attempts,
validates the identity claims carried in the handshake query, upgrades the
connection, registers it, and starts the client pumps. Missing identity
claims are fatal to the connection: it is rejected before any room
interaction.
*/
package handler

import (
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"pairdesk/internal/app/signaling"
	"pairdesk/internal/pkg/errs"
	"pairdesk/internal/pkg/limiter"
	"pairdesk/internal/pkg/logx"
	"pairdesk/internal/pkg/randx"
	"pairdesk/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc that processes WebSocket
// connection requests. Identity travels in the query string: uid
// (participant id), nn (display name), and room (room id).
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if ip == "" {
			ip = "unknown_ip"
		}

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		query := r.URL.Query()
		identity := signaling.Identity{
			ParticipantID: query.Get("uid"),
			DisplayName:   query.Get("nn"),
			RoomID:        query.Get("room"),
		}

		if identity.ParticipantID == "" || identity.DisplayName == "" || identity.RoomID == "" {
			logx.Warn("WebSocket request rejected: Missing identity claims",
				"participant_id", identity.ParticipantID,
				"room_id", identity.RoomID)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidIdentity))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		connID := randx.ConnectionID()

		if registerErr := deps.Coordinator.Registry().Register(connID, identity); registerErr != nil {
			logx.Error(registerErr, "Failed to register connection identity", "conn_id", connID)
			conn.Close()
			return
		}

		client := signaling.NewClient(connID, conn, identity, deps.Coordinator)

		go client.WritePump()

		logx.Info("WebSocket connection established",
			"conn_id", connID,
			"participant_id", identity.ParticipantID,
			"room_id", identity.RoomID)

		client.ReadPump()
	}
}
