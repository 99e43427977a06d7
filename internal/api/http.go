package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/roomcode"
)

const qrSize = 320

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// watchSessionWS streams session snapshots as JSON over a websocket, for browser players.
func (a *API) watchSessionWS(c *gin.Context) {
	sessionID := c.Param("id")
	playerID := c.Query("player")
	token := c.Query("token")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.ErrorContext(c, "api: websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The client only ever closes; a failed read means it is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = a.watch(ctx, sessionID, playerID, token, func(ss *domain.GameSession) error {
		return conn.WriteJSON(toSession(ss))
	})
	if err != nil {
		e := errors.Convert(err)
		_ = conn.WriteJSON(gin.H{"error": e})
		slog.InfoContext(ctx, "api: websocket stream ended",
			"session_id", sessionID,
			"player_id", playerID,
			"error", err,
		)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// roomQR renders a PNG QR code of the join link of a room.
func (a *API) roomQR(c *gin.Context) {
	code, err := roomcode.Parse(c.Param("code"))
	if err != nil {
		e := errors.Convert(err)
		c.JSON(e.HTTPStatusCode(), gin.H{"error": e})
		return
	}

	png, err := qrcode.Encode(a.joinURL(c.Request, code), qrcode.Medium, qrSize)
	if err != nil {
		c.String(http.StatusInternalServerError, "qr generation failed")
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

func (a *API) joinURL(r *http.Request, code string) string {
	base := a.baseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}

	return fmt.Sprintf("%s/join?code=%s", strings.TrimSuffix(base, "/"), url.QueryEscape(code))
}
