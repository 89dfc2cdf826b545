package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type hub interface {
	Serve(conn *websocket.Conn, labs []string)
}

// RealtimeHandler upgrades clients onto the booking event stream.
type RealtimeHandler struct {
	hub      hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewRealtimeHandler builds a realtime handler. checkOrigin may be nil to accept every origin.
func NewRealtimeHandler(h hub, checkOrigin func(r *http.Request) bool, logger *zap.Logger) *RealtimeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &RealtimeHandler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// Bookings godoc
// @Summary Stream booking change events
// @Description Upgrades to a websocket. labs is a comma separated filter; omit it to receive every lab. Clients may send {"action":"subscribe","lab_code":"..."} later.
// @Tags Realtime
// @Param labs query string false "Lab codes"
// @Param access_token query string false "Access token"
// @Router /ws/bookings [get]
func (h *RealtimeHandler) Bookings(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	h.hub.Serve(conn, splitLabs(c.Query("labs")))
}

func splitLabs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var labs []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			labs = append(labs, part)
		}
	}
	return labs
}
