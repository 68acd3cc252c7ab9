package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"chatrelay/internal/auth"
	"chatrelay/internal/service/relay"
	"chatrelay/internal/session"
	"chatrelay/internal/worker"
)

// ChatServer runs the chat protocol over one connection.
type ChatServer interface {
	Serve(ctx context.Context, conn relay.Conn, sessionID string) error
}

// ImageGenerator creates one image for a session.
type ImageGenerator interface {
	Generate(ctx context.Context, sess *session.Session, prompt string) (string, error)
}

// Handler wires HTTP routes to the session store and the relays.
type Handler struct {
	store    *session.Store
	cookies  *auth.Service
	chat     ChatServer
	images   ImageGenerator
	renderer *Renderer
	upgrader websocket.Upgrader
}

// NewHandler constructs a Handler instance.
func NewHandler(store *session.Store, cookies *auth.Service, chat ChatServer, images ImageGenerator, renderer *Renderer) *Handler {
	return &Handler{
		store:    store,
		cookies:  cookies,
		chat:     chat,
		images:   images,
		renderer: renderer,
		upgrader: newUpgrader(),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(h.renderer.Template())

	router.GET("/healthz", h.healthz)
	// the socket is addressed by path; the page embeds the cookie's id in it
	router.GET("/ws/:session_id", h.chatSocket)

	pages := router.Group("/")
	pages.Use(h.cookies.Middleware())
	pages.GET("", h.chatPage)
	pages.GET("image", h.imagePage)
	pages.POST("image", h.createImage)
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": h.store.Len()})
}

// currentSession resolves the cookie's session, writing an error response on failure.
func (h *Handler) currentSession(c *gin.Context) (*session.Session, bool) {
	id, ok := auth.SessionIDFromContext(c)
	if !ok {
		c.String(http.StatusInternalServerError, "session unavailable")
		return nil, false
	}
	sess, err := h.store.GetOrCreate(c.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrInvalidSessionID) {
			status = http.StatusBadRequest
		}
		c.String(status, err.Error())
		return nil, false
	}
	return sess, true
}

func (h *Handler) chatPage(c *gin.Context) {
	sess, ok := h.currentSession(c)
	if !ok {
		return
	}
	c.HTML(http.StatusOK, string(ViewChat), NewChatPage(sess.ID(), sess.DisplayEntries()))
}

func (h *Handler) chatSocket(c *gin.Context) {
	sessionID := c.Param("session_id")
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the error response
		log.Debug().Err(err).Str("session_id", sessionID).Msg("websocket upgrade failed")
		return
	}
	log.Info().Str("session_id", sessionID).Msg("chat connection opened")
	err = h.chat.Serve(c.Request.Context(), newWSConn(conn), sessionID)
	evt := log.Info()
	if err != nil {
		evt = log.Warn().Err(err)
	}
	evt.Str("session_id", sessionID).Msg("chat connection closed")
}

func (h *Handler) imagePage(c *gin.Context) {
	sess, ok := h.currentSession(c)
	if !ok {
		return
	}
	c.HTML(http.StatusOK, string(ViewImage), ImagePage{
		SessionID: sess.ID(),
		ImageLog:  sess.ImageLog(),
	})
}

func (h *Handler) createImage(c *gin.Context) {
	sess, ok := h.currentSession(c)
	if !ok {
		return
	}
	prompt := c.PostForm("user_input")
	url, err := h.images.Generate(c.Request.Context(), sess, prompt)
	if err != nil {
		status := imageErrorStatus(err)
		log.Warn().Err(err).Str("session_id", sess.ID()).Int("status", status).Msg("image generation failed")
		c.HTML(status, string(ViewImage), ImagePage{
			SessionID: sess.ID(),
			ImageLog:  sess.ImageLog(),
			Prompt:    prompt,
			Error:     err.Error(),
		})
		return
	}
	c.HTML(http.StatusOK, string(ViewImage), ImagePage{
		SessionID: sess.ID(),
		ImageLog:  sess.ImageLog(),
		LatestURL: url,
	})
}

func imageErrorStatus(err error) int {
	switch {
	case errors.Is(err, relay.ErrEmptyPrompt):
		return http.StatusBadRequest
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads the body
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
