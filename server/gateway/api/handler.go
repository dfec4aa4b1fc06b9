package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	commonauth "chat_server/server/common/auth"
	commonlog "chat_server/server/common/log"
	"chat_server/server/common/middleware"
	"chat_server/server/common/transport/httpresp"
	"chat_server/server/gateway/domain"
	gatewayservice "chat_server/server/gateway/service"
	mediaservice "chat_server/server/media/service"
)

const (
	readDeadline = 90 * time.Second
	sendTimeout  = 15 * time.Second
	writeTimeout = 5 * time.Second
)

type userStore interface {
	CreateUser(ctx context.Context, user domain.User, password string) (string, error)
	Authenticate(ctx context.Context, email, password string) (domain.User, error)
	GetByID(ctx context.Context, userID string) (domain.User, error)
}

type Handler struct {
	sessions   *gatewayservice.SessionManager
	delivery   *gatewayservice.DeliveryService
	relay      *gatewayservice.SignalRelay
	rooms      *gatewayservice.RoomIndex
	users      userStore
	files      *mediaservice.FileService
	auth       *commonauth.Service
	sendBuffer int
}

func NewHandler(sessions *gatewayservice.SessionManager, delivery *gatewayservice.DeliveryService, relay *gatewayservice.SignalRelay, rooms *gatewayservice.RoomIndex, users userStore, files *mediaservice.FileService, auth *commonauth.Service, sendBuffer int) *Handler {
	return &Handler{sessions: sessions, delivery: delivery, relay: relay, rooms: rooms, users: users, files: files, auth: auth, sendBuffer: sendBuffer}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, NewHealthResponse("ok"))
	})
	r.GET("/ws/chat", h.handleChatWS)
	r.POST("/api/v1/auth/register", h.register)
	r.POST("/api/v1/auth/login", h.login)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(h.auth))
	{
		api.POST("/files/presign-upload", h.presignUpload)
		api.POST("/files", h.registerFile)
		api.GET("/files/:id/download-url", h.downloadURL)

		admin := api.Group("")
		admin.Use(middleware.RequireRoles(string(domain.UserRoleAdmin)))
		admin.POST("/chats/:id/resubscribe", h.resubscribeChat)
	}
}

func (h *Handler) register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
		Name     string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	id, err := h.users.CreateUser(c.Request.Context(), domain.User{Email: req.Email, Name: req.Name}, req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, NewIDResponse(id))
}

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(httpresp.ErrInvalidCredentials))
		return
	}
	token, err := h.auth.GenerateToken(user.ID, user.Name, string(user.Role))
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, NewTokenResponse(token, user.ID, user.Name, string(user.Role)))
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (h *Handler) handleChatWS(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		header := c.GetHeader("Authorization")
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if _, _, _, err := h.auth.ParseAuthContext(token); err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	client := gatewayservice.NewWSClient("", conn, h.sendBuffer)
	sess, err := h.sessions.Connect(c.Request.Context(), client, token)
	if err != nil {
		commonlog.Warnf("event=chat_ws action=connect status=rejected error=%v", err)
		// written on the socket directly: the client's pump is about
		// to be torn down and may not drain a queued frame
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = conn.WriteJSON(gatewayservice.NewErrorEvent(errorMessageFor(err)))
		client.Close()
		return
	}
	client.UserID = sess.UserID
	defer h.sessions.Disconnect(sess)

	// display name comes from the user record, not the token claim
	if user, err := h.users.GetByID(c.Request.Context(), sess.UserID); err == nil {
		sess.Name = user.Name
	} else {
		commonlog.Debugf("event=chat_ws action=resolve_user status=fallback user_id=%s error=%v", sess.UserID, err)
	}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return
		}
		var event gatewayservice.InboundEvent
		if err := conn.ReadJSON(&event); err != nil {
			return
		}
		h.dispatch(c.Request.Context(), sess, event)
	}
}

// dispatch handles one inbound frame. Every frame yields exactly one
// acknowledgment or broadcast on success, or one error event back to
// the sender; failures never escape the frame.
func (h *Handler) dispatch(ctx context.Context, sess *gatewayservice.Session, event gatewayservice.InboundEvent) {
	switch event.Type {
	case gatewayservice.EventSendMessage:
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		created, err := h.delivery.Send(sendCtx, sess.UserID, sess.Name, gatewayservice.SendInput{
			ChatID:      event.ChatID,
			Body:        event.Text,
			Kind:        domain.MessageKind(event.Kind),
			FileID:      event.FileID,
			ClientMsgID: event.ClientMsgID,
		})
		if err != nil {
			h.sendError(sess, event.Type, err)
			return
		}
		sess.Peer.Send(gatewayservice.MessageSentEvent{Type: "message_sent", Message: created})

	case gatewayservice.EventMarkRead:
		changes, err := h.delivery.MarkRead(ctx, sess.UserID, event.ChatID)
		if err != nil {
			h.sendError(sess, event.Type, err)
			return
		}
		sess.Peer.Send(gatewayservice.NewReadAckEvent(event.ChatID, len(changes)))

	case gatewayservice.EventTypingStart:
		if err := h.relay.Typing(event.ChatID, sess.UserID, true); err != nil {
			h.sendError(sess, event.Type, err)
		}

	case gatewayservice.EventTypingStop:
		if err := h.relay.Typing(event.ChatID, sess.UserID, false); err != nil {
			h.sendError(sess, event.Type, err)
		}

	case gatewayservice.EventStartCall:
		if err := h.relay.StartCall(event.ChatID, sess.UserID, event.CallType); err != nil {
			h.sendError(sess, event.Type, err)
		}

	case gatewayservice.EventAcceptCall:
		if err := h.relay.AcceptCall(event.ChatID, sess.UserID); err != nil {
			h.sendError(sess, event.Type, err)
		}

	case gatewayservice.EventDeclineCall:
		if err := h.relay.DeclineCall(event.ChatID, sess.UserID); err != nil {
			h.sendError(sess, event.Type, err)
		}

	case gatewayservice.EventEndCall:
		if err := h.relay.EndCall(event.ChatID, sess.UserID); err != nil {
			h.sendError(sess, event.Type, err)
		}

	case gatewayservice.EventPing:
		// keepalive only; the read deadline reset is the effect

	default:
		sess.Peer.Send(gatewayservice.NewErrorEvent("unknown event type"))
	}
}

func (h *Handler) sendError(sess *gatewayservice.Session, eventType string, err error) {
	// out-of-order call signals are dropped without notifying anyone
	if errors.Is(err, gatewayservice.ErrInvalidCallState) {
		commonlog.Warnf("event=chat_ws action=dispatch status=dropped type=%s user_id=%s error=%v", eventType, sess.UserID, err)
		return
	}
	commonlog.Warnf("event=chat_ws action=dispatch status=failed type=%s user_id=%s error=%v", eventType, sess.UserID, err)
	sess.Peer.Send(gatewayservice.NewErrorEvent(errorMessageFor(err)))
}

func errorMessageFor(err error) string {
	switch {
	case errors.Is(err, gatewayservice.ErrInvalidCredentials):
		return httpresp.ErrInvalidCredentials
	case errors.Is(err, gatewayservice.ErrAccessDenied),
		errors.Is(err, gatewayservice.ErrEmptyBody),
		errors.Is(err, gatewayservice.ErrInvalidKind),
		errors.Is(err, gatewayservice.ErrCallAlreadyActive),
		errors.Is(err, gatewayservice.ErrDuplicateMessage),
		errors.Is(err, gatewayservice.ErrLoadTimeout),
		errors.Is(err, gatewayservice.ErrDeliveryTimeout):
		return err.Error()
	default:
		return "internal error"
	}
}

func (h *Handler) presignUpload(c *gin.Context) {
	var req struct {
		ObjectKey string `json:"object_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	url, err := h.files.PresignUpload(c.Request.Context(), req.ObjectKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, NewURLResponse(url))
}

func (h *Handler) registerFile(c *gin.Context) {
	userID, err := actorFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	var req struct {
		FileName    string `json:"file_name" binding:"required"`
		ObjectKey   string `json:"object_key" binding:"required"`
		ContentType string `json:"content_type"`
		SizeBytes   int64  `json:"size_bytes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	item, err := h.files.RegisterAndMaybeThumbnail(c.Request.Context(), domain.FileObject{
		OwnerID:     userID,
		FileName:    req.FileName,
		ObjectKey:   req.ObjectKey,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) downloadURL(c *gin.Context) {
	url, err := h.files.PresignDownload(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, NewURLResponse(url))
}

// resubscribeChat is the hook the storage side calls after persisted
// membership changes, so live routing picks up the new member set.
func (h *Handler) resubscribeChat(c *gin.Context) {
	chatID := strings.TrimSpace(c.Param("id"))
	if err := h.rooms.Resubscribe(c.Request.Context(), chatID); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, NewOKResponse())
}

var errNoActor = errors.New("missing authenticated user")

func actorFromContext(c *gin.Context) (string, error) {
	rawUserID, ok := c.Get("auth_user_id")
	if !ok {
		return "", errNoActor
	}
	userID, ok := rawUserID.(string)
	if !ok || strings.TrimSpace(userID) == "" {
		return "", errNoActor
	}
	return userID, nil
}
