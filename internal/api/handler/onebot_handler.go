package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apimw "github.com/notifyhub/stargazer-relay/internal/api/middleware"
	"github.com/notifyhub/stargazer-relay/internal/domain"
	"github.com/notifyhub/stargazer-relay/internal/service"
)

const signatureHeader = "X-Signature"

// CommandHandler runs chat commands and approves requests.
// *service.AccountService satisfies it.
type CommandHandler interface {
	HandleMessage(ctx context.Context, msg service.InboundMessage) bool
	HandleRequest(ctx context.Context, req service.InboundRequest) error
}

// OneBotHandler receives events reported by the OneBot HTTP adapter.
type OneBotHandler struct {
	commands CommandHandler
	secret   []byte
	logger   *zap.Logger
}

// NewOneBotHandler builds the event endpoint. An empty secret disables
// signature verification.
func NewOneBotHandler(commands CommandHandler, secret string, logger *zap.Logger) *OneBotHandler {
	return &OneBotHandler{commands: commands, secret: []byte(secret), logger: logger}
}

// oneBotEvent covers the message and request fields of an OneBot v11 event.
type oneBotEvent struct {
	PostType    string `json:"post_type"`
	MessageType string `json:"message_type"`
	RequestType string `json:"request_type"`
	SubType     string `json:"sub_type"`
	UserID      int64  `json:"user_id"`
	GroupID     int64  `json:"group_id"`
	DiscussID   int64  `json:"discuss_id"`
	RawMessage  string `json:"raw_message"`
	Flag        string `json:"flag"`
	Sender      struct {
		Role string `json:"role"`
	} `json:"sender"`
}

// Events handles POST /onebot/events
//
// @Summary  OneBot v11 event report
// @Tags     onebot
// @Accept   json
// @Param    X-Signature  header  string  false  "sha1=<hmac of body>"
// @Success  204
// @Failure  400  {object}  map[string]string
// @Failure  401  {object}  map[string]string
// @Router   /onebot/events [post]
func (h *OneBotHandler) Events(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !h.verify(r.Header.Get(signatureHeader), body) {
		respondError(w, http.StatusUnauthorized, "signature mismatch")
		return
	}

	var ev oneBotEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	log := h.logger.With(
		zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
		zap.String("post_type", ev.PostType),
	)

	switch ev.PostType {
	case "message":
		msg, ok := inboundMessage(ev)
		if !ok {
			log.Debug("ignoring message", zap.String("message_type", ev.MessageType))
			break
		}
		if h.commands.HandleMessage(r.Context(), msg) {
			log.Debug("command processed", zap.Int64("user_id", msg.UserID))
		}
	case "request":
		req := service.InboundRequest{
			Type:    ev.RequestType,
			SubType: ev.SubType,
			Flag:    ev.Flag,
			UserID:  ev.UserID,
			GroupID: ev.GroupID,
		}
		if err := h.commands.HandleRequest(r.Context(), req); err != nil {
			log.Warn("request handling failed", zap.String("request_type", ev.RequestType), zap.Error(err))
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *OneBotHandler) verify(header string, body []byte) bool {
	if len(h.secret) == 0 {
		return true
	}
	got, ok := strings.CutPrefix(header, "sha1=")
	if !ok {
		return false
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, h.secret)
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

func inboundMessage(ev oneBotEvent) (service.InboundMessage, bool) {
	scope := domain.Scope(ev.MessageType)
	if !scope.IsValid() {
		return service.InboundMessage{}, false
	}
	return service.InboundMessage{
		Scope:     scope,
		UserID:    ev.UserID,
		GroupID:   ev.GroupID,
		DiscussID: ev.DiscussID,
		Role:      ev.Sender.Role,
		Text:      ev.RawMessage,
	}, true
}
