package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"

	"github.com/mymmrac/telego"

	"lunarelay/pkg/channel"
	"lunarelay/pkg/channel/telegram"
	"lunarelay/pkg/metrics"
)

const (
	secretTokenHeader   = "X-Telegram-Bot-Api-Secret-Token"
	maxWebhookBodyBytes = 1 << 20
	webhookAck          = "OK"
)

// handleWebhook dispatches one Telegram update synchronously. Every outcome is
// answered with 200 OK so the platform never redelivers an update.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	log := s.log.With("request_id", RequestIDFromContext(r.Context()))
	outcome := metrics.DeliveryIgnored

	defer func() {
		if recovered := recover(); recovered != nil {
			outcome = metrics.DeliveryFault
			log.Error("Recovered panic in webhook handler", "panic", fmt.Sprint(recovered), "stack", string(debug.Stack()))
		}
		s.metrics.ObserveDelivery(outcome)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, webhookAck)
	}()

	if s.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(secretTokenHeader)), []byte(s.secret)) != 1 {
		outcome = metrics.DeliveryUnauthorized
		log.Warn("Dropping webhook delivery with invalid secret token", "remote_addr", r.RemoteAddr)
		return
	}

	var update telego.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)).Decode(&update); err != nil {
		outcome = metrics.DeliveryMalformed
		log.Debug("Dropping malformed webhook payload", "error", err)
		return
	}

	inbound, ok := telegram.InboundFromUpdate(update)
	if !ok {
		log.Debug("Ignoring webhook update without text message", "update_id", update.UpdateID)
		return
	}

	if !s.allowFrom.Allows(inbound.SenderID) {
		log.Debug("Ignoring message from unauthorized sender", "sender_id", inbound.SenderID)
		return
	}

	log.Info("Received message", "chat_id", inbound.ChatID, "sender_id", inbound.SenderID, "content", channel.PreviewText(inbound.Text))

	if err := s.bus.Dispatch(r.Context(), inbound, s.handle); err != nil {
		outcome = metrics.DeliveryFault
		log.Error("Message handling failed", "chat_id", inbound.ChatID, "error", err)
		return
	}
	outcome = metrics.DeliveryDispatched
}
