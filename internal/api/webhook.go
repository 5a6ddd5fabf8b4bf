package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/personabot/pbot/internal/telegram"
	"github.com/personabot/pbot/internal/worker"
)

const maxUpdateBodySize = 1 << 20 // 1MB

// MsgUnauthorized is sent to senders outside the allow-list.
const MsgUnauthorized = "You are not authorized to use this bot."

// QuoteFetcher returns one quote.
type QuoteFetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// BotDeps holds the dependencies of the public bot endpoints.
type BotDeps struct {
	Jobs   worker.Enqueuer
	Sender worker.Sender
	Quotes QuoteFetcher
	// Whitelist holds the usernames allowed to talk to the bot.
	Whitelist     []string
	WebhookSecret string
	// QuoteChatID receives the daily quote.
	QuoteChatID string
}

// NewBotHandler returns the router for the Telegram webhook, the daily quote
// trigger and the health check.
func NewBotHandler(deps BotDeps) http.Handler {
	allowed := make(map[string]bool, len(deps.Whitelist))
	for _, u := range deps.Whitelist {
		if u != "" {
			allowed[u] = true
		}
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.With(webhookSecret(deps.WebhookSecret)).Post("/webhook", handleWebhook(deps, allowed))
		r.Get("/sendquote", handleSendQuote(deps))
	})
	return r
}

// handleWebhook acknowledges an update immediately and queues the reply.
// Senders outside the allow-list are turned away before anything is queued.
func handleWebhook(deps BotDeps, allowed map[string]bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpdateBodySize)
		defer r.Body.Close()

		var upd telegram.Update
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid update: %v", err)
			return
		}
		msg := upd.Message
		if msg == nil || msg.Text == "" {
			writeJSON(w, http.StatusOK, map[string]string{"message": "Update ignored"})
			return
		}

		chatID := strconv.FormatInt(msg.Chat.ID, 10)
		username := msg.Sender()
		if !allowed[username] {
			slog.Warn("rejected message from unauthorized user", "username", username, "chat_id", chatID)
			if err := deps.Sender.SendMessage(r.Context(), chatID, MsgUnauthorized); err != nil {
				slog.Error("sending unauthorized notice", "chat_id", chatID, "error", err)
			}
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "User is not authorized to use this bot."})
			return
		}

		id, err := worker.Enqueue(r.Context(), deps.Jobs, worker.TypeChatMessage, worker.ChatPayload{
			ChatID:   chatID,
			Username: username,
			Text:     msg.Text,
		})
		if err != nil {
			slog.Error("queueing chat message", "chat_id", chatID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue message")
			return
		}
		slog.Debug("chat message queued", "job_id", id, "username", username)
		writeJSON(w, http.StatusOK, map[string]string{"message": "Message received", "job_id": id})
	}
}

func handleSendQuote(deps BotDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := deps.Quotes.Fetch(r.Context())
		if err != nil {
			slog.Error("fetching quote", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch the quote"})
			return
		}
		if err := deps.Sender.SendMessage(r.Context(), deps.QuoteChatID, q); err != nil {
			slog.Error("sending quote", "chat_id", deps.QuoteChatID, "error", err)
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Quote sent successfully"})
	}
}
