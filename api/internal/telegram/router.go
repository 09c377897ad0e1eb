// Package telegram grades a photographed solution straight from a chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mistakepatch/api/internal/pipeline"
	"mistakepatch/api/internal/store"
)

const maxMessage = 3900

// Sender is the part of *tgbotapi.BotAPI the router talks to.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Processor interface {
	Process(ctx context.Context, job pipeline.Job) (*pipeline.State, error)
}

type Router struct {
	Bot       Sender
	Repo      store.Repo
	Proc      Processor
	UploadDir string
	Log       *slog.Logger

	// Download fetches a Telegram file URL; nil = plain HTTP GET.
	Download func(ctx context.Context, url string) ([]byte, error)
}

func (r *Router) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

func (r *Router) HandleCommand(msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start":
		r.send(cid, startText)
	case "health":
		r.send(cid, "✅ OK")
	case "problem":
		r.send(cid, "문제 사진에 /problem 캡션을 붙여 보내주세요.")
	default:
		r.send(cid, "알 수 없는 명령입니다. /start 를 입력해 보세요.")
	}
}

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	if msg.IsCommand() {
		r.HandleCommand(msg)
		return
	}
	if len(msg.Photo) > 0 {
		r.acceptPhoto(ctx, msg)
		return
	}
	if strings.TrimSpace(msg.Text) != "" {
		r.send(msg.Chat.ID, "풀이 사진을 보내주세요.")
	}
}

func (r *Router) send(chatID int64, text string) {
	if rs := []rune(text); len(rs) > maxMessage {
		text = string(rs[:maxMessage]) + "…"
	}
	if _, err := r.Bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.log().Warn("telegram send failed", "chat_id", chatID, "err", err)
	}
}

func (r *Router) sendError(chatID int64, err error) {
	r.log().Error("telegram grading failed", "chat_id", chatID, "err", err)
	r.send(chatID, fmt.Sprintf("채점에 실패했습니다: %v", err))
}
