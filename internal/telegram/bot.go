// Package telegram runs the optional query bot: incoming text messages
// are searched against the event store and answered with the matching
// schedule lines.
package telegram

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"lockstep/internal/record"
	"lockstep/internal/search"
)

const searchTopK = 5

const helpText = "Gửi nội dung cần tìm (ví dụ: \"họp giao ban thứ 2\") để tra cứu lịch công tác tuần."

// botAPI abstracts the Telegram client methods the bot uses, so tests
// can substitute a mock.
type botAPI interface {
	Start(ctx context.Context)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Searcher is the slice of the search API the bot needs.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]search.Hit, error)
}

// Bot answers schedule queries over Telegram long polling.
type Bot struct {
	api      botAPI
	searcher Searcher
}

// New builds a Bot against the real Telegram API.
func New(token string, searcher Searcher) (*Bot, error) {
	b := &Bot{searcher: searcher}
	api, err := bot.New(token, bot.WithDefaultHandler(b.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	b.api = api
	return b, nil
}

// Run long-polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	log.Printf("[Telegram] bot started, polling for updates")
	b.api.Start(ctx)
	log.Printf("[Telegram] bot stopped")
	return nil
}

func (b *Bot) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	chatID := update.Message.Chat.ID
	text := strings.TrimSpace(update.Message.Text)

	if text == "/start" || text == "/help" {
		b.reply(ctx, chatID, helpText)
		return
	}

	hits, err := b.searcher.Search(ctx, text, searchTopK)
	if err != nil {
		log.Printf("[Telegram] search failed for chat %d: %v", chatID, err)
		b.reply(ctx, chatID, "Hệ thống đang bận, vui lòng thử lại sau.")
		return
	}
	log.Printf("[Telegram] chat %d: %q (%d hits)", chatID, text, len(hits))
	b.reply(ctx, chatID, formatHits(text, hits))
}

// reply sends plain text. Schedule lines carry no markup, so no parse
// mode is set and Telegram never rejects the entities.
func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	_, err := b.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		log.Printf("[Telegram] send to chat %d failed: %v", chatID, err)
	}
}

func formatHits(query string, hits []search.Hit) string {
	if len(hits) == 0 {
		return fmt.Sprintf("Không tìm thấy lịch cho %q.", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Lịch phù hợp với %q:\n", query)
	for i, h := range hits {
		r := h.Record
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "%d. %s\n", i+1, headline(r))
		if r.Location != "" {
			fmt.Fprintf(&sb, "   Địa điểm: %s\n", r.Location)
		}
		if r.Participants != "" {
			fmt.Fprintf(&sb, "   Thành phần: %s\n", r.Participants)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// headline is the one-line summary: weekday, date, time, title.
func headline(r record.Record) string {
	parts := make([]string, 0, 4)
	if r.Dow != "" {
		parts = append(parts, r.Dow)
	}
	if r.Date != "" {
		parts = append(parts, r.Date)
	}
	switch {
	case r.Start != "" && r.End != "":
		parts = append(parts, r.Start+"-"+r.End)
	case r.Start != "":
		parts = append(parts, r.Start)
	}
	if r.Title != "" {
		parts = append(parts, r.Title)
	}
	return strings.Join(parts, " ")
}
