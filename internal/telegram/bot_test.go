package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lockstep/internal/record"
	"lockstep/internal/search"
)

// mockBot implements botAPI and records outgoing messages.
type mockBot struct {
	calls   []*bot.SendMessageParams
	sendErr error
}

func (m *mockBot) Start(ctx context.Context) {}

func (m *mockBot) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	m.calls = append(m.calls, params)
	return &models.Message{ID: 1}, m.sendErr
}

type stubSearcher struct {
	hits    []search.Hit
	err     error
	queries []string
}

func (s *stubSearcher) Search(ctx context.Context, query string, k int) ([]search.Hit, error) {
	s.queries = append(s.queries, query)
	return s.hits, s.err
}

func textUpdate(chatID int64, text string) *models.Update {
	return &models.Update{
		Message: &models.Message{
			Text: text,
			Chat: models.Chat{ID: chatID},
		},
	}
}

func TestHandleUpdate_RepliesWithHits(t *testing.T) {
	mb := &mockBot{}
	s := &stubSearcher{hits: []search.Hit{
		{ID: 0, Score: 0.91, Record: record.Record{
			Date: "18/08/2025", Dow: "Thứ 2", Start: "08:00", End: "11:30",
			Location: "Hội trường A", Title: "Họp giao ban",
		}},
	}}
	b := &Bot{api: mb, searcher: s}

	b.handleUpdate(context.Background(), nil, textUpdate(42, "  họp giao ban "))

	require.Len(t, mb.calls, 1)
	assert.Equal(t, int64(42), mb.calls[0].ChatID)
	reply := mb.calls[0].Text
	assert.Contains(t, reply, "1. Thứ 2 18/08/2025 08:00-11:30 Họp giao ban")
	assert.Contains(t, reply, "Địa điểm: Hội trường A")
	assert.Equal(t, []string{"họp giao ban"}, s.queries)
}

func TestHandleUpdate_NoHits(t *testing.T) {
	mb := &mockBot{}
	b := &Bot{api: mb, searcher: &stubSearcher{}}

	b.handleUpdate(context.Background(), nil, textUpdate(7, "bế giảng"))

	require.Len(t, mb.calls, 1)
	assert.Contains(t, mb.calls[0].Text, "Không tìm thấy")
}

func TestHandleUpdate_HelpCommands(t *testing.T) {
	for _, cmd := range []string{"/start", "/help"} {
		mb := &mockBot{}
		s := &stubSearcher{}
		b := &Bot{api: mb, searcher: s}

		b.handleUpdate(context.Background(), nil, textUpdate(1, cmd))

		require.Len(t, mb.calls, 1, cmd)
		assert.Equal(t, helpText, mb.calls[0].Text, cmd)
		assert.Empty(t, s.queries, "commands must not hit the searcher")
	}
}

func TestHandleUpdate_IgnoresNonText(t *testing.T) {
	mb := &mockBot{}
	s := &stubSearcher{}
	b := &Bot{api: mb, searcher: s}

	b.handleUpdate(context.Background(), nil, &models.Update{})
	b.handleUpdate(context.Background(), nil, textUpdate(1, ""))

	assert.Empty(t, mb.calls)
	assert.Empty(t, s.queries)
}

func TestHandleUpdate_SearchError(t *testing.T) {
	mb := &mockBot{}
	b := &Bot{api: mb, searcher: &stubSearcher{err: errors.New("index unavailable")}}

	b.handleUpdate(context.Background(), nil, textUpdate(9, "họp"))

	require.Len(t, mb.calls, 1)
	assert.Contains(t, mb.calls[0].Text, "thử lại sau")
}

func TestFormatHits_MultipleEvents(t *testing.T) {
	hits := []search.Hit{
		{Record: record.Record{Date: "18/08/2025", Dow: "Thứ 2", Start: "08:00", Title: "Họp giao ban", Participants: "Ban giám hiệu"}},
		{Record: record.Record{Date: "19/08/2025", Dow: "Thứ 3", Title: "Hội nghị khoa học", Location: "P.201"}},
	}

	out := formatHits("họp", hits)

	assert.Contains(t, out, "1. Thứ 2 18/08/2025 08:00 Họp giao ban")
	assert.Contains(t, out, "Thành phần: Ban giám hiệu")
	assert.Contains(t, out, "2. Thứ 3 19/08/2025 Hội nghị khoa học")
	assert.Contains(t, out, "Địa điểm: P.201")
}
