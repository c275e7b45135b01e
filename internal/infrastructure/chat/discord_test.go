package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"ChatScribe/internal/domain"
)

func discordMessage(id, text string) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		ChannelID: "chan-1",
		Content:   text,
		Author:    &discordgo.User{ID: "user-7"},
		Timestamp: time.Date(2025, time.March, 14, 9, 0, 0, 0, time.UTC),
	}
}

// fakeHistory serves numbered messages newest-first, honoring beforeID the
// way the platform does.
type fakeHistory struct {
	newestFirst []*discordgo.Message
	requests    []string
}

func (f *fakeHistory) fetch(_ string, limit int, beforeID string) ([]*discordgo.Message, error) {
	f.requests = append(f.requests, beforeID)

	start := 0
	if beforeID != "" {
		for i, m := range f.newestFirst {
			if m.ID == beforeID {
				start = i + 1
				break
			}
		}
	}

	end := start + limit
	if end > len(f.newestFirst) {
		end = len(f.newestFirst)
	}
	if start >= len(f.newestFirst) {
		return nil, nil
	}
	return f.newestFirst[start:end], nil
}

func newTestSource(history *fakeHistory) *DiscordSource {
	d := &DiscordSource{
		channelID: "chan-1",
		queue:     make(chan domain.SourceMessage, 8),
	}
	d.fetch = history.fetch
	return d
}

func TestNextPageWalksBackwardToExhaustion(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{}
	for i := 250; i >= 1; i-- {
		history.newestFirst = append(history.newestFirst, discordMessage(fmt.Sprintf("%d", i), "text"))
	}

	source := newTestSource(history)
	ctx := context.Background()

	visited := map[string]int{}
	pages := 0
	for {
		page, err := source.NextPage(ctx, 100)
		if err != nil {
			t.Fatalf("NextPage error: %v", err)
		}
		if page == nil {
			break
		}
		pages++
		for _, msg := range page {
			visited[msg.ID]++
		}
	}

	if pages != 3 {
		t.Fatalf("expected 3 non-empty pages, got %d", pages)
	}
	if len(visited) != 250 {
		t.Fatalf("expected 250 distinct messages, got %d", len(visited))
	}
	for id, n := range visited {
		if n != 1 {
			t.Fatalf("message %s visited %d times", id, n)
		}
	}

	// The cursor always continues strictly older than everything returned.
	wantRequests := []string{"", "151", "51", "1"}
	if len(history.requests) != len(wantRequests) {
		t.Fatalf("expected %d fetches, got %d (%v)", len(wantRequests), len(history.requests), history.requests)
	}
	for i, want := range wantRequests {
		if history.requests[i] != want {
			t.Fatalf("fetch %d: expected beforeID %q, got %q", i, want, history.requests[i])
		}
	}
}

func TestNextPageSkipsAllEmptyPageWithoutExhausting(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{
		newestFirst: []*discordgo.Message{
			discordMessage("4", ""),
			discordMessage("3", "   "),
			discordMessage("2", "real content"),
			discordMessage("1", "more content"),
		},
	}

	source := newTestSource(history)

	// Page size 2: the first raw page is entirely empty-text and must not
	// be reported as exhaustion.
	page, err := source.NextPage(context.Background(), 2)
	if err != nil {
		t.Fatalf("NextPage error: %v", err)
	}

	if len(page) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(page))
	}
	if page[0].ID != "2" || page[1].ID != "1" {
		t.Fatalf("unexpected page: %v", page)
	}
}

func TestNextPageFiltersEmptyWithinPage(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{
		newestFirst: []*discordgo.Message{
			discordMessage("3", "keep"),
			discordMessage("2", ""),
			discordMessage("1", "keep too"),
		},
	}

	source := newTestSource(history)

	page, err := source.NextPage(context.Background(), 10)
	if err != nil {
		t.Fatalf("NextPage error: %v", err)
	}

	if len(page) != 2 {
		t.Fatalf("expected empty-text message filtered, got %d messages", len(page))
	}
}

func TestToSourceMessage(t *testing.T) {
	t.Parallel()

	m := discordMessage("77", "body")
	msg := toSourceMessage(m)

	if msg.ID != "77" || msg.ChatID != "chan-1" || msg.AuthorID != "user-7" || msg.Text != "body" {
		t.Fatalf("unexpected conversion: %+v", msg)
	}
	if !msg.Timestamp.Equal(m.Timestamp) {
		t.Fatalf("unexpected timestamp: %v", msg.Timestamp)
	}
}
