// Package telegram adapts the Telegram Bot API to the conversation types.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"park_reports/internal/conversation"
)

// PollTimeout is the long polling window in seconds.
const PollTimeout = 30

// Client sends replies, downloads files and polls for updates.
type Client struct {
	api  *tgbotapi.BotAPI
	http *http.Client
}

func New(token string, debug bool) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	api.Debug = debug
	log.Printf("telegram authorized account=%s", api.Self.UserName)
	return &Client{api: api, http: &http.Client{Timeout: 2 * time.Minute}}, nil
}

// Run long-polls updates and hands each usable message to handle until ctx
// is done.
func (c *Client) Run(ctx context.Context, handle func(context.Context, conversation.Input)) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = PollTimeout
	updates := c.api.GetUpdatesChan(u)
	defer c.api.StopReceivingUpdates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			in, ok := ToInput(upd.Message)
			if !ok {
				continue
			}
			handle(ctx, in)
		}
	}
}

func (c *Client) Send(ctx context.Context, r conversation.Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.api.Send(NewMessage(r)); err != nil {
		return fmt.Errorf("telegram send chat=%d: %w", r.ChatID, err)
	}
	return nil
}

// Download stores the file behind a Telegram file id at dst.
func (c *Client) Download(ctx context.Context, fileID, dst string) error {
	url, err := c.api.GetFileDirectURL(fileID)
	if err != nil {
		return fmt.Errorf("telegram file url: %w", err)
	}
	return fetch(ctx, c.http, url, dst)
}

func fetch(ctx context.Context, client *http.Client, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status %d", resp.StatusCode)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	return f.Close()
}

// ToInput converts a Telegram message. It returns false for updates that
// carry no message or no sender.
func ToInput(m *tgbotapi.Message) (conversation.Input, bool) {
	if m == nil || m.From == nil || m.Chat == nil {
		return conversation.Input{}, false
	}
	in := conversation.Input{UserID: m.From.ID, ChatID: m.Chat.ID}
	switch {
	case m.IsCommand():
		in.Kind = conversation.KindCommand
		in.Command = m.Command()
		in.Text = m.Text
	case len(m.Photo) > 0:
		in.Kind = conversation.KindPhoto
		in.PhotoFileID = largestPhoto(m.Photo).FileID
		in.Text = m.Caption
	case m.Location != nil:
		in.Kind = conversation.KindLocation
		in.Latitude = m.Location.Latitude
		in.Longitude = m.Location.Longitude
	case m.Text != "":
		in.Kind = conversation.KindText
		in.Text = m.Text
	default:
		in.Kind = conversation.KindOther
	}
	return in, true
}

func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

// NewMessage renders a reply with its keyboard markup.
func NewMessage(r conversation.Reply) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(r.ChatID, r.Text)
	switch {
	case len(r.Keyboard) > 0:
		rows := make([][]tgbotapi.KeyboardButton, 0, len(r.Keyboard))
		for _, row := range r.Keyboard {
			buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
			for _, b := range row {
				if b.RequestLocation {
					buttons = append(buttons, tgbotapi.NewKeyboardButtonLocation(b.Text))
					continue
				}
				buttons = append(buttons, tgbotapi.NewKeyboardButton(b.Text))
			}
			rows = append(rows, buttons)
		}
		kb := tgbotapi.NewReplyKeyboard(rows...)
		kb.OneTimeKeyboard = true
		kb.ResizeKeyboard = true
		msg.ReplyMarkup = kb
	case r.RemoveKeyboard:
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}
	return msg
}
