// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram implements a chat transport over the Telegram Bot API.
package telegram

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"go.astrophena.name/formbot/cmd/formbot/internal/chat"
	"go.astrophena.name/formbot/internal/logger"
	"go.astrophena.name/formbot/internal/request"

	"golang.org/x/time/rate"
)

const (
	tgAPI          = "https://api.telegram.org"
	sendRetryLimit = 5 // N attempts to retry message sending
	maxMessageLen  = 4096
)

// DefaultPollTimeout is the default long polling timeout of getUpdates.
const DefaultPollTimeout = 25 * time.Second

// Config configures a Telegram transport.
type Config struct {
	Token string
	// HTTPClient is used for all requests. Its timeout must be longer than
	// PollTimeout.
	HTTPClient *http.Client
	// PollTimeout is the long polling timeout of getUpdates. Defaults to
	// DefaultPollTimeout.
	PollTimeout time.Duration
	// CommandPrefix limits role lookups to messages starting with it.
	CommandPrefix string
	// ResolveRoles makes the transport report the chat member status
	// ("creator", "administrator", "member", ...) of command authors as
	// their role.
	ResolveRoles bool
	// Limiter throttles outgoing messages. Defaults to one message per
	// second with a burst of three.
	Limiter *rate.Limiter
	// Endpoint overrides the Bot API URL.
	Endpoint string
}

// Transport is a [chat.Transport] backed by a Telegram bot.
type Transport struct {
	c         Config
	scrubber  *strings.Replacer
	connected atomic.Bool
	selfID    atomic.Int64

	makeRequest func(ctx context.Context, method string, args, resp any) error
	sleep       func(context.Context, time.Duration) bool
}

var _ chat.Transport = (*Transport)(nil)

// New returns a Telegram transport.
func New(c Config) *Transport {
	c.PollTimeout = cmp.Or(c.PollTimeout, DefaultPollTimeout)
	c.Endpoint = cmp.Or(c.Endpoint, tgAPI)
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.PollTimeout + 10*time.Second}
	}
	if c.Limiter == nil {
		c.Limiter = rate.NewLimiter(rate.Every(time.Second), 3)
	}
	t := &Transport{
		c:        c,
		scrubber: strings.NewReplacer(c.Token, "[EXPUNGED]"),
	}
	t.makeRequest = t.makeTelegramRequest
	t.sleep = sleep
	return t
}

func (t *Transport) String() string { return "telegram" }

// Connected implements [chat.Transport].
func (t *Transport) Connected() bool { return t.connected.Load() }

type user struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type chatInfo struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Username string `json:"username"`
}

type message struct {
	MessageID int64    `json:"message_id"`
	From      *user    `json:"from"`
	Chat      chatInfo `json:"chat"`
	Text      string   `json:"text"`
}

type update struct {
	UpdateID    int64    `json:"update_id"`
	Message     *message `json:"message"`
	ChannelPost *message `json:"channel_post"`
}

type response[T any] struct {
	OK     bool `json:"ok"`
	Result T    `json:"result"`
}

// Run implements [chat.Transport]. It long-polls getUpdates until ctx is
// canceled, backing off on errors.
func (t *Transport) Run(ctx context.Context, h chat.Handler) error {
	log := logger.Get(ctx)

	var me response[user]
	if err := t.makeRequest(ctx, "getMe", struct{}{}, &me); err != nil {
		return fmt.Errorf("getMe: %w", err)
	}
	t.selfID.Store(me.Result.ID)
	log.Info("connected to Telegram", "user", me.Result.Username)
	t.connected.Store(true)
	defer t.connected.Store(false)
	h.Connected(ctx)

	var (
		offset  int64
		backoff time.Duration
	)
	for ctx.Err() == nil {
		var resp response[[]update]
		err := t.makeRequest(ctx, "getUpdates", map[string]any{
			"offset":          offset,
			"timeout":         int(t.c.PollTimeout / time.Second),
			"allowed_updates": []string{"message", "channel_post"},
		}, &resp)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			t.connected.Store(false)
			backoff = min(max(2*backoff, time.Second), time.Minute)
			log.Warn("getUpdates failed", "err", err, "retry_in", backoff)
			if !t.sleep(ctx, backoff) {
				break
			}
			continue
		}
		backoff = 0
		t.connected.Store(true)

		for _, u := range resp.Result {
			offset = max(offset, u.UpdateID+1)
			m := cmp.Or(u.Message, u.ChannelPost)
			if m == nil || m.Text == "" {
				continue
			}
			h.HandleMessage(ctx, t.convert(ctx, m))
		}
	}
	return nil
}

func (t *Transport) convert(ctx context.Context, m *message) chat.Message {
	msg := chat.Message{
		ID:          strconv.FormatInt(m.MessageID, 10),
		ChannelID:   strconv.FormatInt(m.Chat.ID, 10),
		ChannelName: m.Chat.Title,
		Text:        m.Text,
	}
	if msg.ChannelName == "" && m.Chat.Username != "" {
		msg.ChannelName = m.Chat.Username
	}
	if m.From == nil {
		return msg
	}

	msg.AuthorID = strconv.FormatInt(m.From.ID, 10)
	msg.AuthorName = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
	if msg.AuthorName == "" {
		msg.AuthorName = m.From.Username
	}
	msg.FromSelf = m.From.ID == t.selfID.Load()

	if t.c.ResolveRoles && strings.HasPrefix(m.Text, t.c.CommandPrefix) {
		var member response[struct {
			Status string `json:"status"`
		}]
		err := t.makeRequest(ctx, "getChatMember", map[string]any{
			"chat_id": m.Chat.ID,
			"user_id": m.From.ID,
		}, &member)
		if err != nil {
			logger.Get(ctx).Warn("getChatMember failed", "chat_id", m.Chat.ID, "user_id", m.From.ID, "err", err)
		} else if member.Result.Status != "" {
			msg.Roles = []string{member.Result.Status}
		}
	}
	return msg
}

// Send implements [chat.Sender]. Texts longer than the Telegram limit are
// split; the ID of the last part is returned.
func (t *Transport) Send(ctx context.Context, channelID, text string) (string, error) {
	var id string
	for _, chunk := range splitMessage(text) {
		if err := t.c.Limiter.Wait(ctx); err != nil {
			return "", err
		}

		args := map[string]any{
			"chat_id": channelID,
			"text":    chunk,
			"link_preview_options": map[string]bool{
				"is_disabled": true,
			},
		}
		var resp response[message]
		var err error
		for range sendRetryLimit {
			err = t.makeRequest(ctx, "sendMessage", args, &resp)
			if err == nil {
				break
			}

			retryable, wait := isRateLimited(err)
			if !retryable {
				break
			}

			logger.Get(ctx).Warn("sending rate limited, waiting", slog.String("chat_id", channelID), slog.Duration("wait", wait))
			if !t.sleep(ctx, wait) {
				return "", ctx.Err()
			}
		}
		if err != nil {
			return "", err
		}
		id = strconv.FormatInt(resp.Result.MessageID, 10)
	}
	return id, nil
}

// Delete implements [chat.Transport].
func (t *Transport) Delete(ctx context.Context, channelID, messageID string) error {
	id, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message ID %q: %w", messageID, err)
	}
	return t.makeRequest(ctx, "deleteMessage", map[string]any{
		"chat_id":    channelID,
		"message_id": id,
	}, nil)
}

func (t *Transport) makeTelegramRequest(ctx context.Context, method string, args, resp any) error {
	b, err := request.Make[request.Bytes](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        t.c.Endpoint + "/bot" + t.c.Token + "/" + method,
		Body:       args,
		HTTPClient: t.c.HTTPClient,
		Scrubber:   t.scrubber,
	})
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(b, resp); err != nil {
		return fmt.Errorf("%s: decoding response: %w", method, err)
	}
	return nil
}

func splitMessage(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= maxMessageLen {
		return []string{text}
	}

	var chunks []string
	for text != "" {
		if utf8.RuneCountInString(text) <= maxMessageLen {
			chunks = append(chunks, text)
			break
		}

		var (
			lastNewline    = -1
			lastWhitespace = -1
			byteCap        = len(text)
			runeCount      int
		)

		for i, r := range text {
			if runeCount == maxMessageLen {
				byteCap = i
				break
			}
			runeCount++

			if r == '\n' {
				lastNewline = i
				continue
			}
			if unicode.IsSpace(r) {
				lastWhitespace = i
			}
		}

		splitAt := byteCap
		switch {
		case lastNewline > 0:
			splitAt = lastNewline
		case lastWhitespace > 0:
			splitAt = lastWhitespace
		}

		chunk := strings.TrimSpace(text[:splitAt])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(text[splitAt:])
	}

	return chunks
}

func isRateLimited(err error) (bool, time.Duration) {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return false, 0
	}

	var errorResponse struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(statusErr.Body, &errorResponse); err != nil {
		return false, 0
	}

	return true, time.Duration(errorResponse.Parameters.RetryAfter) * time.Second
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
