// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package discord implements a chat transport over the Discord gateway.
package discord

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"go.astrophena.name/formbot/cmd/formbot/internal/chat"
	"go.astrophena.name/formbot/internal/logger"

	"github.com/bwmarrin/discordgo"
)

// Transport is a [chat.Transport] backed by a Discord bot.
type Transport struct {
	s         *discordgo.Session
	scrubber  *strings.Replacer
	connected atomic.Bool
}

var _ chat.Transport = (*Transport)(nil)

// New returns a Transport authenticating with the bot token.
func New(token string) (*Transport, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	return &Transport{
		s:        s,
		scrubber: strings.NewReplacer(token, "[EXPUNGED]"),
	}, nil
}

func (t *Transport) String() string { return "discord" }

// Connected implements [chat.Transport].
func (t *Transport) Connected() bool { return t.connected.Load() }

// Run implements [chat.Transport].
func (t *Transport) Run(ctx context.Context, h chat.Handler) error {
	log := logger.Get(ctx)

	removeReady := t.s.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		t.connected.Store(true)
		log.Info("connected to Discord", "user", r.User.Username, "guilds", len(r.Guilds))
		log.Info("invite the bot", "url", "https://discord.com/oauth2/authorize?client_id="+r.User.ID+"&scope=bot")
		go h.Connected(ctx)
	})
	defer removeReady()
	removeDisconnect := t.s.AddHandler(func(s *discordgo.Session, _ *discordgo.Disconnect) {
		t.connected.Store(false)
		log.Warn("disconnected from Discord")
	})
	defer removeDisconnect()
	removeMessage := t.s.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		selfID := ""
		if s.State != nil && s.State.User != nil {
			selfID = s.State.User.ID
		}
		h.HandleMessage(ctx, convert(t.lookup(), m.Message, selfID))
	})
	defer removeMessage()

	if err := t.s.Open(); err != nil {
		return t.scrub(fmt.Errorf("connecting to Discord: %w", err))
	}
	<-ctx.Done()
	t.connected.Store(false)
	return t.scrub(t.s.Close())
}

// Send implements [chat.Sender].
func (t *Transport) Send(ctx context.Context, channelID, text string) (string, error) {
	m, err := t.s.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return "", t.scrub(err)
	}
	return m.ID, nil
}

// Delete implements [chat.Transport].
func (t *Transport) Delete(ctx context.Context, channelID, messageID string) error {
	return t.scrub(t.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (t *Transport) scrub(err error) error {
	if err == nil {
		return nil
	}
	return &scrubbedError{err: err, scrubber: t.scrubber}
}

type scrubbedError struct {
	err      error
	scrubber *strings.Replacer
}

func (e *scrubbedError) Error() string { return e.scrubber.Replace(e.err.Error()) }
func (e *scrubbedError) Unwrap() error { return e.err }

// lookup resolves channel and role names. Unknown names are empty.
type lookup interface {
	channelName(channelID string) string
	roleName(guildID, roleID string) string
}

func (t *Transport) lookup() lookup {
	return cachedLookup{cache: stateLookup{t.s.State}, fallback: restLookup{t.s}}
}

// cachedLookup tries the state cache first and asks the API only on a miss.
type cachedLookup struct {
	cache    lookup
	fallback lookup
}

func (l cachedLookup) channelName(id string) string {
	if name := l.cache.channelName(id); name != "" {
		return name
	}
	return l.fallback.channelName(id)
}

func (l cachedLookup) roleName(guildID, roleID string) string {
	if name := l.cache.roleName(guildID, roleID); name != "" {
		return name
	}
	return l.fallback.roleName(guildID, roleID)
}

// stateLookup resolves names from the state cache only.
type stateLookup struct{ st *discordgo.State }

func (l stateLookup) channelName(id string) string {
	if l.st == nil {
		return ""
	}
	ch, err := l.st.Channel(id)
	if err != nil {
		return ""
	}
	return ch.Name
}

func (l stateLookup) roleName(guildID, roleID string) string {
	if l.st == nil {
		return ""
	}
	r, err := l.st.Role(guildID, roleID)
	if err != nil {
		return ""
	}
	return r.Name
}

// restLookup resolves names with API requests.
type restLookup struct{ s *discordgo.Session }

func (l restLookup) channelName(id string) string {
	ch, err := l.s.Channel(id)
	if err != nil {
		return ""
	}
	return ch.Name
}

func (l restLookup) roleName(guildID, roleID string) string {
	roles, err := l.s.GuildRoles(guildID)
	if err != nil {
		return ""
	}
	for _, r := range roles {
		if r.ID == roleID {
			return r.Name
		}
	}
	return ""
}

func convert(l lookup, m *discordgo.Message, selfID string) chat.Message {
	msg := chat.Message{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		ChannelName: l.channelName(m.ChannelID),
		Text:        m.Content,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = m.Author.Username
		if m.Author.GlobalName != "" {
			msg.AuthorName = m.Author.GlobalName
		}
		msg.FromSelf = selfID != "" && m.Author.ID == selfID
	}
	if m.Member != nil {
		if m.Member.Nick != "" {
			msg.AuthorName = m.Member.Nick
		}
		for _, id := range m.Member.Roles {
			if name := l.roleName(m.GuildID, id); name != "" {
				msg.Roles = append(msg.Roles, name)
			}
		}
	}
	return msg
}
