// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package chat defines a transport-agnostic interface to chat platforms.
package chat

import "context"

// Message is an inbound chat message.
type Message struct {
	ID          string
	ChannelID   string
	ChannelName string
	AuthorID    string
	AuthorName  string
	// Roles are the names of the author's roles in the channel's server or
	// group. May be empty if the platform has no roles.
	Roles []string
	Text  string
	// FromSelf is true for messages sent by the bot itself.
	FromSelf bool
}

// Handler receives events from a [Transport].
type Handler interface {
	// Connected is called every time the transport (re)connects.
	Connected(ctx context.Context)
	// HandleMessage is called for each inbound message.
	HandleMessage(ctx context.Context, msg Message)
}

// Sender delivers messages.
type Sender interface {
	// Send posts text to a channel. It returns the ID of the sent message.
	Send(ctx context.Context, channelID, text string) (string, error)
}

// Transport is a connection to a chat platform.
type Transport interface {
	Sender
	// Run connects and dispatches events to h until ctx is canceled.
	Run(ctx context.Context, h Handler) error
	// Delete removes a message.
	Delete(ctx context.Context, channelID, messageID string) error
	// Connected reports whether the transport is currently connected.
	Connected() bool
	String() string
}

// ChannelSender is a [Sender] bound to a single channel.
type ChannelSender struct {
	Sender    Sender
	ChannelID string
}

// Post sends text to the bound channel.
func (cs ChannelSender) Post(ctx context.Context, text string) error {
	_, err := cs.Sender.Send(ctx, cs.ChannelID, text)
	return err
}
