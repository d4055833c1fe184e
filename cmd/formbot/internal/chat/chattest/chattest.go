// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package chattest provides an in-memory chat transport for tests.
package chattest

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"go.astrophena.name/formbot/cmd/formbot/internal/chat"
)

// Sent is a message sent through a [Transport].
type Sent struct {
	ChannelID string
	Text      string
}

// Transport is a [chat.Transport] that records everything sent through it.
// Run delivers messages passed to Inject.
type Transport struct {
	mu      sync.Mutex
	sent    []Sent
	deleted []string
	nextID  int
	sendErr error
	// OnSend, if set, is called after each successful send.
	OnSend func(Sent)

	inbox     chan chat.Message
	connected bool
}

var _ chat.Transport = (*Transport)(nil)

// New returns a new Transport.
func New() *Transport {
	return &Transport{inbox: make(chan chat.Message)}
}

// Send implements [chat.Sender].
func (t *Transport) Send(ctx context.Context, channelID, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.mu.Lock()
	if t.sendErr != nil {
		err := t.sendErr
		t.mu.Unlock()
		return "", err
	}
	s := Sent{ChannelID: channelID, Text: text}
	t.sent = append(t.sent, s)
	t.nextID++
	id := strconv.Itoa(t.nextID)
	onSend := t.OnSend
	t.mu.Unlock()

	if onSend != nil {
		onSend(s)
	}
	return id, nil
}

// SetSendErr makes Send fail with err. A nil err makes it succeed again.
func (t *Transport) SetSendErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

// Delete implements [chat.Transport].
func (t *Transport) Delete(ctx context.Context, channelID, messageID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleted = append(t.deleted, channelID+"/"+messageID)
	return nil
}

// Run implements [chat.Transport].
func (t *Transport) Run(ctx context.Context, h chat.Handler) error {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
	}()

	h.Connected(ctx)
	for {
		select {
		case msg := <-t.inbox:
			h.HandleMessage(ctx, msg)
		case <-ctx.Done():
			return nil
		}
	}
}

// Inject delivers msg to the handler passed to Run and waits until it's
// picked up.
func (t *Transport) Inject(ctx context.Context, msg chat.Message) {
	select {
	case t.inbox <- msg:
	case <-ctx.Done():
	}
}

// Connected implements [chat.Transport].
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) String() string { return "test" }

// Sent returns a copy of the messages sent so far.
func (t *Transport) Sent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.sent)
}

// Texts returns the text of every sent message.
func (t *Transport) Texts() []string {
	var texts []string
	for _, s := range t.Sent() {
		texts = append(texts, s.Text)
	}
	return texts
}

// Deleted returns "channel/message" for every deleted message.
func (t *Transport) Deleted() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.deleted)
}
