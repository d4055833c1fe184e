// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package bot implements the chat commands that control syncing.
package bot

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.astrophena.name/formbot/cmd/formbot/internal/chat"
	"go.astrophena.name/formbot/cmd/formbot/internal/cursor"
	"go.astrophena.name/formbot/cmd/formbot/internal/schedule"
	"go.astrophena.name/formbot/cmd/formbot/internal/source"
	"go.astrophena.name/formbot/cmd/formbot/internal/syncer"
	"go.astrophena.name/formbot/internal/logger"
	"go.astrophena.name/formbot/internal/store"
	"go.astrophena.name/formbot/internal/syncx"
)

// DefaultPrefix is the default command prefix.
const DefaultPrefix = "!"

// DefaultInterval is the default time between syncs.
const DefaultInterval = time.Minute

var (
	errAlreadyRunning = errors.New("already running")
	errAlreadyStopped = errors.New("already stopped")
)

// Config configures a [Session].
type Config struct {
	Transport chat.Transport
	Source    source.Source
	Cursor    cursor.Store
	Options   syncer.Options
	Interval  time.Duration
	// StartingRow is the cursor used when none is persisted and the first
	// row random entries are picked from.
	StartingRow int
	Prefix      string
	// Policy gates start and stop.
	Policy Policy
	// RandomEnabled turns on the random command, gated by RandomPolicy.
	RandomEnabled bool
	RandomPolicy  Policy
	// DeleteStart deletes the start command message once syncing starts.
	DeleteStart bool
	// Autostart is the channel to start posting to once connected.
	Autostart string
	// DryRun logs posts instead of sending them and never saves the cursor.
	// Progress is kept in memory for as long as syncing runs.
	DryRun bool
}

// Session owns the run state of a bot. It implements [chat.Handler].
type Session struct {
	c    Config
	last *syncx.Protected[*schedule.Report]

	mu      sync.Mutex
	handle  *schedule.Handle // nil when stopped
	channel string
	since   time.Time

	// rnd is used by the random command, nil means the global source.
	rnd *rand.Rand
}

var _ chat.Handler = (*Session)(nil)

// New returns a stopped session.
func New(c Config) *Session {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	c.Prefix = cmp.Or(c.Prefix, DefaultPrefix)
	return &Session{
		c:    c,
		last: syncx.Protect[*schedule.Report](nil),
	}
}

// Connected implements [chat.Handler].
func (s *Session) Connected(ctx context.Context) {
	if s.c.Autostart == "" {
		return
	}
	pos, err := s.Start(ctx, s.c.Autostart, 0, false)
	switch {
	case errors.Is(err, errAlreadyRunning):
	case err != nil:
		logger.Get(ctx).Error("autostart failed", "channel", s.c.Autostart, "err", err)
	default:
		logger.Get(ctx).Info("autostarted", "channel", s.c.Autostart, "row", pos)
	}
}

// HandleMessage implements [chat.Handler].
func (s *Session) HandleMessage(ctx context.Context, msg chat.Message) {
	if msg.FromSelf {
		return
	}
	cmd, args, ok := s.parse(msg.Text)
	if !ok {
		return
	}
	log := logger.Get(ctx).With("command", cmd, "author", msg.AuthorName, "channel", cmp.Or(msg.ChannelName, msg.ChannelID))

	policy := s.c.Policy
	if cmd == "random" {
		if !s.c.RandomEnabled {
			log.Debug("random command disabled")
			return
		}
		policy = s.c.RandomPolicy
	}
	if !policy.Allows(msg) {
		log.Debug("command not allowed", "roles", msg.Roles)
		return
	}
	log.Info("handling command", "args", args)

	switch cmd {
	case "start":
		s.handleStart(ctx, msg, args)
	case "stop":
		s.handleStop(ctx, msg)
	case "random":
		s.handleRandom(ctx, msg)
	}
}

func (s *Session) parse(text string) (cmd string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil, false
	}
	name, ok := strings.CutPrefix(fields[0], s.c.Prefix)
	if !ok {
		return "", nil, false
	}
	switch name = strings.ToLower(name); name {
	case "start", "stop", "random":
		return name, fields[1:], true
	}
	return "", nil, false
}

func (s *Session) handleStart(ctx context.Context, msg chat.Message, args []string) {
	var (
		pos    int
		hasPos bool
	)
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if len(args) > 1 || err != nil || n < 0 {
			s.reply(ctx, msg, fmt.Sprintf("Usage: **%sstart [row]**, where row is a non-negative row number.", s.c.Prefix))
			return
		}
		pos, hasPos = n, true
	}

	_, err := s.start(ctx, msg.ChannelID, pos, hasPos, func(pos int) {
		s.reply(ctx, msg, fmt.Sprintf("Beep boop! Starting from row %d!\nUpdates every %s!\nStop me with **%sstop**\n---", pos, every(s.c.Interval), s.c.Prefix))
	})
	if errors.Is(err, errAlreadyRunning) {
		s.reply(ctx, msg, "Already started!")
		return
	}
	if err != nil {
		logger.Get(ctx).Error("starting failed", "err", err)
		s.reply(ctx, msg, "Couldn't start, check the logs.")
		return
	}

	if s.c.DeleteStart && msg.ID != "" {
		if err := s.c.Transport.Delete(ctx, msg.ChannelID, msg.ID); err != nil {
			logger.Get(ctx).Warn("deleting start command failed", "err", err)
		}
	}
}

func (s *Session) handleStop(ctx context.Context, msg chat.Message) {
	if err := s.Stop(); errors.Is(err, errAlreadyStopped) {
		s.reply(ctx, msg, "Already stopped!")
		return
	}
	s.reply(ctx, msg, fmt.Sprintf("Updates stopped. Start me up again with the **%sstart** command!", s.c.Prefix))
}

func (s *Session) handleRandom(ctx context.Context, msg chat.Message) {
	rows, err := s.c.Source.Fetch(ctx)
	if err != nil {
		logger.Get(ctx).Error("fetching rows failed", "source", s.c.Source.String(), "err", err)
		s.reply(ctx, msg, "Couldn't fetch entries, try again later.")
		return
	}
	text, err := syncer.Sample(rows, s.c.StartingRow, s.c.Options.Formatter, s.rnd)
	switch {
	case errors.Is(err, syncer.ErrNothingToSample):
		s.reply(ctx, msg, "There are no entries to pick from yet.")
		return
	case err != nil:
		logger.Get(ctx).Warn("formatting random entry failed", "err", err)
		s.reply(ctx, msg, "Couldn't format the picked entry, try again.")
		return
	}
	s.reply(ctx, msg, fmt.Sprintf("Random entry for **%s**:\n\n%s", msg.AuthorName, text))
}

func (s *Session) reply(ctx context.Context, msg chat.Message, text string) {
	if _, err := s.c.Transport.Send(ctx, msg.ChannelID, text); err != nil {
		logger.Get(ctx).Error("reply failed", "channel", msg.ChannelID, "err", err)
	}
}

// Start starts syncing to channelID. If hasPos is true, pos is saved as the
// cursor first; otherwise the persisted cursor (or the starting row) is used.
// It returns the cursor syncing starts from.
//
// The loop lives until Stop is called or ctx is canceled.
func (s *Session) Start(ctx context.Context, channelID string, pos int, hasPos bool) (int, error) {
	return s.start(ctx, channelID, pos, hasPos, nil)
}

// start is Start, calling announce before the first sync.
func (s *Session) start(ctx context.Context, channelID string, pos int, hasPos bool, announce func(pos int)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		return 0, errAlreadyRunning
	}

	if hasPos {
		if !s.c.DryRun {
			if err := s.c.Cursor.Save(ctx, pos); err != nil {
				return 0, fmt.Errorf("saving cursor: %w", err)
			}
		}
	} else {
		var err error
		pos, err = cursor.LoadOr(ctx, s.c.Cursor, s.c.StartingRow)
		if err != nil {
			return 0, fmt.Errorf("loading cursor: %w", err)
		}
	}

	var (
		poster schedule.Poster = chat.ChannelSender{Sender: s.c.Transport, ChannelID: channelID}
		cur                    = s.c.Cursor
	)
	if s.c.DryRun {
		poster = dryRunPoster{channelID: channelID}
		cur = &cursor.KV{Store: store.NewMem(), Key: "dry-run"}
		if err := cur.Save(ctx, pos); err != nil {
			return 0, fmt.Errorf("saving cursor: %w", err)
		}
	}
	job := &schedule.Job{
		Source:  s.c.Source,
		Cursor:  cur,
		Start:   pos,
		Options: s.c.Options,
		Poster:  poster,
	}
	loop := &schedule.Loop{
		Interval: s.c.Interval,
		Tick: func(ctx context.Context) {
			r := job.Run(ctx)
			s.last.Store(&r)
		},
	}
	if announce != nil {
		announce(pos)
	}
	s.handle = loop.Start(ctx)
	s.channel = channelID
	s.since = time.Now()
	logger.Get(ctx).Info("started syncing", "channel", channelID, "row", pos, "interval", s.c.Interval)
	return pos, nil
}

// Stop stops syncing and waits for an in-flight sync to finish.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return errAlreadyStopped
	}
	s.handle.Stop()
	s.handle = nil
	s.channel = ""
	s.since = time.Time{}
	return nil
}

// Status is a snapshot of the session state.
type Status struct {
	Running bool      `json:"running"`
	Channel string    `json:"channel,omitempty"`
	Since   time.Time `json:"since,omitzero"`
	// Cursor is the persisted cursor, or -1 if none is saved.
	Cursor   int         `json:"cursor"`
	LastSync *SyncStatus `json:"last_sync,omitempty"`
}

// SyncStatus describes the last sync.
type SyncStatus struct {
	schedule.Report
	Error string `json:"error,omitempty"`
}

// Status returns the current state of the session.
func (s *Session) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	st := Status{
		Running: s.handle != nil,
		Channel: s.channel,
		Since:   s.since,
	}
	s.mu.Unlock()

	pos, ok, err := s.c.Cursor.Load(ctx)
	if err != nil {
		return st, err
	}
	st.Cursor = -1
	if ok {
		st.Cursor = pos
	}
	if r, ok := s.LastSync(); ok {
		st.LastSync = &SyncStatus{Report: r}
		if r.Err != nil {
			st.LastSync.Error = r.Err.Error()
		}
	}
	return st, nil
}

// LastSync returns the report of the last sync, if there was one.
func (s *Session) LastSync() (schedule.Report, bool) {
	if r := s.last.Load(); r != nil {
		return *r, true
	}
	return schedule.Report{}, false
}

// SyncHealth is a health check reporting the outcome of the last sync. It
// fails only if the last sync failed.
func (s *Session) SyncHealth() (status string, ok bool) {
	r, ok := s.LastSync()
	switch {
	case !ok:
		return "no syncs yet", true
	case r.Err != nil:
		return r.Err.Error(), false
	}
	return fmt.Sprintf("posted %d at %s", r.Posted, r.Time.Format(time.DateTime)), true
}

type dryRunPoster struct {
	channelID string
}

func (p dryRunPoster) Post(ctx context.Context, text string) error {
	logger.Get(ctx).Info("dry run: not posting", "channel", p.channelID, "text", text)
	return nil
}

func every(d time.Duration) string {
	switch {
	case d == time.Minute:
		return "minute"
	case d == time.Hour:
		return "hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	}
	return d.String()
}
