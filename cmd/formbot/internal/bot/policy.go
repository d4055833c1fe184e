// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package bot

import (
	"slices"
	"strings"

	"go.astrophena.name/formbot/cmd/formbot/internal/chat"
)

// Policy restricts who may run a command and where. An empty list allows
// everything. Names are compared case-insensitively.
type Policy struct {
	// Channels lists allowed channel names or IDs.
	Channels []string
	// Roles lists roles of which the author must hold at least one.
	Roles []string
}

// Allows reports whether msg passes the policy.
func (p Policy) Allows(msg chat.Message) bool {
	if len(p.Channels) > 0 && !containsFold(p.Channels, msg.ChannelName) && !slices.Contains(p.Channels, msg.ChannelID) {
		return false
	}
	if len(p.Roles) > 0 && !slices.ContainsFunc(msg.Roles, func(role string) bool {
		return containsFold(p.Roles, role)
	}) {
		return false
	}
	return true
}

func containsFold(list []string, s string) bool {
	if s == "" {
		return false
	}
	return slices.ContainsFunc(list, func(v string) bool { return strings.EqualFold(v, s) })
}
