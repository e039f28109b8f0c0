package session

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ndemidenko/relaychat-server/internal/store"
)

// Fanout resolves the target set of connections for a broadcast and delivers
// to a snapshot of them. Delivery to each target is independent and
// best-effort; a failed send to one connection never blocks the others.
type Fanout struct {
	registry *Registry
	channels store.ChannelStore
	log      *zerolog.Logger
}

// NewFanout constructs a fan-out resolver over the registry.
func NewFanout(registry *Registry, channels store.ChannelStore, logger *zerolog.Logger) *Fanout {
	return &Fanout{
		registry: registry,
		channels: channels,
		log:      logger,
	}
}

// ToUser delivers a frame to every live connection of one user.
func (f *Fanout) ToUser(userID string, frame []byte) {
	f.ToUsers([]string{userID}, frame)
}

// ToUsers delivers a frame to every live connection whose identity is bound
// to one of the given user ids.
func (f *Fanout) ToUsers(userIDs []string, frame []byte) {
	if len(userIDs) == 0 {
		return
	}

	targets := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		targets[id] = struct{}{}
	}

	records := f.registry.Filter(func(rec Record) bool {
		id, ok := rec.Identity.UserID()
		if !ok {
			return false
		}
		_, match := targets[id]
		return match
	})

	for _, rec := range records {
		if !rec.Deliver(frame) {
			f.log.Debug().Str("conn_id", rec.ID).Msg("dropped frame for slow or closed connection")
		}
	}
}

// ToChannelPeers delivers a frame to the online members of every channel
// containing userID. The member/online join runs in storage: presence is
// authoritative there, not in the registry, so a user can be online in
// storage with zero live connections for a moment around disconnect.
func (f *Fanout) ToChannelPeers(ctx context.Context, userID string, frame []byte) {
	peers, err := f.channels.OnlinePeerIDs(ctx, userID)
	if err != nil {
		f.log.Warn().Err(err).Str("user_id", userID).Msg("resolve channel peers")
		return
	}
	f.ToUsers(peers, frame)
}

// Broadcast delivers a frame to every live connection.
func (f *Fanout) Broadcast(frame []byte) {
	records := f.registry.Filter(func(Record) bool { return true })
	for _, rec := range records {
		if !rec.Deliver(frame) {
			f.log.Debug().Str("conn_id", rec.ID).Msg("dropped frame for slow or closed connection")
		}
	}
}
