package kb

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ScopeResolver computes the authoritative set of groups whose topics a
// question may search: the originating group plus its linked community
// groups. This is the single security chokepoint; every search receives its
// output as a mandatory parameter.
type ScopeResolver struct {
	groups GroupStore
}

// NewScopeResolver creates a resolver backed by the given group store.
func NewScopeResolver(groups GroupStore) *ScopeResolver {
	return &ScopeResolver{groups: groups}
}

// Resolve returns the ordered scope for a message: the origin group first,
// then related community groups. It fails with ErrPrivateChat for direct
// chats and ErrGroupLoad when group metadata is missing or unreadable.
// Neither failure may ever degrade to an unscoped search.
func (r *ScopeResolver) Resolve(ctx context.Context, msg Message) ([]Group, error) {
	if msg.GroupJID == "" {
		log.Info().
			Str("chat_jid", msg.ChatJID).
			Msg("private message received, knowledge base search not available")
		return nil, ErrPrivateChat
	}

	origin, err := r.groups.GetGroup(ctx, msg.GroupJID)
	if err != nil {
		log.Error().Err(err).
			Str("group_jid", msg.GroupJID).
			Msg("failed to load group for scope resolution")
		return nil, fmt.Errorf("%w: %v", ErrGroupLoad, err)
	}
	if origin == nil {
		log.Error().
			Str("group_jid", msg.GroupJID).
			Msg("group not found for scope resolution")
		return nil, ErrGroupLoad
	}

	scope := []Group{*origin}
	if len(origin.CommunityKeys) > 0 {
		related, err := r.groups.GetCommunityGroups(ctx, origin.GroupJID)
		if err != nil {
			log.Error().Err(err).
				Str("group_jid", origin.GroupJID).
				Msg("failed to load community groups")
			return nil, fmt.Errorf("%w: %v", ErrGroupLoad, err)
		}
		scope = append(scope, related...)
	}

	log.Debug().
		Str("group_jid", msg.GroupJID).
		Int("scope_size", len(scope)).
		Msg("resolved knowledge base search scope")

	return scope, nil
}

// GroupJIDs extracts the JID list from a resolved scope.
func GroupJIDs(scope []Group) []string {
	jids := make([]string, 0, len(scope))
	for _, g := range scope {
		jids = append(jids, g.GroupJID)
	}
	return jids
}
