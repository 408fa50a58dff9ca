package cache

import "time"

// Category partitions the cache map. The set is closed; every entry
// carries exactly one category tag and inherits its default TTL.
type Category string

const (
	GuildData       Category = "guild_data"
	UserData        Category = "user_data"
	EventsData      Category = "events_data"
	RosterData      Category = "roster_data"
	StaticData      Category = "static_data"
	DiscordEntities Category = "discord_entities"
	Temporary       Category = "temporary"
)

// Categories lists every known category in declaration order.
var Categories = []Category{
	GuildData, UserData, EventsData, RosterData,
	StaticData, DiscordEntities, Temporary,
}

// TTL returns the category default time-to-live.
func (c Category) TTL() time.Duration {
	switch c {
	case GuildData:
		return 24 * time.Hour
	case Temporary:
		return 5 * time.Minute
	default:
		return time.Hour
	}
}

// related is the invalidation rule graph: an acyclic adjacency list
// traversed exactly one hop (fan-out is bounded on purpose, the graph
// is never walked transitively).
var related = map[Category][]Category{
	RosterData: {EventsData},
	GuildData:  {RosterData, EventsData, UserData},
	UserData:   {RosterData},
}

// Related returns the categories invalidated by a change to c, one hop
// away in the rule graph. The returned slice must not be mutated.
func Related(c Category) []Category {
	return related[c]
}
