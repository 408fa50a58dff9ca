// Package types holds the value types shared across the bot core:
// guild settings, roster projections, event records and static groups.
// Identifiers are chat-platform snowflakes carried as strings.
package types

import (
	"time"
)

// GuildSettings mirrors one guild_settings row.
type GuildSettings struct {
	GuildID     string
	Lang        string
	Name        string
	Game        string
	Server      string
	GameID      int64
	Initialized bool
	Premium     bool
	PTB         bool
}

// GuildRoles holds the configured role ids of a guild.
type GuildRoles struct {
	GuildID       string
	Members       string
	AbsentMembers string
	RulesOK       string
	GuildMaster   string
	Officer       string
	Guardian      string
	Allies        string
	Diplomats     string
	Friends       string
	Applicant     string
	ConfigOK      string
}

// GuildChannels holds the configured channel ids of a guild. Only the
// channels the core touches are materialized.
type GuildChannels struct {
	GuildID              string
	EventsChannel        string
	MembersChannel       string
	RulesChannel         string
	RulesMessage         string
	AbsChannel           string
	GroupsChannel        string
	StaticsChannel       string
	StaticsMessage       string
	NotificationsChannel string
	CreateRoomChannel    string
	VoiceWarChannel      string
}

// MemberProjection is the cached view of one guild_members row.
type MemberProjection struct {
	GuildID       string
	MemberID      string
	Username      string
	Language      string
	GS            int
	Build         string
	Weapons       string
	Class         string
	DKP           int
	NbEvents      int
	Registrations int
	Attendances   int
}

// WelcomeMessage locates a member's onboarding message.
type WelcomeMessage struct {
	GuildID   string
	MemberID  string
	ChannelID string
	MessageID string
}

// OnboardingData is the setup artifact captured during onboarding,
// used to seed the first guild_members insert.
type OnboardingData struct {
	Locale  string
	GS      int
	Weapons string
	Build   string
}

// Game is one games_list row.
type Game struct {
	ID         int64
	Name       string
	MaxMembers int
}

// StaticGroupCapacity is the maximum members of a static group.
const StaticGroupCapacity = 6

// StaticGroup is a named recurring team used as a group-formation seed.
type StaticGroup struct {
	ID       int64
	GuildID  string
	Name     string
	LeaderID string
	Active   bool
	Members  []string // ordered by position_order
}

// Class names derived from weapon combinations.
const (
	ClassTank      = "Tank"
	ClassHealer    = "Healer"
	ClassMeleeDPS  = "Melee DPS"
	ClassRangedDPS = "Ranged DPS"
	ClassFlanker   = "Flanker"
	ClassUnknown   = "NULL"
)

// DPSClasses lists the DPS sub-classes in fill order.
var DPSClasses = []string{ClassMeleeDPS, ClassRangedDPS, ClassFlanker}

// StaticCatalog is the per-game weapon and class metadata.
type StaticCatalog struct {
	GameID       int64
	Weapons      map[string]string // code -> display name
	Combinations map[[2]string]string
}

// ClassFor resolves the class of a sorted weapon pair. Unknown pairs
// yield ClassUnknown.
func (c *StaticCatalog) ClassFor(w1, w2 string) string {
	if c == nil {
		return ClassUnknown
	}
	if role, ok := c.Combinations[[2]string{w1, w2}]; ok {
		return role
	}
	return ClassUnknown
}

// ValidWeapon reports whether code exists in the game's catalogue.
func (c *StaticCatalog) ValidWeapon(code string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Weapons[code]
	return ok
}

// CalendarEntry is one slot of a per-game weekly event calendar, used
// by the daily auto-creation procedure.
type CalendarEntry struct {
	GameID   int64
	Weekday  time.Weekday
	Name     string
	StartHH  int
	StartMM  int
	Duration int // minutes
	DKPValue int
}
