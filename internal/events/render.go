package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/guildtools/herald/internal/chat"
	"github.com/guildtools/herald/internal/types"
)

// Embed palette per status.
var statusColors = map[types.EventStatus]int{
	types.StatusPlanned:   0x3498db,
	types.StatusConfirmed: 0x2ecc71,
	types.StatusClosed:    0x95a5a6,
	types.StatusCanceled:  0xe74c3c,
}

// Render builds the announcement embed: start time, DKP values and the
// three registration sets with counts.
func Render(e *types.EventRecord, loc *time.Location) *chat.Embed {
	start := e.StartAt(loc)
	embed := &chat.Embed{
		Title: e.Name,
		Description: fmt.Sprintf("%s — %s (%d min)",
			start.Format("Monday 02 Jan"), start.Format("15:04"), e.Duration),
		Color:  statusColors[e.Status],
		Footer: fmt.Sprintf("%s · DKP %d (%d late)", e.Status, e.DKPValue, e.DKPIns),
	}
	book := e.Book
	if book == nil {
		book = types.NewRegistrationBook()
	}
	embed.Fields = append(embed.Fields,
		markerField(EmojiPresence, "Present", book.Presence),
		markerField(EmojiTentative, "Tentative", book.Tentative),
		markerField(EmojiAbsence, "Absent", book.Absence),
	)
	return embed
}

func markerField(emoji, label string, ids []string) chat.EmbedField {
	value := "—"
	if len(ids) > 0 {
		value = mentionList(ids)
	}
	return chat.EmbedField{
		Name:   fmt.Sprintf("%s %s (%d)", emoji, label, len(ids)),
		Value:  value,
		Inline: true,
	}
}

// RenderGroups builds the composition embed posted to the groups
// channel at close.
func RenderGroups(eventName string, groups []FormedGroup) *chat.Embed {
	embed := &chat.Embed{
		Title: fmt.Sprintf("Groups — %s", eventName),
		Color: 0x9b59b6,
	}
	for i, g := range groups {
		name := g.Name
		if name == "" {
			name = fmt.Sprintf("Group %d", i+1)
		}
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name:  fmt.Sprintf("%s (%d · GS %.0f)", name, len(g.Members), g.AvgGS),
			Value: mentionList(g.Members),
		})
	}
	if len(groups) == 0 {
		embed.Description = "Not enough registrations to form groups."
	}
	return embed
}

func mentionList(ids []string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = "<@" + id + ">"
	}
	return strings.Join(parts, " ")
}
