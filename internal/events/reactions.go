package events

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/guildtools/herald/internal/herr"
	"github.com/guildtools/herald/internal/types"
)

// hintKey identifies one suppressed removal echo.
func hintKey(eventID, userID, emoji string) string {
	return eventID + ":" + userID + ":" + emoji
}

// HandleReactionAdd applies one reaction-add to the registration book.
// Unknown emoji are ignored. The three markers are exclusive: assigning
// one removes the user from the other two, and the platform-side
// removal of those reactions is hinted so its echo does not bounce the
// book again. The store write commits before the embed edit.
func (lc *Lifecycle) HandleReactionAdd(ctx context.Context, guildID, channelID, messageID, userID, emoji string) error {
	marker, ok := markerFor(emoji)
	if !ok {
		return nil
	}

	unlock := lc.lockEvent(messageID)
	defer unlock()

	e, err := lc.loader.Event(ctx, guildID, messageID)
	if err != nil {
		if errors.Is(err, herr.ErrNotFound) {
			return nil // reaction on a non-event message
		}
		return err
	}
	if e.Status == types.StatusClosed || e.Status == types.StatusCanceled {
		return nil
	}

	book := e.Book.Clone()
	removedFrom := book.Assign(userID, marker)

	next, err := lc.persistBook(ctx, e, book)
	if err != nil {
		return err
	}

	// Mirror the exclusivity on the platform: pull the user's other
	// marker reactions, hinting each so the remove echo is swallowed.
	for _, other := range removedFrom {
		otherEmoji := emojiFor(other)
		lc.hints.Add(hintKey(messageID, userID, otherEmoji), struct{}{})
		if err := lc.api.RemoveReaction(ctx, channelID, messageID, otherEmoji, userID); err != nil {
			lc.log.Warn("clearing superseded reaction",
				zap.String("event", messageID), zap.String("user", userID), zap.Error(err))
		}
	}

	lc.editEmbed(ctx, channelID, next)
	return nil
}

// HandleReactionRemove applies one user-initiated reaction removal.
// Removals echoing our own exclusivity cleanup are consumed from the
// hint map and ignored; removals on a Closed event are ignored, the
// book is frozen.
func (lc *Lifecycle) HandleReactionRemove(ctx context.Context, guildID, channelID, messageID, userID, emoji string) error {
	marker, ok := markerFor(emoji)
	if !ok {
		return nil
	}
	unlock := lc.lockEvent(messageID)
	defer unlock()

	// Consumed under the event lock so a hint added by a concurrent
	// exclusivity cleanup is never missed.
	if lc.hints.Remove(hintKey(messageID, userID, emoji)) {
		return nil
	}

	e, err := lc.loader.Event(ctx, guildID, messageID)
	if err != nil {
		if errors.Is(err, herr.ErrNotFound) {
			return nil
		}
		return err
	}
	if e.Status == types.StatusClosed || e.Status == types.StatusCanceled {
		return nil
	}

	book := e.Book.Clone()
	if !book.Remove(userID, marker) {
		return nil
	}

	next, err := lc.persistBook(ctx, e, book)
	if err != nil {
		return err
	}
	lc.editEmbed(ctx, channelID, next)
	return nil
}

// editEmbed refreshes the announcement in place. Best effort: a failed
// edit never rolls back the committed book.
func (lc *Lifecycle) editEmbed(ctx context.Context, channelID string, e *types.EventRecord) {
	if err := lc.api.EditEmbed(ctx, channelID, e.EventID, Render(e, lc.loc)); err != nil {
		lc.log.Warn("event embed edit failed",
			zap.String("event", e.EventID), zap.Error(err))
	}
}
