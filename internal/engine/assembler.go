package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/confidanthq/confidant/internal/store"
)

// Context is the ordered, deduplicated card set assembled for one turn,
// with the tier breakdown retained for observability.
type Context struct {
	Self            *store.Card
	Pinned          []store.Card
	CurrentMentions []store.Card
	Recent          []store.Card

	// Cards is the final injection order: self, pinned, current-session
	// mentions, recent. A card appearing in an earlier tier never repeats.
	Cards      []store.Card
	TotalCount int
}

// Assemble produces the card set to inject into the next prompt for a
// client's active session. Tiers, in order:
//
//  1. the client's self card, if one exists
//  2. pinned character/world-event cards, most recently mentioned first
//  3. cards mentioned in the current session
//  4. up to RecentLimit additional cards by most recent mention
//
// Deduplication is cumulative across tiers; placement follows the earliest
// tier. The operation is read-only and never touches recency metadata.
func (e *Engine) Assemble(ctx context.Context, clientID, sessionID int64) (*Context, error) {
	client, err := e.DB.GetClient(clientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("%w: unknown client %d", ErrInvalidInput, clientID)
	}
	session, err := e.DB.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.ClientID != clientID {
		return nil, fmt.Errorf("%w: unknown session %d for client %d", ErrInvalidInput, sessionID, clientID)
	}

	out := &Context{}
	seen := map[int64]bool{}

	// Tier 1: self card. A client without one contributes nothing here.
	self, err := e.DB.GetSelfCard(clientID)
	if err != nil {
		return nil, err
	}
	if self != nil {
		out.Self = self
		out.Cards = append(out.Cards, *self)
		seen[self.ID] = true
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Tier 2: pinned cards.
	pinned, err := e.DB.ListPinned(clientID)
	if err != nil {
		return nil, err
	}
	for _, c := range pinned {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out.Pinned = append(out.Pinned, c)
		out.Cards = append(out.Cards, c)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Tier 3: cards mentioned in the current session.
	mentions, err := e.DB.ListSessionMentions(sessionID)
	if err != nil {
		return nil, err
	}
	for _, m := range mentions {
		if seen[m.CardID] {
			continue
		}
		c, err := e.DB.GetCard(m.CardID)
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue // card deleted after the mention was logged
		}
		seen[c.ID] = true
		out.CurrentMentions = append(out.CurrentMentions, *c)
		out.Cards = append(out.Cards, *c)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Tier 4: recent cards, bounded by the recency window.
	exclude := make([]int64, 0, len(seen))
	for id := range seen {
		exclude = append(exclude, id)
	}
	recent, err := e.DB.ListRecentByMention(clientID, e.Cfg.Context.RecentLimit, exclude)
	if err != nil {
		return nil, err
	}
	for _, c := range recent {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out.Recent = append(out.Recent, c)
		out.Cards = append(out.Cards, c)
	}

	out.TotalCount = len(out.Cards)
	return out, nil
}

// Render formats an assembled context as the prompt block handed to the
// model, with field recency indicators.
func (c *Context) Render() string {
	now := time.Now().UnixMilli()
	var b strings.Builder

	b.WriteString("<memory>\n")
	if c.Self != nil {
		b.WriteString("## About the client\n")
		b.WriteString(c.Self.Payload.Render(now))
	}

	writeCards := func(heading string, cards []store.Card) {
		if len(cards) == 0 {
			return
		}
		b.WriteString(heading)
		for _, card := range cards {
			b.WriteString(fmt.Sprintf("### %s\n", cardTitle(card)))
			b.WriteString(card.Payload.Render(now))
		}
	}

	writeCards("## Always remember\n", c.Pinned)
	writeCards("## Discussed this session\n", c.CurrentMentions)
	writeCards("## Recently discussed\n", c.Recent)
	b.WriteString("</memory>")
	return b.String()
}

func cardTitle(c store.Card) string {
	if c.Kind == store.KindCharacter && c.RelationshipLabel != "" {
		return fmt.Sprintf("%s (%s)", c.Name, c.RelationshipLabel)
	}
	return c.Name
}
