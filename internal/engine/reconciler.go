package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/confidanthq/confidant/internal/card"
	"github.com/confidanthq/confidant/internal/llm"
	"github.com/confidanthq/confidant/internal/store"
)

const reconcileRetries = 3

// updateBatch is the JSON structure the model returns for a reconciliation
// pass: a batch confidence and proposed per-card field changes.
type updateBatch struct {
	Confidence float64      `json:"confidence"`
	Updates    []cardUpdate `json:"updates"`
}

type cardUpdate struct {
	CardID int64         `json:"card_id"`
	Fields []fieldChange `json:"fields"`
}

type fieldChange struct {
	Field      string     `json:"field"`
	Value      card.Value `json:"value"`
	Reason     string     `json:"reason"`
	Confidence *float64   `json:"confidence"`
}

// Reconcile analyzes a transcript delta against the loaded cards and applies
// confidence-gated field updates. The batch is accepted only at confidence
// ≥ the batch threshold; within an accepted batch, a field applies only at
// ≥ the field threshold (fields without their own score inherit the batch
// score). Accepted field sets commit in a single transaction with one audit
// record per mutated card. Returns the number of cards that changed.
//
// Model failures degrade to a no-op: the chat turn must never block on
// reconciliation.
func (e *Engine) Reconcile(ctx context.Context, sessionID int64, loaded []store.Card, transcript []store.Message) (int, error) {
	start := time.Now()

	if len(transcript) == 0 || len(loaded) == 0 {
		return 0, nil
	}

	prompt := llm.ReconcilePrompt(cardSummaries(loaded), formatTranscript(transcript))

	batch, err := e.completeWithRetry(ctx, prompt)
	if err != nil {
		// Degraded, not failed: log to the metrics sink and no-op.
		e.logMetric("reconcile", time.Since(start), "degraded", err.Error(), sessionID, 0)
		return 0, nil
	}

	if batch.Confidence < e.Cfg.Reconciler.BatchConfidence {
		e.logMetric("reconcile", time.Since(start), "batch_rejected", "", sessionID, 0)
		return 0, nil
	}

	// The turn being analyzed: user edits newer than this block auto-update.
	newestTurn := transcript[0].CreatedAt
	for _, m := range transcript {
		if m.CreatedAt > newestTurn {
			newestTurn = m.CreatedAt
		}
	}

	byID := make(map[int64]*store.Card, len(loaded))
	for i := range loaded {
		byID[loaded[i].ID] = &loaded[i]
	}

	now := time.Now().UnixMilli()
	var changes []store.CardChange
	reconciled := map[int64]bool{}

	for _, upd := range batch.Updates {
		// Each card transitions at most once per pass.
		if reconciled[upd.CardID] {
			continue
		}
		reconciled[upd.CardID] = true

		c, ok := byID[upd.CardID]
		if !ok {
			log.Printf("reconcile: skipping unknown card %d", upd.CardID)
			continue
		}
		if !c.AutoUpdate {
			log.Printf("reconcile: skipping card %d — auto-update disabled", c.ID)
			continue
		}
		if edit := lastUserTouch(c.Payload); edit > newestTurn {
			log.Printf("reconcile: skipping card %d — user edit newer than transcript", c.ID)
			continue
		}

		oldFields := map[string]card.Value{}
		newFields := map[string]card.Value{}

		for _, fc := range upd.Fields {
			conf := batch.Confidence
			if fc.Confidence != nil {
				conf = *fc.Confidence
			}
			if conf < e.Cfg.Reconciler.FieldConfidence {
				continue
			}

			old, existed := c.Payload.Fields[fc.Field]
			if !c.Payload.Merge(fc.Field, fc.Value, card.SourceModel, now) {
				continue
			}
			if existed {
				oldFields[fc.Field] = old
			}
			newFields[fc.Field] = c.Payload.Fields[fc.Field]
		}

		if len(newFields) == 0 {
			continue
		}
		changes = append(changes, store.CardChange{
			CardID:    c.ID,
			SessionID: sessionID,
			Payload:   c.Payload,
			OldFields: oldFields,
			NewFields: newFields,
		})
	}

	if err := e.DB.ApplyChanges(changes, now); err != nil {
		e.logMetric("reconcile", time.Since(start), "error", err.Error(), sessionID, 0)
		return 0, err
	}

	e.logMetric("reconcile", time.Since(start), "success", "", sessionID, len(changes))
	return len(changes), nil
}

// ReconcileSession runs a reconciliation pass over a whole session: the
// client's self card plus every card mentioned during the session, against
// the full transcript.
func (e *Engine) ReconcileSession(ctx context.Context, sessionID int64) (int, error) {
	session, err := e.DB.GetSession(sessionID)
	if err != nil {
		return 0, err
	}
	if session == nil {
		return 0, fmt.Errorf("%w: unknown session %d", ErrInvalidInput, sessionID)
	}

	transcript, err := e.DB.ListMessages(sessionID)
	if err != nil {
		return 0, err
	}

	var loaded []store.Card
	seen := map[int64]bool{}

	if self, err := e.DB.GetSelfCard(session.ClientID); err != nil {
		return 0, err
	} else if self != nil {
		loaded = append(loaded, *self)
		seen[self.ID] = true
	}

	mentions, err := e.DB.ListSessionMentions(sessionID)
	if err != nil {
		return 0, err
	}
	for _, m := range mentions {
		if seen[m.CardID] {
			continue
		}
		seen[m.CardID] = true
		c, err := e.DB.GetCard(m.CardID)
		if err != nil {
			return 0, err
		}
		if c != nil {
			loaded = append(loaded, *c)
		}
	}

	return e.Reconcile(ctx, sessionID, loaded, transcript)
}

// completeWithRetry calls the model and parses its response, retrying
// malformed output with exponential backoff. No storage lock is held here.
func (e *Engine) completeWithRetry(ctx context.Context, prompt string) (*updateBatch, error) {
	if e.LLM == nil {
		return nil, fmt.Errorf("llm not configured")
	}

	var lastErr error
	for attempt := 0; attempt < reconcileRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * 500 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := e.LLM.Complete(ctx, prompt)
		if err != nil {
			lastErr = fmt.Errorf("llm completion: %w", err)
			continue
		}

		batch, err := parseBatch(resp.Content)
		if err != nil {
			lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
			continue
		}
		return batch, nil
	}
	return nil, lastErr
}

// parseBatch extracts the JSON update batch from a model response, which
// may be wrapped in markdown code fences or surrounding prose.
func parseBatch(content string) (*updateBatch, error) {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
		content = strings.TrimSpace(content)
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var batch updateBatch
	if err := json.Unmarshal([]byte(content[start:end+1]), &batch); err != nil {
		return nil, fmt.Errorf("unmarshal update batch: %w", err)
	}
	return &batch, nil
}

// lastUserTouch returns the newest user-sourced field timestamp in a
// payload, or 0 if the user has never edited it.
func lastUserTouch(p *card.Payload) int64 {
	var newest int64
	for _, m := range p.Meta {
		if m.Source == card.SourceUser && m.LastUpdated > newest {
			newest = m.LastUpdated
		}
	}
	return newest
}

// cardSummaries renders the loaded cards for the reconcile prompt.
func cardSummaries(cards []store.Card) string {
	now := time.Now().UnixMilli()
	var b strings.Builder
	for _, c := range cards {
		title := c.Name
		if title == "" {
			title = c.Kind
		}
		b.WriteString(fmt.Sprintf("%s card %q (card_id=%d):\n", c.Kind, title, c.ID))
		b.WriteString(c.Payload.Render(now))
		b.WriteString("\n")
	}
	return b.String()
}

func formatTranscript(msgs []store.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(fmt.Sprintf("%s: %s\n", m.Role, m.Content))
	}
	return b.String()
}

func (e *Engine) logMetric(op string, d time.Duration, status, errMsg string, sessionID int64, updated int) {
	meta := map[string]any{"session_id": sessionID}
	if updated > 0 {
		meta["cards_updated"] = updated
	}
	if err := e.DB.LogMetric(op, d, status, errMsg, meta); err != nil {
		log.Printf("metric %s: %v", op, err)
	}
}
