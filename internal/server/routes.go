package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/confidanthq/confidant/internal/card"
	"github.com/confidanthq/confidant/internal/detect"
	"github.com/confidanthq/confidant/internal/engine"
	"github.com/confidanthq/confidant/internal/store"
)

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, `{"error":"name required"}`, http.StatusBadRequest)
		return
	}

	client, err := s.db.CreateClient(req.Name)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"id":            client.ID,
		"name":          client.Name,
		"recovery_code": client.RecoveryCode,
	})
}

func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(w, r, "clientID")
	if !ok {
		return
	}

	var req struct {
		Kind              string                `json:"kind"`
		Name              string                `json:"name"`
		EntityKey         string                `json:"entity_key"`
		RelationshipType  string                `json:"relationship_type"`
		RelationshipLabel string                `json:"relationship_label"`
		EventType         string                `json:"event_type"`
		Pinned            bool                  `json:"pinned"`
		AutoUpdate        *bool                 `json:"auto_update"`
		Fields            map[string]card.Value `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	switch req.Kind {
	case store.KindSelf, store.KindCharacter, store.KindWorldEvent:
	default:
		http.Error(w, `{"error":"kind must be self, character, or world_event"}`, http.StatusBadRequest)
		return
	}
	if req.Kind != store.KindSelf && req.Name == "" {
		http.Error(w, `{"error":"name required"}`, http.StatusBadRequest)
		return
	}

	// Auto-update defaults on; card curation is opt-out.
	autoUpdate := true
	if req.AutoUpdate != nil {
		autoUpdate = *req.AutoUpdate
	}

	c := &store.Card{
		ClientID:          clientID,
		Kind:              req.Kind,
		Name:              req.Name,
		EntityKey:         req.EntityKey,
		RelationshipType:  req.RelationshipType,
		RelationshipLabel: req.RelationshipLabel,
		EventType:         req.EventType,
		Pinned:            req.Pinned,
		AutoUpdate:        autoUpdate,
		Payload:           card.New(req.Fields, card.SourceUser, time.Now().UnixMilli()),
	}
	if err := s.db.CreateCard(c); err != nil {
		// The one-self-per-client constraint surfaces here.
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(cardJSON(*c))
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(w, r, "clientID")
	if !ok {
		return
	}

	kinds := []string{store.KindSelf, store.KindCharacter, store.KindWorldEvent}
	if k := r.URL.Query().Get("kind"); k != "" {
		kinds = []string{k}
	}

	var out []map[string]any
	for _, kind := range kinds {
		cards, err := s.db.ListByKind(clientID, kind)
		if err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
			return
		}
		for _, c := range cards {
			out = append(out, cardJSON(c))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"count": len(out),
		"cards": out,
	})
}

// handleEditCard replaces a card's fields on behalf of the user. Every field
// becomes user-authored, which blocks auto-updates until the next edit.
func (s *Server) handleEditCard(w http.ResponseWriter, r *http.Request) {
	cardID, ok := pathID(w, r, "cardID")
	if !ok {
		return
	}

	var req struct {
		Fields map[string]card.Value `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if len(req.Fields) == 0 {
		http.Error(w, `{"error":"fields required"}`, http.StatusBadRequest)
		return
	}

	existing, err := s.db.GetCard(cardID)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if existing == nil {
		http.Error(w, `{"error":"card not found"}`, http.StatusNotFound)
		return
	}

	// Edits replace the field set wholesale but keep narrative history.
	p := existing.Payload
	for name := range p.Fields {
		if _, kept := req.Fields[name]; !kept {
			delete(p.Fields, name)
			delete(p.Meta, name)
		}
	}
	now := time.Now().UnixMilli()
	for name, v := range req.Fields {
		p.Merge(name, v, card.SourceUser, now)
	}

	if err := s.db.UserEditCard(cardID, p); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	updated, err := s.db.GetCard(cardID)
	if err != nil || updated == nil {
		http.Error(w, `{"error":"reload after edit failed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cardJSON(*updated))
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	s.setPin(w, r, true)
}

func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request) {
	s.setPin(w, r, false)
}

func (s *Server) setPin(w http.ResponseWriter, r *http.Request, pinned bool) {
	cardID, ok := pathID(w, r, "cardID")
	if !ok {
		return
	}
	if err := s.db.SetPinned(cardID, pinned); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"id": cardID, "pinned": pinned})
}

func (s *Server) handleAutoUpdate(w http.ResponseWriter, r *http.Request) {
	cardID, ok := pathID(w, r, "cardID")
	if !ok {
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	if err := s.db.SetAutoUpdate(cardID, req.Enabled); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"id": cardID, "auto_update": req.Enabled})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	cardID, ok := pathID(w, r, "cardID")
	if !ok {
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.db.GetChangeHistory(cardID, limit)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, len(records))
	for i, rec := range records {
		entry := map[string]any{
			"id":         rec.ID,
			"action":     rec.Action,
			"old_value":  json.RawMessage(orNull(rec.OldValue)),
			"new_value":  json.RawMessage(orNull(rec.NewValue)),
			"changed_by": rec.ChangedBy,
			"changed_at": rec.ChangedAt,
		}
		if rec.SessionID != nil {
			entry["session_id"] = *rec.SessionID
		}
		out[i] = entry
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"card_id": cardID,
		"count":   len(out),
		"changes": out,
	})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID    int64 `json:"client_id"`
		CounselorID int64 `json:"counselor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	client, err := s.db.GetClient(req.ClientID)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if client == nil {
		http.Error(w, `{"error":"unknown client"}`, http.StatusBadRequest)
		return
	}

	sess, err := s.db.StartSession(req.ClientID, req.CounselorID)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"id":             sess.ID,
		"client_id":      sess.ClientID,
		"counselor_id":   sess.CounselorID,
		"session_number": sess.SessionNumber,
		"started_at":     sess.StartedAt,
	})
}

// handleAddMessage stores a transcript turn and runs entity detection over
// it, logging a mention for every card the turn references.
func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r, "sessionID")
	if !ok {
		return
	}

	var req struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Role != "user" && req.Role != "assistant" {
		http.Error(w, `{"error":"role must be user or assistant"}`, http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, `{"error":"content required"}`, http.StatusBadRequest)
		return
	}

	sess, err := s.db.GetSession(sessionID)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if sess == nil {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}

	msg, err := s.db.AddMessage(sessionID, req.Role, req.Content)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	matches := s.detectMentions(sess, req.Content)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"id":         msg.ID,
		"created_at": msg.CreatedAt,
		"mentions":   matches,
	})
}

// detectMentions runs entity detection for one turn. Detection failures
// degrade to an empty match set — a missed mention must never drop a turn.
func (s *Server) detectMentions(sess *store.Session, content string) []map[string]any {
	characters, err := s.db.ListByKind(sess.ClientID, store.KindCharacter)
	if err != nil {
		log.Printf("detect: list characters: %v", err)
		return []map[string]any{}
	}
	events, err := s.db.ListByKind(sess.ClientID, store.KindWorldEvent)
	if err != nil {
		log.Printf("detect: list events: %v", err)
		return []map[string]any{}
	}

	out := []map[string]any{}
	for _, m := range detect.Detect(content, characters, events) {
		mention := &store.Mention{
			ClientID:       sess.ClientID,
			SessionID:      sess.ID,
			CardID:         m.CardID,
			CardKind:       m.CardKind,
			MatchType:      m.MatchType,
			MentionContext: snippet(content, 200),
		}
		if err := s.db.LogMention(mention); err != nil {
			log.Printf("detect: log mention for card %d: %v", m.CardID, err)
			continue
		}
		out = append(out, map[string]any{
			"card_id":    m.CardID,
			"card_kind":  m.CardKind,
			"match_type": m.MatchType,
		})
	}
	return out
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r, "sessionID")
	if !ok {
		return
	}

	sess, err := s.db.GetSession(sessionID)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if sess == nil {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}

	if err := s.db.EndSession(sessionID); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	// Reconcile asynchronously; the turn never blocks on the model.
	s.reconcileAsync(sessionID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ended"})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r, "sessionID")
	if !ok {
		return
	}

	sess, err := s.db.GetSession(sessionID)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if sess == nil {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}

	s.reconcileAsync(sessionID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "reconciling"})
}

func (s *Server) reconcileAsync(sessionID int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
		defer cancel()
		if n, err := s.engine.ReconcileSession(ctx, sessionID); err != nil {
			log.Printf("reconcile session %d: %v", sessionID, err)
		} else if n > 0 {
			log.Printf("reconcile session %d: updated %d cards", sessionID, n)
		}
	}()
}

// handleGetContext assembles the card set for the next prompt. Bad input is
// a 400; storage trouble degrades to an empty context so the chat turn can
// proceed without memory rather than fail.
func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	clientID, err := strconv.ParseInt(r.URL.Query().Get("client_id"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"client_id required"}`, http.StatusBadRequest)
		return
	}
	sessionID, err := strconv.ParseInt(r.URL.Query().Get("session_id"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"session_id required"}`, http.StatusBadRequest)
		return
	}

	cc, err := s.engine.Assemble(r.Context(), clientID, sessionID)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidInput) {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
			return
		}
		log.Printf("assemble context for client %d session %d: %v", clientID, sessionID, err)
		cc = &engine.Context{}
	}

	cards := make([]map[string]any, len(cc.Cards))
	for i, c := range cc.Cards {
		cards[i] = cardJSON(c)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"total_count": cc.TotalCount,
		"cards":       cards,
		"prompt":      cc.Render(),
		"tiers": map[string]int{
			"self":             boolCount(cc.Self != nil),
			"pinned":           len(cc.Pinned),
			"current_mentions": len(cc.CurrentMentions),
			"recent":           len(cc.Recent),
		},
	})
}

func cardJSON(c store.Card) map[string]any {
	out := map[string]any{
		"id":            c.ID,
		"client_id":     c.ClientID,
		"kind":          c.Kind,
		"name":          c.Name,
		"pinned":        c.Pinned,
		"auto_update":   c.AutoUpdate,
		"mention_count": c.MentionCount,
		"fields":        c.Payload.Fields,
		"created_at":    c.CreatedAt,
		"updated_at":    c.UpdatedAt,
	}
	if c.EntityKey != "" {
		out["entity_key"] = c.EntityKey
	}
	if c.RelationshipType != "" {
		out["relationship_type"] = c.RelationshipType
	}
	if c.RelationshipLabel != "" {
		out["relationship_label"] = c.RelationshipLabel
	}
	if c.EventType != "" {
		out["event_type"] = c.EventType
	}
	if c.FirstMentioned != nil {
		out["first_mentioned"] = *c.FirstMentioned
	}
	if c.LastMentioned != nil {
		out["last_mentioned"] = *c.LastMentioned
	}
	return out
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, `{"error":"invalid `+name+`"}`, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func orNull(s string) string {
	if s == "" {
		return "null"
	}
	return s
}

func boolCount(b bool) int {
	if b {
		return 1
	}
	return 0
}
