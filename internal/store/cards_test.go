package store

import (
	"strings"
	"testing"
	"time"

	"github.com/confidanthq/confidant/internal/card"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testClient(t *testing.T, db *DB) *Client {
	t.Helper()
	c, err := db.CreateClient("sam")
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	return c
}

func TestCreateClient(t *testing.T) {
	db := testDB(t)

	c := testClient(t, db)
	if c.RecoveryCode == "" {
		t.Error("recovery code should be generated")
	}

	got, err := db.GetClient(c.ID)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if got == nil || got.Name != "sam" {
		t.Errorf("got %+v", got)
	}

	missing, err := db.GetClient(9999)
	if err != nil {
		t.Fatalf("GetClient missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing client, got %+v", missing)
	}
}

func TestCreateCardAndGet(t *testing.T) {
	db := testDB(t)
	client := testClient(t, db)

	now := time.Now().UnixMilli()
	c := &Card{
		ClientID:          client.ID,
		Kind:              KindCharacter,
		Name:              "Maya",
		RelationshipType:  "friend",
		RelationshipLabel: "best friend",
		AutoUpdate:        true,
		Payload: card.New(map[string]card.Value{
			"personality": card.Str("loyal, a little chaotic"),
		}, card.SourceUser, now),
	}
	if err := db.CreateCard(c); err != nil {
		t.Fatalf("CreateCard: %v", err)
	}
	if c.ID == 0 {
		t.Fatal("expected id to be set")
	}

	got, err := db.GetCard(c.ID)
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if got.Name != "Maya" || !got.AutoUpdate || got.Pinned {
		t.Errorf("got %+v", got)
	}
	if got.Payload.Fields["personality"].Text != "loyal, a little chaotic" {
		t.Errorf("payload roundtrip failed: %+v", got.Payload.Fields)
	}
}

func TestOneSelfCardPerClient(t *testing.T) {
	db := testDB(t)
	client := testClient(t, db)

	first := &Card{ClientID: client.ID, Kind: KindSelf, AutoUpdate: true}
	if err := db.CreateCard(first); err != nil {
		t.Fatalf("first self card: %v", err)
	}

	second := &Card{ClientID: client.ID, Kind: KindSelf, AutoUpdate: true}
	if err := db.CreateCard(second); err == nil {
		t.Error("expected second self card to violate unique constraint")
	}

	// A different client can still have one
	other := testClient(t, db)
	third := &Card{ClientID: other.ID, Kind: KindSelf, AutoUpdate: true}
	if err := db.CreateCard(third); err != nil {
		t.Errorf("self card for other client: %v", err)
	}

	self, err := db.GetSelfCard(client.ID)
	if err != nil {
		t.Fatalf("GetSelfCard: %v", err)
	}
	if self == nil || self.ID != first.ID {
		t.Errorf("GetSelfCard = %+v, want id %d", self, first.ID)
	}
}

func TestListPinnedOrdering(t *testing.T) {
	db := testDB(t)
	client := testClient(t, db)
	sess, _ := db.StartSession(client.ID, 1)

	mkCard := func(name string, pinned bool) *Card {
		c := &Card{ClientID: client.ID, Kind: KindCharacter, Name: name, Pinned: pinned, AutoUpdate: true}
		if err := db.CreateCard(c); err != nil {
			t.Fatalf("CreateCard %s: %v", name, err)
		}
		return c
	}

	a := mkCard("Alpha", true)
	b := mkCard("Beta", true)
	mkCard("Gamma", false)

	// Self card must never appear in the pinned tier even when flagged
	self := &Card{ClientID: client.ID, Kind: KindSelf, Pinned: true, AutoUpdate: true}
	if err := db.CreateCard(self); err != nil {
		t.Fatalf("self card: %v", err)
	}

	// Mention Beta so it sorts first
	if err := db.LogMention(&Mention{ClientID: client.ID, SessionID: sess.ID, CardID: b.ID, CardKind: KindCharacter, MatchType: "name"}); err != nil {
		t.Fatalf("LogMention: %v", err)
	}

	pinned, err := db.ListPinned(client.ID)
	if err != nil {
		t.Fatalf("ListPinned: %v", err)
	}
	if len(pinned) != 2 {
		t.Fatalf("got %d pinned, want 2", len(pinned))
	}
	if pinned[0].ID != b.ID || pinned[1].ID != a.ID {
		t.Errorf("order = [%s %s], want [Beta Alpha]", pinned[0].Name, pinned[1].Name)
	}
}

func TestListRecentByMention(t *testing.T) {
	db := testDB(t)
	client := testClient(t, db)
	sess, _ := db.StartSession(client.ID, 1)

	var ids []int64
	for _, name := range []string{"One", "Two", "Three"} {
		c := &Card{ClientID: client.ID, Kind: KindCharacter, Name: name, AutoUpdate: true}
		if err := db.CreateCard(c); err != nil {
			t.Fatalf("CreateCard: %v", err)
		}
		ids = append(ids, c.ID)
	}

	// Never-mentioned cards are excluded entirely
	recent, err := db.ListRecentByMention(client.ID, 10, nil)
	if err != nil {
		t.Fatalf("ListRecentByMention: %v", err)
	}
	if len(recent) != 0 {
		t.Fatalf("got %d, want 0 before any mentions", len(recent))
	}

	for _, id := range ids[:2] {
		if err := db.LogMention(&Mention{ClientID: client.ID, SessionID: sess.ID, CardID: id, CardKind: KindCharacter, MatchType: "name"}); err != nil {
			t.Fatalf("LogMention: %v", err)
		}
	}

	recent, err = db.ListRecentByMention(client.ID, 10, []int64{ids[0]})
	if err != nil {
		t.Fatalf("ListRecentByMention: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != ids[1] {
		t.Errorf("got %+v, want only card Two", recent)
	}

	// Limit applies
	recent, err = db.ListRecentByMention(client.ID, 1, nil)
	if err != nil {
		t.Fatalf("ListRecentByMention limit: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("got %d, want 1", len(recent))
	}
}

func TestUserEditCard(t *testing.T) {
	db := testDB(t)
	client := testClient(t, db)

	now := time.Now().UnixMilli()
	c := &Card{
		ClientID:   client.ID,
		Kind:       KindCharacter,
		Name:       "Maya",
		AutoUpdate: true,
		Payload: card.New(map[string]card.Value{
			"personality": card.Str("guesswork"),
		}, card.SourceModel, now),
	}
	if err := db.CreateCard(c); err != nil {
		t.Fatalf("CreateCard: %v", err)
	}

	edited := card.New(map[string]card.Value{
		"personality": card.Str("actually very shy"),
	}, card.SourceUser, now)
	if err := db.UserEditCard(c.ID, edited); err != nil {
		t.Fatalf("UserEditCard: %v", err)
	}

	got, _ := db.GetCard(c.ID)
	if got.Payload.Fields["personality"].Text != "actually very shy" {
		t.Errorf("payload = %+v", got.Payload.Fields)
	}
	if got.Payload.Meta["personality"].Source != card.SourceUser {
		t.Error("edit must mark fields user-authored")
	}

	history, err := db.GetChangeHistory(c.ID, 10)
	if err != nil {
		t.Fatalf("GetChangeHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("got %d change records, want 1", len(history))
	}
	if history[0].Action != "edit" || history[0].ChangedBy != "user" {
		t.Errorf("record = %+v", history[0])
	}

	editAt, err := db.LastUserEdit(c.ID)
	if err != nil {
		t.Fatalf("LastUserEdit: %v", err)
	}
	if editAt == nil {
		t.Error("LastUserEdit should be set after an edit")
	}
}

func TestApplyChanges(t *testing.T) {
	db := testDB(t)
	client := testClient(t, db)
	sess, _ := db.StartSession(client.ID, 1)

	now := time.Now().UnixMilli()
	c1 := &Card{ClientID: client.ID, Kind: KindCharacter, Name: "Maya", AutoUpdate: true,
		Payload: card.New(map[string]card.Value{"traits": card.Strs("loyal")}, card.SourceModel, now)}
	c2 := &Card{ClientID: client.ID, Kind: KindCharacter, Name: "Ben", AutoUpdate: true,
		Payload: card.New(nil, card.SourceModel, now)}
	for _, c := range []*Card{c1, c2} {
		if err := db.CreateCard(c); err != nil {
			t.Fatalf("CreateCard: %v", err)
		}
	}

	c1.Payload.Merge("traits", card.Strs("funny"), card.SourceModel, now+1)
	c2.Payload.Merge("personality", card.Str("quiet"), card.SourceModel, now+1)

	changes := []CardChange{
		{
			CardID: c1.ID, SessionID: sess.ID, Payload: c1.Payload,
			OldFields: map[string]card.Value{"traits": card.Strs("loyal")},
			NewFields: map[string]card.Value{"traits": c1.Payload.Fields["traits"]},
		},
		{
			CardID: c2.ID, SessionID: sess.ID, Payload: c2.Payload,
			OldFields: map[string]card.Value{},
			NewFields: map[string]card.Value{"personality": card.Str("quiet")},
		},
	}
	if err := db.ApplyChanges(changes, now+1); err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}

	got, _ := db.GetCard(c1.ID)
	if got.Payload.Fields["traits"].String() != "loyal, funny" {
		t.Errorf("traits = %q", got.Payload.Fields["traits"].String())
	}

	// Exactly one change record per mutated card
	for _, id := range []int64{c1.ID, c2.ID} {
		history, err := db.GetChangeHistory(id, 10)
		if err != nil {
			t.Fatalf("GetChangeHistory: %v", err)
		}
		if len(history) != 1 {
			t.Fatalf("card %d: got %d records, want 1", id, len(history))
		}
		rec := history[0]
		if rec.Action != "auto_update" || rec.ChangedBy != "model" {
			t.Errorf("record = %+v", rec)
		}
		if rec.SessionID == nil || *rec.SessionID != sess.ID {
			t.Errorf("session id = %v, want %d", rec.SessionID, sess.ID)
		}
		if !strings.HasPrefix(rec.NewValue, "{") {
			t.Errorf("new value should be a JSON object keyed by field: %q", rec.NewValue)
		}
	}

	// Empty pass is a no-op
	if err := db.ApplyChanges(nil, now+2); err != nil {
		t.Fatalf("ApplyChanges empty: %v", err)
	}
}

func TestDeleteCard(t *testing.T) {
	db := testDB(t)
	client := testClient(t, db)
	sess, _ := db.StartSession(client.ID, 1)

	c := &Card{ClientID: client.ID, Kind: KindCharacter, Name: "Maya", AutoUpdate: true}
	if err := db.CreateCard(c); err != nil {
		t.Fatalf("CreateCard: %v", err)
	}
	if err := db.LogMention(&Mention{ClientID: client.ID, SessionID: sess.ID, CardID: c.ID, CardKind: KindCharacter, MatchType: "name"}); err != nil {
		t.Fatalf("LogMention: %v", err)
	}
	if err := db.UserEditCard(c.ID, card.New(map[string]card.Value{"mood": card.Str("fine")}, card.SourceUser, time.Now().UnixMilli())); err != nil {
		t.Fatalf("UserEditCard: %v", err)
	}

	if err := db.DeleteCard(c.ID); err != nil {
		t.Fatalf("DeleteCard: %v", err)
	}

	got, err := db.GetCard(c.ID)
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if got != nil {
		t.Error("card should be gone")
	}
	history, _ := db.GetChangeHistory(c.ID, 10)
	if len(history) != 0 {
		t.Errorf("audit trail should be removed, got %d records", len(history))
	}
	count, _ := db.CountMentions(client.ID)
	if count != 0 {
		t.Errorf("mentions should be removed, got %d", count)
	}
}

func TestSetPinnedAndAutoUpdate(t *testing.T) {
	db := testDB(t)
	client := testClient(t, db)

	c := &Card{ClientID: client.ID, Kind: KindCharacter, Name: "Maya", AutoUpdate: true}
	if err := db.CreateCard(c); err != nil {
		t.Fatalf("CreateCard: %v", err)
	}

	if err := db.SetPinned(c.ID, true); err != nil {
		t.Fatalf("SetPinned: %v", err)
	}
	if err := db.SetAutoUpdate(c.ID, false); err != nil {
		t.Fatalf("SetAutoUpdate: %v", err)
	}

	got, _ := db.GetCard(c.ID)
	if !got.Pinned || got.AutoUpdate {
		t.Errorf("got pinned=%v auto_update=%v", got.Pinned, got.AutoUpdate)
	}
}
