package store

import (
	"testing"
)

func TestLogMentionBumpsRecency(t *testing.T) {
	db := testDB(t)
	client := testClient(t, db)
	sess, _ := db.StartSession(client.ID, 1)

	c := &Card{ClientID: client.ID, Kind: KindCharacter, Name: "Maya", AutoUpdate: true}
	if err := db.CreateCard(c); err != nil {
		t.Fatalf("CreateCard: %v", err)
	}

	got, _ := db.GetCard(c.ID)
	if got.MentionCount != 0 || got.FirstMentioned != nil {
		t.Fatalf("fresh card has recency metadata: %+v", got)
	}

	m := &Mention{ClientID: client.ID, SessionID: sess.ID, CardID: c.ID,
		CardKind: KindCharacter, MatchType: "name", MentionContext: "talked about Maya"}
	if err := db.LogMention(m); err != nil {
		t.Fatalf("LogMention: %v", err)
	}
	if m.ID == 0 || m.MentionedAt == 0 {
		t.Errorf("mention not populated: %+v", m)
	}

	got, _ = db.GetCard(c.ID)
	if got.MentionCount != 1 {
		t.Errorf("MentionCount = %d, want 1", got.MentionCount)
	}
	if got.FirstMentioned == nil || got.LastMentioned == nil {
		t.Fatal("mention timestamps should be set")
	}
	first := *got.FirstMentioned

	// Second mention bumps last_mentioned but keeps first_mentioned
	if err := db.LogMention(&Mention{ClientID: client.ID, SessionID: sess.ID, CardID: c.ID,
		CardKind: KindCharacter, MatchType: "label"}); err != nil {
		t.Fatalf("LogMention: %v", err)
	}
	got, _ = db.GetCard(c.ID)
	if got.MentionCount != 2 {
		t.Errorf("MentionCount = %d, want 2", got.MentionCount)
	}
	if *got.FirstMentioned != first {
		t.Errorf("first_mentioned moved from %d to %d", first, *got.FirstMentioned)
	}
}

func TestListSessionMentions(t *testing.T) {
	db := testDB(t)
	client := testClient(t, db)
	s1, _ := db.StartSession(client.ID, 1)
	s2, _ := db.StartSession(client.ID, 1)

	c := &Card{ClientID: client.ID, Kind: KindCharacter, Name: "Maya", AutoUpdate: true}
	if err := db.CreateCard(c); err != nil {
		t.Fatalf("CreateCard: %v", err)
	}

	db.LogMention(&Mention{ClientID: client.ID, SessionID: s1.ID, CardID: c.ID, CardKind: KindCharacter, MatchType: "name"})
	db.LogMention(&Mention{ClientID: client.ID, SessionID: s2.ID, CardID: c.ID, CardKind: KindCharacter, MatchType: "name"})

	mentions, err := db.ListSessionMentions(s1.ID)
	if err != nil {
		t.Fatalf("ListSessionMentions: %v", err)
	}
	if len(mentions) != 1 {
		t.Fatalf("got %d mentions for session 1, want 1", len(mentions))
	}
	if mentions[0].SessionID != s1.ID {
		t.Errorf("mention session = %d, want %d", mentions[0].SessionID, s1.ID)
	}

	count, err := db.CountMentions(client.ID)
	if err != nil {
		t.Fatalf("CountMentions: %v", err)
	}
	if count != 2 {
		t.Errorf("CountMentions = %d, want 2", count)
	}
}
