package store

import (
	"testing"
	"time"
)

func TestStartSessionNumbering(t *testing.T) {
	db := testDB(t)
	client := testClient(t, db)

	s1, err := db.StartSession(client.ID, 1)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	s2, err := db.StartSession(client.ID, 1)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if s1.SessionNumber != 1 || s2.SessionNumber != 2 {
		t.Errorf("numbers = %d, %d; want 1, 2", s1.SessionNumber, s2.SessionNumber)
	}

	// A different counselor gets its own sequence
	s3, err := db.StartSession(client.ID, 2)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if s3.SessionNumber != 1 {
		t.Errorf("new pair number = %d, want 1", s3.SessionNumber)
	}
}

func TestGetSessionMissing(t *testing.T) {
	db := testDB(t)

	s, err := db.GetSession(42)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s != nil {
		t.Errorf("expected nil for missing session, got %+v", s)
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	db := testDB(t)
	client := testClient(t, db)
	sess, _ := db.StartSession(client.ID, 1)

	if err := db.EndSession(sess.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	got, _ := db.GetSession(sess.ID)
	if got.EndedAt == nil {
		t.Fatal("EndedAt should be set")
	}
	first := *got.EndedAt

	// Ending again must not move the timestamp
	time.Sleep(5 * time.Millisecond)
	if err := db.EndSession(sess.ID); err != nil {
		t.Fatalf("EndSession again: %v", err)
	}
	got, _ = db.GetSession(sess.ID)
	if *got.EndedAt != first {
		t.Errorf("EndedAt moved from %d to %d", first, *got.EndedAt)
	}
}

func TestCloseStaleSessions(t *testing.T) {
	db := testDB(t)
	client := testClient(t, db)
	sess, _ := db.StartSession(client.ID, 1)

	// Cutoff in the future closes the open session
	n, err := db.CloseStaleSessions(time.Now().Add(time.Hour).UnixMilli())
	if err != nil {
		t.Fatalf("CloseStaleSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("closed %d, want 1", n)
	}

	got, _ := db.GetSession(sess.ID)
	if got.EndedAt == nil {
		t.Error("stale session should be closed")
	}

	// Nothing left to close
	n, err = db.CloseStaleSessions(time.Now().Add(time.Hour).UnixMilli())
	if err != nil {
		t.Fatalf("CloseStaleSessions: %v", err)
	}
	if n != 0 {
		t.Errorf("closed %d, want 0", n)
	}
}

func TestMessages(t *testing.T) {
	db := testDB(t)
	client := testClient(t, db)
	sess, _ := db.StartSession(client.ID, 1)

	m1, err := db.AddMessage(sess.ID, "user", "I saw my mom today")
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if _, err := db.AddMessage(sess.ID, "assistant", "How did that go?"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	msgs, err := db.ListMessages(sess.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("order = [%s %s]", msgs[0].Role, msgs[1].Role)
	}

	after, err := db.ListMessagesAfter(sess.ID, m1.CreatedAt)
	if err != nil {
		t.Fatalf("ListMessagesAfter: %v", err)
	}
	for _, m := range after {
		if m.ID == m1.ID {
			t.Error("delta should exclude messages at or before the cutoff")
		}
	}
}
