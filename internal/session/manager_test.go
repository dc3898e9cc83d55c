package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Compile-time check that Manager satisfies the store contract
var _ interfaces.SessionStore = (*Manager)(nil)

func TestManager_CreateSessionBasicBehavior(t *testing.T) {
	manager := NewManager()

	view := manager.CreateSession("fac-1", "Design Review", []string{"claude", "gpt"})

	if view.ID == "" {
		t.Error("Session ID should be generated")
	}
	if view.Name != "Design Review" {
		t.Errorf("Expected name 'Design Review', got '%s'", view.Name)
	}
	if view.FacilitatorID != "fac-1" {
		t.Errorf("Expected facilitator 'fac-1', got '%s'", view.FacilitatorID)
	}
	if view.Status != types.SessionActive {
		t.Errorf("Expected status active, got '%s'", view.Status)
	}
	if len(view.Participants) != 0 || view.MessageCount != 0 || view.MediaCount != 0 {
		t.Errorf("New session should be empty: %+v", view)
	}
	if view.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestManager_CreateSessionUniqueIDs(t *testing.T) {
	manager := NewManager()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		view := manager.CreateSession("fac", fmt.Sprintf("s%d", i), nil)
		if seen[view.ID] {
			t.Fatalf("Duplicate session id %s", view.ID)
		}
		seen[view.ID] = true
	}
}

func TestManager_CreateSessionCopiesPlatforms(t *testing.T) {
	manager := NewManager()
	platforms := []string{"claude"}
	view := manager.CreateSession("fac", "s", platforms)
	platforms[0] = "mutated"

	got, err := manager.GetSession(view.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.AIPlatforms[0] != "claude" {
		t.Errorf("Store should not alias the caller's slice, got %v", got.AIPlatforms)
	}
}

func TestManager_UnknownSession(t *testing.T) {
	manager := NewManager()

	if _, err := manager.GetSession("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("GetSession error = %v, want ErrSessionNotFound", err)
	}
	if _, err := manager.AddParticipant("missing", types.Participant{ID: "a"}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("AddParticipant error = %v, want ErrSessionNotFound", err)
	}
	if err := manager.AppendMessage("missing", &types.ChatMessage{}); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("AppendMessage error = %v, want ErrSessionNotFound", err)
	}
	if err := manager.CloseSession("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("CloseSession error = %v, want ErrSessionNotFound", err)
	}
}

// FUNCTIONAL VALIDATION TEST: the participant set equals joins minus leaves,
// keyed by participant id
func TestManager_ParticipantSetFollowsJoinsAndLeaves(t *testing.T) {
	manager := NewManager()
	view := manager.CreateSession("fac", "s", nil)

	for _, id := range []string{"a", "b", "c"} {
		if _, err := manager.AddParticipant(view.ID, types.Participant{ID: id, Name: id, Role: types.RoleParticipant}); err != nil {
			t.Fatalf("AddParticipant(%s) failed: %v", id, err)
		}
	}
	if removed, err := manager.RemoveParticipant(view.ID, "b"); err != nil || !removed {
		t.Fatalf("RemoveParticipant(b) = %v, %v", removed, err)
	}

	snap, _ := manager.Snapshot(view.ID)
	ids := map[string]bool{}
	for _, p := range snap.Participants {
		ids[p.ID] = true
	}
	if len(ids) != 2 || !ids["a"] || !ids["c"] {
		t.Errorf("Expected participants {a, c}, got %v", snap.ParticipantIDs())
	}
}

func TestManager_AddParticipantLastJoinWins(t *testing.T) {
	manager := NewManager()
	view := manager.CreateSession("fac", "s", nil)

	replaced, err := manager.AddParticipant(view.ID, types.Participant{ID: "a", Name: "First", ConnectionID: "c1"})
	if err != nil || replaced != nil {
		t.Fatalf("first join: replaced=%v err=%v", replaced, err)
	}

	replaced, err = manager.AddParticipant(view.ID, types.Participant{ID: "a", Name: "Second", ConnectionID: "c2"})
	if err != nil {
		t.Fatalf("second join failed: %v", err)
	}
	if replaced == nil || replaced.ConnectionID != "c1" {
		t.Errorf("Expected replaced entry bound to c1, got %+v", replaced)
	}

	snap, _ := manager.Snapshot(view.ID)
	if len(snap.Participants) != 1 {
		t.Fatalf("Expected exactly one entry for id a, got %d", len(snap.Participants))
	}
	if snap.Participants[0].Name != "Second" {
		t.Errorf("Expected latest join to win, got %s", snap.Participants[0].Name)
	}
	if snap.Participants[0].Status != types.PresenceActive {
		t.Errorf("Default presence should be active, got %s", snap.Participants[0].Status)
	}
}

func TestManager_RemoveParticipantIdempotent(t *testing.T) {
	manager := NewManager()
	view := manager.CreateSession("fac", "s", nil)
	manager.AddParticipant(view.ID, types.Participant{ID: "a"})

	if removed, _ := manager.RemoveParticipant(view.ID, "a"); !removed {
		t.Error("First remove should report removal")
	}
	removed, err := manager.RemoveParticipant(view.ID, "a")
	if err != nil {
		t.Errorf("Second remove should not fail: %v", err)
	}
	if removed {
		t.Error("Second remove should be a no-op")
	}
}

func TestManager_AttachDerivativesOnce(t *testing.T) {
	manager := NewManager()
	view := manager.CreateSession("fac", "s", nil)
	manager.AppendMedia(view.ID, &types.MediaItem{ID: "m1", Status: types.MediaRaw})

	if err := manager.AttachDerivatives(view.ID, "m1", map[string]interface{}{"thumbnail": "t"}); err != nil {
		t.Fatalf("AttachDerivatives failed: %v", err)
	}
	err := manager.AttachDerivatives(view.ID, "m1", map[string]interface{}{"thumbnail": "u"})
	if !errors.Is(err, ErrMediaAlreadyProcessed) {
		t.Errorf("Second attach error = %v, want ErrMediaAlreadyProcessed", err)
	}
	if err := manager.AttachDerivatives(view.ID, "nope", nil); !errors.Is(err, ErrMediaNotFound) {
		t.Errorf("Unknown media error = %v, want ErrMediaNotFound", err)
	}

	manager.Update(view.ID, func(s *types.Session) error {
		item := s.Media[0]
		if item.Status != types.MediaProcessed || item.Derivatives["thumbnail"] != "t" {
			t.Errorf("Unexpected media state: %+v", item)
		}
		return nil
	})
}

func TestManager_FinalizedMediaStaysRaw(t *testing.T) {
	manager := NewManager()
	view := manager.CreateSession("fac", "s", nil)
	manager.AppendMedia(view.ID, &types.MediaItem{ID: "m1", Status: types.MediaRaw})

	manager.Update(view.ID, func(s *types.Session) error {
		_, err := FinalizeMedia(s, "m1")
		return err
	})

	err := manager.AttachDerivatives(view.ID, "m1", map[string]interface{}{"late": 1})
	if !errors.Is(err, ErrMediaFinalized) {
		t.Errorf("Attach after finalize = %v, want ErrMediaFinalized", err)
	}
	manager.Update(view.ID, func(s *types.Session) error {
		if item := s.Media[0]; item.Status != types.MediaRaw || item.Derivatives != nil {
			t.Errorf("Finalized item was mutated: %+v", item)
		}
		return nil
	})

	if err := manager.Update(view.ID, func(s *types.Session) error {
		_, err := FinalizeMedia(s, "nope")
		return err
	}); !errors.Is(err, ErrMediaNotFound) {
		t.Errorf("Finalize unknown media = %v, want ErrMediaNotFound", err)
	}
}

func TestManager_HistoryLimit(t *testing.T) {
	manager := NewManager()
	view := manager.CreateSession("fac", "s", nil)
	for i := 0; i < 5; i++ {
		manager.AppendMessage(view.ID, &types.ChatMessage{ID: fmt.Sprintf("m%d", i)})
	}

	all, _ := manager.History(view.ID, 0)
	if len(all) != 5 {
		t.Errorf("Expected full history, got %d", len(all))
	}

	recent, _ := manager.History(view.ID, 2)
	if len(recent) != 2 || recent[0].ID != "m3" || recent[1].ID != "m4" {
		t.Errorf("Expected [m3 m4], got %+v", recent)
	}
}

func TestManager_CloseSession(t *testing.T) {
	manager := NewManager()
	view := manager.CreateSession("fac", "s", nil)

	if err := manager.CloseSession(view.ID); err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}
	if err := manager.CloseSession(view.ID); !errors.Is(err, ErrSessionAlreadyClosed) {
		t.Errorf("Second close error = %v, want ErrSessionAlreadyClosed", err)
	}
	snap, _ := manager.Snapshot(view.ID)
	if snap.Status != types.SessionClosed {
		t.Errorf("Expected closed status, got %s", snap.Status)
	}
}

func TestManager_ListSessionsAndStats(t *testing.T) {
	manager := NewManager()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	manager.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	first := manager.CreateSession("fac", "first", nil)
	second := manager.CreateSession("fac", "second", nil)
	manager.AddParticipant(first.ID, types.Participant{ID: "a"})
	manager.AddParticipant(second.ID, types.Participant{ID: "b"})
	manager.AddParticipant(second.ID, types.Participant{ID: "c"})
	manager.CloseSession(first.ID)

	list := manager.ListSessions()
	if len(list) != 2 || list[0].ID != second.ID {
		t.Errorf("Expected newest session first, got %v", list)
	}

	stats := manager.Stats()
	if stats["sessions"] != 2 || stats["active_sessions"] != 1 || stats["participants"] != 3 {
		t.Errorf("Unexpected stats: %v", stats)
	}
}

// ARCHITECTURAL VALIDATION TEST: concurrent appends to one session keep every
// message exactly once, and appends to other sessions never interleave
func TestManager_ConcurrentAppendsPerSession(t *testing.T) {
	manager := NewManager()
	sessions := []string{
		manager.CreateSession("fac", "a", nil).ID,
		manager.CreateSession("fac", "b", nil).ID,
	}

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for _, sid := range sessions {
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(sid string, w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					manager.AppendMessage(sid, &types.ChatMessage{
						ID:        fmt.Sprintf("%d-%d", w, i),
						SessionID: sid,
					})
				}
			}(sid, w)
		}
	}
	wg.Wait()

	for _, sid := range sessions {
		history, err := manager.History(sid, 0)
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(history) != writers*perWriter {
			t.Errorf("Session %s: expected %d messages, got %d", sid, writers*perWriter, len(history))
		}

		// Per-writer order must be preserved within the session
		next := make(map[string]int)
		seen := make(map[string]bool)
		for _, m := range history {
			if m.SessionID != sid {
				t.Fatalf("Message %s leaked into session %s", m.ID, sid)
			}
			if seen[m.ID] {
				t.Fatalf("Duplicate message %s", m.ID)
			}
			seen[m.ID] = true

			var w, i int
			fmt.Sscanf(m.ID, "%d-%d", &w, &i)
			key := fmt.Sprint(w)
			if i != next[key] {
				t.Fatalf("Writer %d out of order: got %d, want %d", w, i, next[key])
			}
			next[key]++
		}
	}
}

func TestManager_SnapshotIsConsistent(t *testing.T) {
	manager := NewManager()
	view := manager.CreateSession("fac", "s", nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			manager.Update(view.ID, func(s *types.Session) error {
				// message and media always grow together
				s.Messages = append(s.Messages, &types.ChatMessage{ID: fmt.Sprint(i)})
				s.Media = append(s.Media, &types.MediaItem{ID: fmt.Sprint(i)})
				return nil
			})
		}
	}()

	for i := 0; i < 200; i++ {
		snap, err := manager.Snapshot(view.ID)
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if snap.MessageCount != snap.MediaCount {
			t.Fatalf("Torn snapshot: %d messages vs %d media", snap.MessageCount, snap.MediaCount)
		}
	}
	<-done
}

func TestManager_UpdatePropagatesError(t *testing.T) {
	manager := NewManager()
	view := manager.CreateSession("fac", "s", nil)
	boom := errors.New("boom")

	if err := manager.Update(view.ID, func(*types.Session) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("Update error = %v, want boom", err)
	}
}

func TestSetPresence(t *testing.T) {
	s := &types.Session{ID: "s"}
	AddParticipant(s, types.Participant{ID: "a"}, time.Now())

	if err := SetPresence(s, "a", types.PresenceAway); err != nil {
		t.Fatalf("SetPresence failed: %v", err)
	}
	if s.Participants["a"].Status != types.PresenceAway {
		t.Errorf("status = %s", s.Participants["a"].Status)
	}
	if err := SetPresence(s, "ghost", types.PresenceIdle); !errors.Is(err, ErrParticipantNotFound) {
		t.Errorf("SetPresence(ghost) error = %v", err)
	}
}
