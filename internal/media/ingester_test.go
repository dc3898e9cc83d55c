package media

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/protocol"
	"chatrelay/internal/session"
	"chatrelay/pkg/types"
)

// recordingHub captures every delivered event
type recordingHub struct {
	mu     sync.Mutex
	events []protocol.Outbound
}

func (h *recordingHub) Deliver(s *types.Session, evt protocol.Outbound, exclude string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, evt)
	return len(s.Participants)
}

func (h *recordingHub) snapshot() []protocol.Outbound {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]protocol.Outbound, len(h.events))
	copy(out, h.events)
	return out
}

func setup(t *testing.T) (*Ingester, *recordingHub, *session.Manager, string) {
	store := session.NewManager()
	hub := &recordingHub{}
	ingester := NewIngester(store, hub, nil, 200*time.Millisecond)
	t.Cleanup(ingester.Close)

	sid := store.CreateSession("fac", "s", nil).ID
	store.AddParticipant(sid, types.Participant{ID: "a", Name: "Ada", ConnectionID: "conn-a"})
	return ingester, hub, store, sid
}

// upload builds a submission from participant a on its own connection
func upload(sid string, kind types.MediaKind, data string, meta types.MediaMetadata) Upload {
	return Upload{
		SessionID:    sid,
		UploaderID:   "a",
		ConnectionID: "conn-a",
		Kind:         kind,
		Data:         json.RawMessage(data),
		Metadata:     meta,
	}
}

var sampleMeta = types.MediaMetadata{Filename: "a.png", Size: 4, MimeType: "image/png"}

// assertPublishedOnce checks the exactly-once publication of one item
func assertPublishedOnce(t *testing.T, hub *recordingHub, wantStatus types.MediaStatus) types.MediaItem {
	t.Helper()
	events := hub.snapshot()
	if len(events) != 2 {
		t.Fatalf("Expected exactly 2 events, got %d: %v", len(events), events)
	}
	shared, ok := events[0].(protocol.RichMediaShared)
	if !ok {
		t.Fatalf("First event should be rich_media_shared, got %T", events[0])
	}
	if shared.Media.Status != wantStatus {
		t.Errorf("Published status = %s, want %s", shared.Media.Status, wantStatus)
	}
	notice, ok := events[1].(protocol.NewMessage)
	if !ok {
		t.Fatalf("Second event should be new_message, got %T", events[1])
	}
	if notice.Message.SenderType != types.SenderSystem || notice.Message.SenderID != types.SystemSenderID {
		t.Errorf("Notice should come from system: %+v", notice.Message)
	}
	var ref types.MediaItem
	if err := json.Unmarshal(notice.Message.RichMedia, &ref); err != nil || ref.ID != shared.Media.ID {
		t.Errorf("Notice should reference the media item: %s (%v)", notice.Message.RichMedia, err)
	}
	return shared.Media
}

func TestIngester_PassThroughKind(t *testing.T) {
	ingester, hub, store, sid := setup(t)

	item, err := ingester.Ingest(context.Background(), upload(sid, types.MediaDocument, `"data:,x"`, sampleMeta))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if item.Status != types.MediaRaw {
		t.Errorf("Accepted item should be raw, got %s", item.Status)
	}
	ingester.Wait()

	assertPublishedOnce(t, hub, types.MediaRaw)

	history, _ := store.History(sid, 0)
	if len(history) != 1 || history[0].Content != "Ada shared document" {
		t.Errorf("Unexpected history: %+v", history)
	}
	snap, _ := store.Snapshot(sid)
	if snap.MediaCount != 1 {
		t.Errorf("Expected 1 media item, got %d", snap.MediaCount)
	}
}

func TestIngester_ProcessorSuccess(t *testing.T) {
	ingester, hub, _, sid := setup(t)
	ingester.RegisterProcessor(types.MediaImage, ProcessorFunc(func(ctx context.Context, item types.MediaItem) (map[string]interface{}, error) {
		return map[string]interface{}{"thumbnail": "thumb-" + item.Metadata.Filename}, nil
	}))

	ingester.Ingest(context.Background(), upload(sid, types.MediaImage, `"data:image/png;base64,AAAA"`, sampleMeta))
	ingester.Wait()

	media := assertPublishedOnce(t, hub, types.MediaProcessed)
	if media.Derivatives["thumbnail"] != "thumb-a.png" {
		t.Errorf("Derivatives not attached: %v", media.Derivatives)
	}
}

func TestIngester_ProcessorFailureLeavesRaw(t *testing.T) {
	ingester, hub, store, sid := setup(t)
	ingester.RegisterProcessor(types.MediaLink, ProcessorFunc(func(ctx context.Context, item types.MediaItem) (map[string]interface{}, error) {
		return nil, errors.New("boom")
	}))

	item, _ := ingester.Ingest(context.Background(), upload(sid, types.MediaLink, `"https://example.com"`, types.MediaMetadata{}))
	ingester.Wait()

	assertPublishedOnce(t, hub, types.MediaRaw)

	// a failed item is final: it stays raw for good
	if err := store.AttachDerivatives(sid, item.ID, map[string]interface{}{"late": 1}); !errors.Is(err, session.ErrMediaFinalized) {
		t.Errorf("Late attach on a failed item = %v, want ErrMediaFinalized", err)
	}
	snap, _ := store.Snapshot(sid)
	if snap.MediaCount != 1 {
		t.Fatalf("Expected 1 media item, got %d", snap.MediaCount)
	}
	store.Update(sid, func(s *types.Session) error {
		if s.Media[0].Status != types.MediaRaw || s.Media[0].Derivatives != nil {
			t.Errorf("Failed item was mutated: %+v", s.Media[0])
		}
		return nil
	})
}

func TestIngester_ProcessorTimeout(t *testing.T) {
	ingester, hub, _, sid := setup(t)
	ingester.RegisterProcessor(types.MediaCodeProject, ProcessorFunc(func(ctx context.Context, item types.MediaItem) (map[string]interface{}, error) {
		<-ctx.Done()
		return map[string]interface{}{"late": true}, nil
	}))

	ingester.Ingest(context.Background(), upload(sid, types.MediaCodeProject, `{"files":[]}`, types.MediaMetadata{}))
	ingester.Wait()

	assertPublishedOnce(t, hub, types.MediaRaw)
}

func TestIngester_ProcessorPanic(t *testing.T) {
	ingester, hub, _, sid := setup(t)
	ingester.RegisterProcessor(types.MediaImage, ProcessorFunc(func(ctx context.Context, item types.MediaItem) (map[string]interface{}, error) {
		panic("processor bug")
	}))

	ingester.Ingest(context.Background(), upload(sid, types.MediaImage, `"x"`, sampleMeta))
	ingester.Wait()

	assertPublishedOnce(t, hub, types.MediaRaw)
}

func TestIngester_Validation(t *testing.T) {
	ingester, hub, store, sid := setup(t)

	tests := []struct {
		name      string
		sessionID string
		uploader  string
		connID    string
		kind      types.MediaKind
		wantErr   error
	}{
		{"unknown kind", sid, "a", "conn-a", types.MediaKind("video"), types.ErrInvalidMediaKind},
		{"unknown session", "missing", "a", "conn-a", types.MediaImage, session.ErrSessionNotFound},
		{"unknown uploader", sid, "ghost", "conn-a", types.MediaImage, session.ErrParticipantNotFound},
		{"uploader rebound to another connection", sid, "a", "conn-old", types.MediaImage, session.ErrParticipantNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingester.Ingest(context.Background(), Upload{
				SessionID:    tt.sessionID,
				UploaderID:   tt.uploader,
				ConnectionID: tt.connID,
				Kind:         tt.kind,
				Data:         json.RawMessage(`"x"`),
				Metadata:     sampleMeta,
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Ingest error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	store.CloseSession(sid)
	if _, err := ingester.Ingest(context.Background(), upload(sid, types.MediaImage, `"x"`, sampleMeta)); !errors.Is(err, session.ErrSessionClosed) {
		t.Errorf("Ingest into closed session = %v, want ErrSessionClosed", err)
	}

	ingester.Wait()
	if len(hub.snapshot()) != 0 {
		t.Error("Rejected items must not publish anything")
	}
}

func TestIngester_CancelledContext(t *testing.T) {
	ingester, hub, store, sid := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := ingester.Ingest(ctx, upload(sid, types.MediaImage, `"x"`, sampleMeta)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	ingester.Wait()
	snap, _ := store.Snapshot(sid)
	if snap.MediaCount != 0 || len(hub.snapshot()) != 0 {
		t.Error("Cancelled upload must not be stored or published")
	}
}

func TestIngester_ClosedRejects(t *testing.T) {
	ingester, _, _, sid := setup(t)
	ingester.Close()

	if _, err := ingester.Ingest(context.Background(), upload(sid, types.MediaImage, `"x"`, sampleMeta)); !errors.Is(err, ErrIngesterClosed) {
		t.Errorf("Expected ErrIngesterClosed, got %v", err)
	}
}

func TestHTTPProcessor(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var item types.MediaItem
		if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if item.Type == types.MediaLink {
			http.Error(w, "unsupported", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"files": 3})
	}))
	defer server.Close()

	p := NewHTTPProcessor(server.URL+"/", time.Second)

	derivatives, err := p.Process(context.Background(), types.MediaItem{ID: "m1", Type: types.MediaCodeProject})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if gotPath != "/code_project" {
		t.Errorf("Request path = %s, want /code_project", gotPath)
	}
	if derivatives["files"] != float64(3) {
		t.Errorf("Unexpected derivatives: %v", derivatives)
	}

	if _, err := p.Process(context.Background(), types.MediaItem{Type: types.MediaLink}); !errors.Is(err, ErrUnexpectedStatus) {
		t.Errorf("Expected ErrUnexpectedStatus, got %v", err)
	}
}
