package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/protocol"
	"chatrelay/internal/session"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Deliverer fans an event out inside a held session section
type Deliverer interface {
	Deliver(s *types.Session, evt protocol.Outbound, excludeParticipantID string) int
}

// Ingester validates and stores media, runs the collaborator off the session
// lock and republishes the result.
// FUNCTIONAL DISCOVERY: every accepted item produces exactly one
// rich_media_shared and one system message, whether the collaborator
// succeeds, fails, or is never called.
type Ingester struct {
	store      interfaces.SessionStore
	hub        Deliverer
	archive    interfaces.TranscriptArchive
	processors map[types.MediaKind]Processor
	timeout    time.Duration
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewIngester creates an ingester. archive may be nil.
func NewIngester(store interfaces.SessionStore, hub Deliverer, archive interfaces.TranscriptArchive, timeout time.Duration) *Ingester {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Ingester{
		store:      store,
		hub:        hub,
		archive:    archive,
		processors: make(map[types.MediaKind]Processor),
		timeout:    timeout,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// RegisterProcessor sets the collaborator for one media kind
func (i *Ingester) RegisterProcessor(kind types.MediaKind, p Processor) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.processors[kind] = p
}

// Upload is one rich media submission from a joined connection
type Upload struct {
	SessionID    string
	UploaderID   string
	ConnectionID string // must match the uploader's current connection
	Kind         types.MediaKind
	Data         json.RawMessage
	Metadata     types.MediaMetadata
}

// Ingest records a raw media item and schedules processing. It returns the
// stored item as it was at append time.
func (i *Ingester) Ingest(ctx context.Context, up Upload) (*types.MediaItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := up.Kind.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %q", err, up.Kind)
	}

	// held until the item is scheduled so Close cannot race wg.Add
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return nil, ErrIngesterClosed
	}

	var item types.MediaItem
	var uploaderName string
	err := i.store.Update(up.SessionID, func(s *types.Session) error {
		if s.Status == types.SessionClosed {
			return fmt.Errorf("%w: %s", session.ErrSessionClosed, up.SessionID)
		}
		// an entry rebound by a newer join belongs to that join's connection
		uploader, exists := s.Participants[up.UploaderID]
		if !exists || uploader.ConnectionID != up.ConnectionID {
			return fmt.Errorf("%w: %s", session.ErrParticipantNotFound, up.UploaderID)
		}
		uploaderName = uploader.Name

		stored := &types.MediaItem{
			ID:         uuid.New().String(),
			SessionID:  up.SessionID,
			UploadedBy: up.UploaderID,
			Type:       up.Kind,
			Data:       up.Data,
			Metadata:   up.Metadata,
			UploadedAt: i.now(),
			Status:     types.MediaRaw,
		}
		s.Media = append(s.Media, stored)
		item = *stored
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Media accepted: id=%s kind=%s session=%s uploader=%s", item.ID, up.Kind, up.SessionID, up.UploaderID)

	i.wg.Add(1)
	go i.process(item, uploaderName)
	return &item, nil
}

// Wait blocks until every scheduled item has been published
func (i *Ingester) Wait() {
	i.wg.Wait()
}

// Close stops accepting items, cancels in-flight collaborator calls and waits
// for their results to be published
func (i *Ingester) Close() {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()

	i.cancel()
	i.wg.Wait()
}

func (i *Ingester) process(item types.MediaItem, uploaderName string) {
	defer i.wg.Done()

	derivatives, procErr := i.runProcessor(item)
	if procErr != nil {
		log.Printf("Media %s left raw: %v", item.ID, procErr)
	}

	var published types.MediaItem
	var notice types.ChatMessage
	err := i.store.Update(item.SessionID, func(s *types.Session) error {
		if procErr == nil && derivatives != nil {
			if err := session.AttachDerivatives(s, item.ID, derivatives); err != nil {
				log.Printf("Failed to attach derivatives to media %s: %v", item.ID, err)
			}
		}

		// raw or processed, the item is final once published
		stored, err := session.FinalizeMedia(s, item.ID)
		if err != nil {
			return err
		}
		published = *stored

		i.hub.Deliver(s, protocol.RichMediaShared{Media: published}, "")

		ref, err := json.Marshal(published)
		if err != nil {
			return fmt.Errorf("failed to encode media reference: %w", err)
		}
		if uploaderName == "" {
			uploaderName = item.UploadedBy
		}
		msg := &types.ChatMessage{
			ID:         uuid.New().String(),
			SessionID:  s.ID,
			SenderID:   types.SystemSenderID,
			SenderName: "System",
			SenderType: types.SenderSystem,
			Content:    fmt.Sprintf("%s shared %s", uploaderName, item.Type),
			RichMedia:  ref,
			Timestamp:  i.now(),
		}
		s.Messages = append(s.Messages, msg)
		notice = *msg

		i.hub.Deliver(s, protocol.NewMessage{Message: notice}, "")
		return nil
	})
	if err != nil {
		log.Printf("Failed to publish media %s: %v", item.ID, err)
		return
	}

	if i.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
		defer cancel()
		if err := i.archive.StoreMedia(ctx, &published); err != nil {
			log.Printf("Failed to archive media %s: %v", published.ID, err)
		}
		if err := i.archive.StoreMessage(ctx, &notice); err != nil {
			log.Printf("Failed to archive message %s: %v", notice.ID, err)
		}
	}
}

// runProcessor calls the collaborator for the item's kind with a bounded
// timeout. A missing processor is a pass-through and returns nil, nil.
func (i *Ingester) runProcessor(item types.MediaItem) (derivatives map[string]interface{}, err error) {
	i.mu.RLock()
	p, exists := i.processors[item.Type]
	i.mu.RUnlock()
	if !exists {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(i.ctx, i.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			derivatives = nil
			err = fmt.Errorf("%w: panic: %v", ErrCollaboratorFailure, r)
		}
	}()

	derivatives, err = p.Process(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCollaboratorFailure, err)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrCollaboratorFailure, ctx.Err())
	}
	return derivatives, nil
}
