package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"livegrade/internal/reconnect"
	"livegrade/internal/registry"
	"livegrade/internal/rooms"
	"livegrade/pkg/interfaces"
	"livegrade/pkg/types"
)

// Dispatcher accepts task updates from the grading pipeline and fans
// them out to every subscribed connection. It owns sequence numbering:
// each assessment gets a strictly increasing counter, seeded from the
// stored history on first use, so no two updates for an assessment
// ever share a sequence number.
//
// Delivery is at-least-once per member: connected members get the
// update immediately, disconnected members with an open grace window
// get it appended to their pending buffer. Per-recipient transport
// failures are logged and never abort delivery to the rest.
type Dispatcher struct {
	mu        sync.Mutex
	sequences map[int64]uint64 // assessmentID -> last assigned

	rooms     *rooms.Manager
	registry  *registry.Registry
	reconnect *reconnect.Coordinator
	directory interfaces.AssessmentDirectory
}

// NewDispatcher creates a broadcast dispatcher.
func NewDispatcher(roomManager *rooms.Manager, reg *registry.Registry, coordinator *reconnect.Coordinator, directory interfaces.AssessmentDirectory) *Dispatcher {
	return &Dispatcher{
		sequences: make(map[int64]uint64),
		rooms:     roomManager,
		registry:  reg,
		reconnect: coordinator,
		directory: directory,
	}
}

// Publish turns a grading-pipeline notification into a sequenced
// TaskUpdate, persists it, and fans it out to the assessment's room.
// The returned update carries the assigned sequence number.
func (d *Dispatcher) Publish(ctx context.Context, assessmentID, taskID int64, payload json.RawMessage) (*types.TaskUpdate, error) {
	update := &types.TaskUpdate{
		ID:           uuid.New().String(),
		AssessmentID: assessmentID,
		TaskID:       taskID,
		Payload:      payload,
		EmittedAt:    time.Now(),
	}
	if err := update.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task update: %w", err)
	}

	seq, err := d.nextSequence(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	update.SequenceNumber = seq

	// Persist before fan-out so the history the snapshot provider and
	// sequence seeding read from never runs behind what clients saw.
	if err := d.directory.StoreTaskUpdate(ctx, update); err != nil {
		return nil, fmt.Errorf("failed to persist update seq=%d assessment=%d: %w", seq, assessmentID, err)
	}

	d.fanOut(update)
	return update, nil
}

// nextSequence assigns the next sequence number for an assessment,
// seeding the counter from the stored history on first use.
func (d *Dispatcher) nextSequence(ctx context.Context, assessmentID int64) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	last, seeded := d.sequences[assessmentID]
	if !seeded {
		max, err := d.directory.MaxSequence(ctx, assessmentID)
		if err != nil {
			return 0, fmt.Errorf("failed to seed sequence for assessment %d: %w", assessmentID, err)
		}
		last = max
	}

	next := last + 1
	d.sequences[assessmentID] = next
	return next, nil
}

// fanOut delivers one update to every room member. Members without a
// live transport fall back to their pending buffer; members with
// neither are stale and logged.
func (d *Dispatcher) fanOut(update *types.TaskUpdate) {
	members := d.rooms.Members(update.AssessmentID)
	if len(members) == 0 {
		return
	}

	event := types.NewTaskUpdateEvent(update)
	delivered, buffered := 0, 0

	for _, connectionID := range members {
		if conn, live := d.registry.Connection(connectionID); live {
			if err := conn.Send(event); err != nil {
				log.Printf("Delivery failed: conn=%s assessment=%d seq=%d: %v",
					connectionID, update.AssessmentID, update.SequenceNumber, err)
				continue
			}
			delivered++
			continue
		}

		ok, err := d.reconnect.Buffer(connectionID, update)
		if err != nil {
			log.Printf("Pending buffer overflow: conn=%s assessment=%d: %v", connectionID, update.AssessmentID, err)
		}
		if ok {
			buffered++
		} else {
			log.Printf("Stale room member with no session or buffer: conn=%s assessment=%d",
				connectionID, update.AssessmentID)
		}
	}

	log.Printf("Update dispatched: assessment=%d task=%d seq=%d delivered=%d buffered=%d",
		update.AssessmentID, update.TaskID, update.SequenceNumber, delivered, buffered)
}
