package notify

import (
	"context"
	"sync"

	"ms-grouping/internal/models"
)

// GroupEventEmitter fans membership events out to connected SSE clients.
// Clients subscribe either to a single group or to every event of one group
// type (booking or smart), which is what operator dashboards watch.
type GroupEventEmitter struct {
	groupClients map[string][]chan models.GroupEvent
	groupMutex   sync.RWMutex
	typeClients  map[string][]chan models.GroupEvent
	typeMutex    sync.RWMutex
}

// NewGroupEventEmitter creates a new emitter with no subscribers.
func NewGroupEventEmitter() *GroupEventEmitter {
	return &GroupEventEmitter{
		groupClients: make(map[string][]chan models.GroupEvent),
		typeClients:  make(map[string][]chan models.GroupEvent),
	}
}

// SubscribeToGroup registers a client for one group's events. The returned
// channel is closed and deregistered when ctx is cancelled.
func (e *GroupEventEmitter) SubscribeToGroup(ctx context.Context, groupID string) chan models.GroupEvent {
	eventChan := make(chan models.GroupEvent, 10)

	e.groupMutex.Lock()
	e.groupClients[groupID] = append(e.groupClients[groupID], eventChan)
	e.groupMutex.Unlock()

	// Clean up when the client disconnects
	go func() {
		<-ctx.Done()
		e.removeGroupClient(groupID, eventChan)
	}()

	return eventChan
}

// SubscribeToType registers a client for every event of one group type.
// Valid keys are models.GroupTypeBooking and models.GroupTypeSmart.
func (e *GroupEventEmitter) SubscribeToType(ctx context.Context, groupType string) chan models.GroupEvent {
	eventChan := make(chan models.GroupEvent, 10)

	e.typeMutex.Lock()
	e.typeClients[groupType] = append(e.typeClients[groupType], eventChan)
	e.typeMutex.Unlock()

	// Clean up when the client disconnects
	go func() {
		<-ctx.Done()
		e.removeTypeClient(groupType, eventChan)
	}()

	return eventChan
}

// Emit delivers the event to the group's subscribers and to the type-wide
// subscribers. Sends never block: a client whose buffer is full misses the
// event rather than stalling the caller.
func (e *GroupEventEmitter) Emit(event models.GroupEvent) {
	e.groupMutex.RLock()
	for _, ch := range e.groupClients[event.GroupID] {
		select {
		case ch <- event:
		default:
		}
	}
	e.groupMutex.RUnlock()

	e.typeMutex.RLock()
	for _, ch := range e.typeClients[event.GroupType] {
		select {
		case ch <- event:
		default:
		}
	}
	e.typeMutex.RUnlock()
}

func (e *GroupEventEmitter) removeGroupClient(groupID string, eventChan chan models.GroupEvent) {
	e.groupMutex.Lock()
	defer e.groupMutex.Unlock()

	clients := e.groupClients[groupID]
	for i, ch := range clients {
		if ch == eventChan {
			e.groupClients[groupID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			break
		}
	}

	if len(e.groupClients[groupID]) == 0 {
		delete(e.groupClients, groupID)
	}
}

func (e *GroupEventEmitter) removeTypeClient(groupType string, eventChan chan models.GroupEvent) {
	e.typeMutex.Lock()
	defer e.typeMutex.Unlock()

	clients := e.typeClients[groupType]
	for i, ch := range clients {
		if ch == eventChan {
			e.typeClients[groupType] = append(clients[:i], clients[i+1:]...)
			close(ch)
			break
		}
	}

	if len(e.typeClients[groupType]) == 0 {
		delete(e.typeClients, groupType)
	}
}

// GetGroupClientCount returns the number of clients watching one group.
func (e *GroupEventEmitter) GetGroupClientCount(groupID string) int {
	e.groupMutex.RLock()
	defer e.groupMutex.RUnlock()
	return len(e.groupClients[groupID])
}

// GetTypeClientCount returns the number of clients watching one group type.
func (e *GroupEventEmitter) GetTypeClientCount(groupType string) int {
	e.typeMutex.RLock()
	defer e.typeMutex.RUnlock()
	return len(e.typeClients[groupType])
}
