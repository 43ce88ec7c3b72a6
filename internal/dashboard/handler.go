package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/slate360/slatesync/internal/journal"
	"github.com/slate360/slatesync/internal/reconcile"
	"github.com/slate360/slatesync/internal/schema"
)

// Handler bridges mutation and reconcile events to the WebSocket server.
// It satisfies both the projects and reconcile event sink interfaces; the
// mutation manager and the reconcile engine call it from their own
// goroutines, so stats updates are locked.
type Handler struct {
	server *Server
	logger *log.Logger

	statsMu sync.Mutex
	stats   *StatsData
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
		stats: &StatsData{
			ByStatus:    make(map[string]int),
			BySyncState: make(map[string]int),
		},
	}
}

// ProjectCreated handles project creation events
func (h *Handler) ProjectCreated(p *schema.Project) {
	h.logger.Printf("Project created: %s (%s)", p.ID, p.Name)

	h.statsMu.Lock()
	h.stats.Total++
	h.stats.ByStatus[p.Status]++
	h.stats.BySyncState[p.SyncState]++
	if p.SyncState == schema.SyncPending {
		h.stats.Pending++
	}
	h.statsMu.Unlock()

	h.broadcastProject(p, "created")
	h.broadcastStats()
}

// ProjectUpdated handles project update events
func (h *Handler) ProjectUpdated(p *schema.Project) {
	h.logger.Printf("Project updated: %s (v%d)", p.ID, p.Version)

	h.broadcastProject(p, "updated")
	h.broadcastStats()
}

// ProjectRemoved handles project removal events
func (h *Handler) ProjectRemoved(id string) {
	h.logger.Printf("Project removed: %s", id)

	h.statsMu.Lock()
	if h.stats.Total > 0 {
		h.stats.Total--
	}
	h.statsMu.Unlock()

	data := ProjectUpdateData{
		ProjectID: id,
		Action:    "removed",
	}
	h.broadcastData(MessageTypeProjectUpdate, data)
	h.broadcastStats()
}

// SyncAcked handles queue entry acknowledgement events
func (h *Handler) SyncAcked(projectID string, kind journal.Kind) {
	h.logger.Printf("Sync acked: %s (%s)", projectID, kind)

	data := SyncEventData{
		ProjectID: projectID,
		Outcome:   "acked",
		Kind:      string(kind),
	}
	h.broadcastData(MessageTypeSyncEvent, data)
}

// SyncConflictResolved handles conflict resolution events
func (h *Handler) SyncConflictResolved(projectID string) {
	h.logger.Printf("Sync conflict resolved: %s", projectID)

	data := SyncEventData{
		ProjectID: projectID,
		Outcome:   "conflict_resolved",
	}
	h.broadcastData(MessageTypeSyncEvent, data)
}

// SyncAbandoned handles abandonment events
func (h *Handler) SyncAbandoned(projectID string) {
	h.logger.Printf("Sync abandoned: %s", projectID)

	h.statsMu.Lock()
	h.stats.Failed++
	h.statsMu.Unlock()

	data := SyncEventData{
		ProjectID: projectID,
		Outcome:   "abandoned",
	}
	h.broadcastData(MessageTypeSyncEvent, data)
	h.broadcastStats()
}

// SyncCycleComplete handles reconcile pass completion events
func (h *Handler) SyncCycleComplete(stats reconcile.CycleStats) {
	if stats.Processed == 0 {
		return
	}
	h.logger.Printf("Reconcile pass: %d processed, %d acked in %v",
		stats.Processed, stats.Acked, stats.Duration)

	data := CycleCompleteData{
		Processed: stats.Processed,
		Acked:     stats.Acked,
		Conflicts: stats.Conflicts,
		Retried:   stats.Retried,
		Abandoned: stats.Abandoned,
		Duration:  stats.Duration,
	}
	h.broadcastData(MessageTypeCycleComplete, data)
}

// UpdateStats replaces statistics from a full project list.
// Useful for initialization or periodic refresh.
func (h *Handler) UpdateStats(all []*schema.Project) {
	h.statsMu.Lock()
	h.stats.Total = len(all)
	h.stats.ByStatus = make(map[string]int)
	h.stats.BySyncState = make(map[string]int)
	h.stats.Pending = 0
	h.stats.Failed = 0

	for _, p := range all {
		h.stats.ByStatus[p.Status]++
		h.stats.BySyncState[p.SyncState]++
		switch p.SyncState {
		case schema.SyncPending:
			h.stats.Pending++
		case schema.SyncFailed:
			h.stats.Failed++
		}
	}
	h.statsMu.Unlock()

	h.broadcastStats()
}

// GetStats returns a copy of the current statistics
func (h *Handler) GetStats() StatsData {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()

	out := *h.stats
	out.ByStatus = make(map[string]int, len(h.stats.ByStatus))
	for k, v := range h.stats.ByStatus {
		out.ByStatus[k] = v
	}
	out.BySyncState = make(map[string]int, len(h.stats.BySyncState))
	for k, v := range h.stats.BySyncState {
		out.BySyncState[k] = v
	}
	return out
}

func (h *Handler) broadcastProject(p *schema.Project, action string) {
	data := ProjectUpdateData{
		ProjectID: p.ID,
		Action:    action,
		Name:      p.Name,
		Status:    p.Status,
		SyncState: p.SyncState,
		Version:   p.Version,
		Budget:    p.Budget,
	}
	h.broadcastData(MessageTypeProjectUpdate, data)
}

func (h *Handler) broadcastData(typ MessageType, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// broadcastStats sends current statistics to all clients
func (h *Handler) broadcastStats() {
	h.server.Broadcast(Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      mustMarshalStats(h.GetStats(), h.logger),
	})
}

func mustMarshalStats(stats StatsData, logger *log.Logger) json.RawMessage {
	data, err := json.Marshal(stats)
	if err != nil {
		logger.Printf("Failed to marshal stats: %v", err)
		return nil
	}
	return data
}
