package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"ms-roster/internal/models"
	"net/http"
	"sync"
)

// SyncEventEmitter fans sync progress out to observers of every run and to observers of one run.
type SyncEventEmitter struct {
	// Clients following every run
	allClients     []chan models.SyncProgress
	allClientMutex sync.RWMutex

	// Run channel clients map - key: runID, value: slice of client channels
	runClients     map[string][]chan models.SyncProgress
	runClientMutex sync.RWMutex
}

func NewSyncEventEmitter() *SyncEventEmitter {
	return &SyncEventEmitter{
		runClients: make(map[string][]chan models.SyncProgress),
	}
}

// Subscribe follows every run until ctx is done.
func (e *SyncEventEmitter) Subscribe(ctx context.Context) chan models.SyncProgress {
	clientChan := make(chan models.SyncProgress, 64)

	e.allClientMutex.Lock()
	e.allClients = append(e.allClients, clientChan)
	e.allClientMutex.Unlock()

	go func() {
		<-ctx.Done()
		e.removeAllClient(clientChan)
	}()
	return clientChan
}

// SubscribeRun follows one run until ctx is done.
func (e *SyncEventEmitter) SubscribeRun(ctx context.Context, runID string) chan models.SyncProgress {
	clientChan := make(chan models.SyncProgress, 64)

	e.runClientMutex.Lock()
	e.runClients[runID] = append(e.runClients[runID], clientChan)
	e.runClientMutex.Unlock()

	go func() {
		<-ctx.Done()
		e.removeRunClient(runID, clientChan)
	}()
	return clientChan
}

// Emit never blocks: a client whose buffer is full misses the event.
func (e *SyncEventEmitter) Emit(p models.SyncProgress) {
	e.allClientMutex.RLock()
	for _, clientChan := range e.allClients {
		select {
		case clientChan <- p:
		default:
		}
	}
	e.allClientMutex.RUnlock()

	e.runClientMutex.RLock()
	for _, clientChan := range e.runClients[p.RunID] {
		select {
		case clientChan <- p:
		default:
		}
	}
	e.runClientMutex.RUnlock()
}

func (e *SyncEventEmitter) removeAllClient(clientChan chan models.SyncProgress) {
	e.allClientMutex.Lock()
	defer e.allClientMutex.Unlock()
	for i, ch := range e.allClients {
		if ch == clientChan {
			e.allClients = append(e.allClients[:i], e.allClients[i+1:]...)
			close(clientChan)
			return
		}
	}
}

func (e *SyncEventEmitter) removeRunClient(runID string, clientChan chan models.SyncProgress) {
	e.runClientMutex.Lock()
	defer e.runClientMutex.Unlock()

	clients := e.runClients[runID]
	for i, ch := range clients {
		if ch == clientChan {
			e.runClients[runID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(e.runClients[runID]) == 0 {
		delete(e.runClients, runID)
	}
}

func (e *SyncEventEmitter) ClientCount() int {
	e.allClientMutex.RLock()
	defer e.allClientMutex.RUnlock()
	return len(e.allClients)
}

func (e *SyncEventEmitter) RunClientCount(runID string) int {
	e.runClientMutex.RLock()
	defer e.runClientMutex.RUnlock()
	return len(e.runClients[runID])
}

// SetupHeaders prepares a response for an event stream.
func SetupHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteEvent writes one named event with a JSON payload and flushes it.
func WriteEvent(w http.ResponseWriter, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("serialize %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
