package handlers

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"nodeflow/internal/services"
)

// ExecutionWebSocketHandler streams execution updates to connected clients.
// One connection observes one execution id.
type ExecutionWebSocketHandler struct {
	executionService *services.ExecutionService
}

func NewExecutionWebSocketHandler(executionService *services.ExecutionService) *ExecutionWebSocketHandler {
	return &ExecutionWebSocketHandler{executionService: executionService}
}

// safeConn wraps a websocket.Conn with a mutex for thread-safe writes.
// gorilla/websocket does not support concurrent writers.
type safeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (sc *safeConn) writeJSON(v any) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return sc.conn.WriteMessage(websocket.TextMessage, data)
}

// Upgrade gates the HTTP->WS upgrade
func (h *ExecutionWebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Stream handles one websocket connection
// GET /ws/executions/:id
func (h *ExecutionWebSocketHandler) Stream(c *websocket.Conn) {
	executionID := c.Params("id")
	sc := &safeConn{conn: c}
	defer c.Close()

	updates, cancel, err := h.executionService.Subscribe(executionID)
	if err != nil {
		sc.writeJSON(fiber.Map{"type": "error", "error": "Execution not found or already finished"})
		return
	}
	defer cancel()

	log.Printf("🔌 [WS] Client attached to execution %s", executionID)
	sc.writeJSON(fiber.Map{"type": "connected", "execution_id": executionID})

	// Reader goroutine: detects client disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				// Run finished; send the final result if present
				if status, err := h.executionService.Status(executionID); err == nil {
					sc.writeJSON(fiber.Map{
						"type":   "execution_complete",
						"status": status.Status,
						"result": status.Result,
					})
				}
				log.Printf("🔌 [WS] Execution %s finished, closing stream", executionID)
				return
			}
			if err := sc.writeJSON(update); err != nil {
				return
			}
		case <-done:
			log.Printf("🔌 [WS] Client detached from execution %s", executionID)
			return
		}
	}
}
