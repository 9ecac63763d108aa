package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Record-append service
	mux.HandleFunc("/api/pedido", s.app.OrderHandler.CreateOrderHandler)  // POST - multipart order
	mux.HandleFunc("/api/pedidos", s.app.OrderHandler.ListOrdersHandler) // GET - all orders

	// API routes - Workflow
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler) // GET - dataset counts + supervisor state
	mux.HandleFunc("/api/run", s.app.StatusHandler.RunHandler)          // POST - start a run now

	// System
	mux.HandleFunc("/health", s.app.StatusHandler.HealthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.app.Registry, promhttp.HandlerOpts{}))

	return mux
}
