package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/certflow/internal/models"
	"github.com/ternarybob/certflow/internal/services/orders"
)

// maxUploadMemory bounds the in-memory part of a multipart order
const maxUploadMemory = 32 << 20

// OrderHandler serves the record-append endpoints
type OrderHandler struct {
	service *orders.Service
	logger  arbor.ILogger
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(service *orders.Service, logger arbor.ILogger) *OrderHandler {
	return &OrderHandler{
		service: service,
		logger:  logger,
	}
}

// CreateOrderHandler handles POST /api/pedido (multipart form, optional
// "archivo" file)
func (h *OrderHandler) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		WriteError(w, http.StatusBadRequest, "Invalid form data")
		return
	}

	order := models.Order{
		Dependencia:     r.FormValue("dependencia"),
		TipoDocumento:   r.FormValue("tipoDocumento"),
		ResponsableSine: r.FormValue("responsableSine"),
		UUOO:            r.FormValue("uuoo"),
		UUOONombre:      r.FormValue("uuooNombre"),
		ClaseDocumento:  r.FormValue("claseDocumento"),
		ProcesoSine:     r.FormValue("procesoSine"),
		Encargado:       r.FormValue("encargado"),
		NumeroCliente:   r.FormValue("numeroCliente"),
	}

	var attachment *orders.Attachment
	file, header, err := r.FormFile("archivo")
	switch {
	case err == nil:
		defer file.Close()
		attachment = &orders.Attachment{Filename: header.Filename, Content: file}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		WriteError(w, http.StatusBadRequest, "Invalid attachment")
		return
	}

	if _, err := h.service.Create(r.Context(), order, attachment); err != nil {
		h.logger.Error().Err(err).Msg("Failed to register order")
		WriteError(w, http.StatusInternalServerError, "Failed to register order")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ListOrdersHandler handles GET /api/pedidos
func (h *OrderHandler) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	list, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list orders")
		WriteError(w, http.StatusInternalServerError, "Failed to list orders")
		return
	}

	WriteJSON(w, http.StatusOK, list)
}
