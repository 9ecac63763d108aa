package models

import "time"

// Order is one submission to the record-append service. JSON names follow
// the flat file the service has always written.
type Order struct {
	ID              string    `json:"id"`
	Dependencia     string    `json:"dependencia"`
	TipoDocumento   string    `json:"tipo_documento"`
	ResponsableSine string    `json:"responsable_sine"`
	UUOO            string    `json:"uuoo"`
	UUOONombre      string    `json:"uuoo_nombre"`
	ClaseDocumento  string    `json:"clase_documento"`
	ProcesoSine     string    `json:"proceso_sine"`
	Encargado       string    `json:"encargado"`
	ArchivoNombre   *string   `json:"archivo_nombre"`
	NumeroCliente   string    `json:"numero_cliente"`
	FechaRegistro   time.Time `json:"fecha_registro"`
}
