package http

import (
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/plonk/internal/adapters/postgres"
	"github.com/samirrijal/plonk/internal/adapters/valkey"
	"github.com/samirrijal/plonk/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Records *usecases.RecordService
	NATS    *nats.Conn
	DB      *postgres.DB
	Cache   *valkey.Cache
}
