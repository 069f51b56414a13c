package payrun

import "github.com/payflux/payrun/id"

// ID is the primary identifier type for all payrun entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
