// Package cleaners transforms Bronze raw envelopes into validated Silver
// rows. Cleaners are pure with respect to the store: they parse, validate,
// and return rows; all writes happen in the pipeline's transaction.
package cleaners

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/heimdall-asis/heimdall/internal/adapters"
	"github.com/heimdall-asis/heimdall/internal/persistence"
)

// Result carries the Silver rows produced from one raw record plus the count
// of items dropped by validation.
type Result struct {
	Macro   []persistence.MacroRow
	Micro   []persistence.MicroRow
	News    []persistence.NewsRow
	Skipped int
}

// Cleaner turns one family's raw records into Silver rows. A per-record
// error means the record is skipped and logged; it never aborts the batch.
type Cleaner interface {
	Family() persistence.SourceFamily
	Clean(ctx context.Context, rec persistence.RawRecord) (Result, error)
}

// decodeEnvelope unmarshals a raw payload back into the canonical envelope.
func decodeEnvelope(rec persistence.RawRecord) (*adapters.Envelope, error) {
	var env adapters.Envelope
	if err := json.Unmarshal(rec.RawPayload, &env); err != nil {
		return nil, fmt.Errorf("decode raw envelope %s: %w", rec.RequestHash, err)
	}
	return &env, nil
}
