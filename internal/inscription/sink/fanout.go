package sink

import (
	"context"
	"fmt"

	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/chain"
	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/model"
)

// Fanout routes inscriptions to the sink for their content kind. Kinds with
// no configured destination are reported as chain.ErrRejected, which the
// scanner treats as a skip rather than a failure.
type Fanout struct {
	text  chain.Sink
	image chain.Sink
}

// NewFanout builds a router. Either sink may be nil to drop that kind.
func NewFanout(text, image chain.Sink) *Fanout {
	return &Fanout{text: text, image: image}
}

// Emit dispatches by ins.Kind().
func (f *Fanout) Emit(ctx context.Context, ins model.Inscription) error {
	switch kind := ins.Kind(); kind {
	case model.KindText:
		if f.text == nil {
			return fmt.Errorf("%w: no text destination", chain.ErrRejected)
		}
		return f.text.Emit(ctx, ins)
	case model.KindImage:
		if f.image == nil {
			return fmt.Errorf("%w: no image destination", chain.ErrRejected)
		}
		return f.image.Emit(ctx, ins)
	default:
		return fmt.Errorf("%w: unsupported content type %q", chain.ErrRejected, ins.ContentType)
	}
}
