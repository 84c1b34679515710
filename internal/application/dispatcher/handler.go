package dispatcher

import (
	"context"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/event"
)

// Handler reacts to a receipt session notification
type Handler func(ctx context.Context, evt *event.Event) error
