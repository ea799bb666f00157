package license

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"cloudloader/internal/infrastructure"
)

// logAction logs a license action with correlation attributes and mirrors
// it as a span event.
func (e *Engine) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	infrastructure.AddSpanEvent(ctx, "license."+action,
		attribute.String("action", action),
		attribute.String("result", result),
	)

	all := make([]slog.Attr, 0, len(attrs)+3)
	all = append(all,
		slog.String("component", "license_engine"),
		slog.String("action", action),
		slog.String("result", result),
	)
	all = append(all, attrs...)
	e.logger.LogAttrs(ctx, level, "license "+action, all...)
}
