package logging

import (
	"context"

	"go.uber.org/zap"
)

type importCtxKey struct{}
type requestCtxKey struct{}

type importRef struct {
	ImportID string
	OrgID    string
}

// WithImport tags ctx with the import being processed.
func WithImport(ctx context.Context, importID, orgID string) context.Context {
	return context.WithValue(ctx, importCtxKey{}, importRef{ImportID: importID, OrgID: orgID})
}

// WithRequestID tags ctx with the inbound request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// Fields extracts correlation data from ctx.
func Fields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if ref, ok := ctx.Value(importCtxKey{}).(importRef); ok {
		fields = append(fields, zap.String("import.id", ref.ImportID))
		if ref.OrgID != "" {
			fields = append(fields, zap.String("org.id", ref.OrgID))
		}
	}
	if id, ok := ctx.Value(requestCtxKey{}).(string); ok {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

// For returns log enriched with the correlation fields found in ctx.
// A nil log yields a no-op logger.
func For(ctx context.Context, log *zap.Logger) *zap.Logger {
	if log == nil {
		log = zap.NewNop()
	}
	if f := Fields(ctx); len(f) > 0 {
		return log.With(f...)
	}
	return log
}
