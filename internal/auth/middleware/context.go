package auth

import "context"

type ctxKey string

const (
	ctxKeySub ctxKey = "sub"
	ctxKeyOrg ctxKey = "org"
)

func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, ctxKeySub, sub)
}

func SubjectFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxKeySub); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func WithOrganization(ctx context.Context, org string) context.Context {
	return context.WithValue(ctx, ctxKeyOrg, org)
}

// OrganizationFromContext is the caller's organization claim, "" when the
// token carries none.
func OrganizationFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxKeyOrg); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
