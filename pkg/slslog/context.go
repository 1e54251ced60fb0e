package slslog

import (
	"context"
	"maps"
)

type tagsKey struct{}

// ContextWithTags returns a context whose events carry tags in addition to
// the handler's static tags. Nested calls layer, with inner values winning.
func ContextWithTags(ctx context.Context, tags map[string]string) context.Context {
	if len(tags) == 0 {
		return ctx
	}
	merged := make(map[string]string, len(tags))
	maps.Copy(merged, tagsFromContext(ctx))
	maps.Copy(merged, tags)
	return context.WithValue(ctx, tagsKey{}, merged)
}

func tagsFromContext(ctx context.Context) map[string]string {
	if ctx == nil {
		return nil
	}
	m, _ := ctx.Value(tagsKey{}).(map[string]string)
	return m
}
