// Package sentryhelper provides utilities for Sentry transaction and scope management.
// Each resolution or playback operation gets its own hub clone so breadcrumbs
// and tags from concurrent operations do not mix.
package sentryhelper

import (
	"context"

	sentry "github.com/getsentry/sentry-go"
)

// contextKey is used to store the cloned hub in context
type contextKey string

const hubContextKey contextKey = "sentry_hub"

// StartOperationTransaction creates a transaction on a cloned hub.
// Returns the context carrying the transaction and hub, plus the transaction span.
func StartOperationTransaction(ctx context.Context, operation string, name string, tags map[string]string) (context.Context, *sentry.Span) {
	hub := HubFromContext(ctx).Clone()
	ctx = context.WithValue(ctx, hubContextKey, hub)

	transaction := sentry.StartTransaction(ctx, name,
		sentry.WithOpName(operation),
		sentry.WithTransactionSource(sentry.SourceTask),
	)
	for k, v := range tags {
		transaction.SetTag(k, v)
	}

	// Bind the transaction to the cloned hub's scope
	hub.Scope().SetSpan(transaction)

	return transaction.Context(), transaction
}

// HubFromContext retrieves the cloned hub from context.
// Falls back to the hub sentry-go stored on the context, then CurrentHub.
func HubFromContext(ctx context.Context) *sentry.Hub {
	if ctx == nil {
		return sentry.CurrentHub()
	}
	if hub, ok := ctx.Value(hubContextKey).(*sentry.Hub); ok && hub != nil {
		return hub
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}

// AddBreadcrumb adds a breadcrumb to the hub in context.
func AddBreadcrumb(ctx context.Context, category string, message string, data map[string]any) {
	HubFromContext(ctx).AddBreadcrumb(&sentry.Breadcrumb{
		Category: category,
		Message:  message,
		Data:     data,
		Level:    sentry.LevelInfo,
	}, nil)
}

// CaptureException captures an exception on the hub in context.
func CaptureException(ctx context.Context, err error) *sentry.EventID {
	return HubFromContext(ctx).CaptureException(err)
}

// CaptureMessage captures a message on the hub in context.
// Use this for warnings or informational events that aren't errors.
func CaptureMessage(ctx context.Context, message string) *sentry.EventID {
	return HubFromContext(ctx).CaptureMessage(message)
}

// DetachFromTransaction keeps the hub but drops cancellation and the
// transaction, for work that outlives the request that started it.
func DetachFromTransaction(ctx context.Context) context.Context {
	hub := HubFromContext(ctx)
	return context.WithValue(context.Background(), hubContextKey, hub)
}
