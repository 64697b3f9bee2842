package sentry

import (
	"time"

	sentry "github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Init configures the global sentry client. An empty DSN leaves sentry
// disabled; every capture becomes a no-op.
func Init(dsn, release string) error {
	if dsn == "" {
		log.Info("SENTRY_DSN not set, error reporting disabled")
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          release,
		TracesSampleRate: 1.0,
	})
}

// GetSentryGin returns middleware that gives every request its own hub and
// recovers panics into sentry events.
func GetSentryGin() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{
		Repanic: true,
	})
}

func SetContext(name string, value map[string]interface{}) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetContext(name, value)
	})
}

// Flush waits for buffered events before the process exits.
func Flush(timeout time.Duration) {
	if !sentry.Flush(timeout) {
		log.Warn("sentry flush timed out")
	}
}
