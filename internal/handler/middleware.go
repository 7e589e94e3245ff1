package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/frankli0324/go-networking/internal/log"
	"github.com/frankli0324/go-networking/internal/model"
)

// Middleware wraps the round trip of a single hop.
type Middleware func(next RoundTripFunc) RoundTripFunc

// Chain wraps rt with mws. The first middleware executes first.
func Chain(rt RoundTripFunc, mws ...Middleware) RoundTripFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		rt = mws[i](rt)
	}
	return rt
}

// LogHops logs every hop at level with a sanitized URL.
func LogHops(logger *slog.Logger, level slog.Level) Middleware {
	return func(next RoundTripFunc) RoundTripFunc {
		return func(ctx context.Context, r *model.PreparedRequest) (*Hop, error) {
			if !logger.Enabled(ctx, level) {
				return next(ctx, r)
			}
			start := time.Now()
			hop, err := next(ctx, r)
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("url", log.SanitizeURL(r.U)),
				slog.Int64(log.DurationKey, time.Since(start).Milliseconds()),
			}
			if err != nil {
				logger.LogAttrs(ctx, level, "request failed", append(attrs, slog.Any("error", err))...)
				return nil, err
			}
			logger.LogAttrs(ctx, level, "response", append(attrs,
				slog.Int("status", hop.Status),
				slog.Int64("content_length", hop.ContentLength),
			)...)
			return hop, nil
		}
	}
}
