package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

type throttled struct {
	VisionModel
	limiter *rate.Limiter
}

// Throttle lets at most perMinute requests reach m each minute, evenly spaced.
// A non-positive perMinute returns m unchanged.
func Throttle(m VisionModel, perMinute int) VisionModel {
	if perMinute <= 0 {
		return m
	}
	return &throttled{
		VisionModel: m,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (t *throttled) Respond(ctx context.Context, req Request) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return t.VisionModel.Respond(ctx, req)
}
