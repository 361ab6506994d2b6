package ai

import (
	"context"

	"github.com/wolfman30/clinic-ai-engine/pkg/logging"
)

// FallbackClient tries the primary provider first and degrades to the
// secondary when the primary fails. The secondary is assumed to be text-only,
// so tools are stripped from the degraded request.
type FallbackClient struct {
	primary   Client
	secondary Client
	logger    *logging.Logger
}

// NewFallbackClient wires a primary and a secondary provider together.
func NewFallbackClient(primary, secondary Client, logger *logging.Logger) *FallbackClient {
	if primary == nil {
		panic("ai: primary client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackClient{primary: primary, secondary: secondary, logger: logger}
}

func (c *FallbackClient) Generate(ctx context.Context, req Request) (Response, error) {
	resp, err := c.primary.Generate(ctx, req)
	if err == nil {
		return resp, nil
	}
	if c.secondary == nil || ctx.Err() != nil {
		return Response{}, err
	}

	c.logger.Warn("primary model failed, falling back", "error", err)
	degraded := req
	degraded.Tools = nil
	return c.secondary.Generate(ctx, degraded)
}
