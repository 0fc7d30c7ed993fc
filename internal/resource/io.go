package resource

import (
	"context"
	"io"
)

// ThrottledWriter charges every write against a controller's IO budget.
type ThrottledWriter struct {
	ctx context.Context
	w   io.Writer
	c   *Controller
}

// NewThrottledWriter wraps w. With a nil controller writes pass through.
func NewThrottledWriter(ctx context.Context, w io.Writer, c *Controller) io.Writer {
	if c == nil || c.io == nil {
		return w
	}
	return &ThrottledWriter{ctx: ctx, w: w, c: c}
}

func (t *ThrottledWriter) Write(p []byte) (int, error) {
	if err := t.c.WaitIO(t.ctx, len(p)); err != nil {
		return 0, err
	}
	return t.w.Write(p)
}
