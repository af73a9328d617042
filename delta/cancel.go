package delta

import "context"

// CancellationToken is a cancellation flag shared by any number of
// operations. Once cancelled it stays cancelled. A nil token is never
// cancelled.
type CancellationToken struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewCancellationToken() *CancellationToken {
	ctx, cancel := context.WithCancel(context.Background())
	return &CancellationToken{ctx: ctx, cancel: cancel}
}

// Cancel requests cancellation of every operation using the token. It is
// safe to call more than once and after the operations completed.
func (t *CancellationToken) Cancel() {
	if t != nil {
		t.cancel()
	}
}

func (t *CancellationToken) Cancelled() bool {
	return t != nil && t.ctx.Err() != nil
}

// Done is closed once the token is cancelled.
func (t *CancellationToken) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.ctx.Done()
}
