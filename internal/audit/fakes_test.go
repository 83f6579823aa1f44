package audit

import (
	"context"
	"sync"
)

type sent struct {
	channel Channel
	key     string
	payload []byte
}

type fakeSink struct {
	mu    sync.Mutex
	sends []sent
	err   error
	// block, when set, is waited on before each send returns
	block chan struct{}
}

func (f *fakeSink) Send(ctx context.Context, ch Channel, key string, payload []byte) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sent{channel: ch, key: key, payload: append([]byte(nil), payload...)})
	return f.err
}

func (f *fakeSink) Sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sends...)
}
