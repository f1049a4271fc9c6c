package speech

import (
	"context"
	"sync"
)

// stream is the Session shared by the recognizers. One producer goroutine
// emits utterances and calls finish exactly once.
type stream struct {
	utterances chan Utterance
	cancel     context.CancelFunc
	done       chan struct{}

	mu  sync.Mutex
	err error
}

func newStream(cancel context.CancelFunc) *stream {
	return &stream{
		utterances: make(chan Utterance, 16),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (s *stream) emit(ctx context.Context, u Utterance) bool {
	select {
	case s.utterances <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *stream) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.utterances)
	close(s.done)
}

func (s *stream) Utterances() <-chan Utterance {
	return s.utterances
}

func (s *stream) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the producer and waits for it to finish.
func (s *stream) Close() error {
	s.cancel()
	go func() {
		// drain so a blocked emit cannot stall finish
		for range s.utterances {
		}
	}()
	<-s.done
	return nil
}
