package speech

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// LineRecognizer delivers each non-empty line of r as a finalized segment.
// It fronts an external dictation tool that prints one utterance per line.
// Close releases the reading goroutine; a read still blocked in r ends when
// the owner closes r.
type LineRecognizer struct {
	r    io.Reader
	once sync.Once
	quit chan struct{}

	// scanned is closed when the reading goroutine returns
	scanned chan struct{}

	lines chan string
	// readErr is set before lines is closed
	readErr error

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

// NewLineRecognizer creates a recognizer reading from r
func NewLineRecognizer(r io.Reader) *LineRecognizer {
	return &LineRecognizer{r: r, lines: make(chan string), quit: make(chan struct{}), scanned: make(chan struct{})}
}

func (l *LineRecognizer) scan() {
	defer close(l.scanned)
	sc := bufio.NewScanner(l.r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		select {
		case l.lines <- line:
		case <-l.quit:
			return
		}
	}
	l.readErr = sc.Err()
	close(l.lines)
}

// Start begins delivering segments to sink until Stop, ctx cancellation or
// the end of input.
func (l *LineRecognizer) Start(ctx context.Context, sink Sink) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("recognizer closed")
	}
	if l.stop != nil {
		return errors.New("already started")
	}
	l.once.Do(func() { go l.scan() })

	stop := make(chan struct{})
	done := make(chan struct{})
	l.stop, l.done = stop, done

	go func() {
		defer close(done)
		defer l.clear(stop)
		for {
			select {
			case <-stop:
				sink.End()
				return
			case <-ctx.Done():
				sink.End()
				return
			case line, ok := <-l.lines:
				if !ok {
					if l.readErr != nil {
						sink.Error("network")
					}
					sink.End()
					return
				}
				sink.Final(line)
			}
		}
	}()
	return nil
}

// Stop ends delivery and waits until the sink has been told End
func (l *LineRecognizer) Stop() error {
	l.mu.Lock()
	stop, done := l.stop, l.done
	if stop == nil {
		l.mu.Unlock()
		return nil
	}
	select {
	case <-stop:
	default:
		close(stop)
	}
	l.mu.Unlock()
	<-done
	return nil
}

// Close stops delivery and releases the reading goroutine. The recognizer
// cannot be started again.
func (l *LineRecognizer) Close() error {
	if err := l.Stop(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.quit)
	}
	return nil
}

func (l *LineRecognizer) clear(stop chan struct{}) {
	l.mu.Lock()
	if l.stop == stop {
		l.stop, l.done = nil, nil
	}
	l.mu.Unlock()
}
