package hardware

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ReadKind discriminates the outcome of a single reader poll.
type ReadKind int

const (
	// CardDetected means a card was presented and decoded.
	CardDetected ReadKind = iota
	// NoCard means the reader timed out with nothing in range. Not an error.
	NoCard
	// ReadError means the read failed for another reason.
	ReadError
)

// ReadResult is the explicit variant returned by a reader poll, so callers
// branch on Kind instead of sniffing error strings.
type ReadResult struct {
	Kind   ReadKind
	CardID string
	Text   string
	Err    error
}

// Reader yields card detections. ReadNext blocks until a card is presented,
// the idle interval elapses (NoCard), or ctx is cancelled (ReadError with
// ctx.Err()).
type Reader interface {
	ReadNext(ctx context.Context) ReadResult
}

// LineReader reads card scans from a line-oriented device such as a serial
// RFID reader: one "cardID" or "cardID,text" line per scan.
type LineReader struct {
	lines  chan string
	idle   time.Duration
	logger *logrus.Logger
}

// OpenLineReader opens the device path and starts pumping lines. The pump
// goroutine lives for the process; a failed device read only stops new scans.
func OpenLineReader(path string, idle time.Duration, logger *logrus.Logger) (*LineReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reader device: %w", err)
	}
	if idle <= 0 {
		idle = time.Second
	}

	r := &LineReader{
		lines:  make(chan string),
		idle:   idle,
		logger: logger,
	}
	go func() {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			r.lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Errorf("reader device closed: %v", err)
		}
		close(r.lines)
	}()
	return r, nil
}

func (r *LineReader) ReadNext(ctx context.Context) ReadResult {
	timer := time.NewTimer(r.idle)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ReadResult{Kind: ReadError, Err: ctx.Err()}
	case <-timer.C:
		return ReadResult{Kind: NoCard}
	case line, ok := <-r.lines:
		if !ok {
			return ReadResult{Kind: ReadError, Err: fmt.Errorf("reader device stream ended")}
		}
		return parseScanLine(line)
	}
}

func parseScanLine(line string) ReadResult {
	line = strings.TrimSpace(line)
	if line == "" {
		return ReadResult{Kind: NoCard}
	}
	cardID, text, _ := strings.Cut(line, ",")
	return ReadResult{
		Kind:   CardDetected,
		CardID: strings.TrimSpace(cardID),
		Text:   strings.TrimSpace(text),
	}
}

// SimulatedReader is the fallback when no reader device is configured or
// present. Scans can be injected in-process (tests, dev tooling); otherwise
// it reports NoCard at the idle interval.
type SimulatedReader struct {
	scans chan ReadResult
	idle  time.Duration
}

func NewSimulatedReader(idle time.Duration) *SimulatedReader {
	if idle <= 0 {
		idle = time.Second
	}
	return &SimulatedReader{
		scans: make(chan ReadResult, 16),
		idle:  idle,
	}
}

// Inject queues a simulated card presentation.
func (r *SimulatedReader) Inject(cardID, text string) {
	r.scans <- ReadResult{Kind: CardDetected, CardID: cardID, Text: text}
}

// InjectResult queues an arbitrary read result.
func (r *SimulatedReader) InjectResult(res ReadResult) {
	r.scans <- res
}

func (r *SimulatedReader) ReadNext(ctx context.Context) ReadResult {
	timer := time.NewTimer(r.idle)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ReadResult{Kind: ReadError, Err: ctx.Err()}
	case <-timer.C:
		return ReadResult{Kind: NoCard}
	case res := <-r.scans:
		return res
	}
}
