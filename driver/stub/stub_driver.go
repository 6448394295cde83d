//go:build !tinygo && !baremetal

package stub

import (
	"errors"
	"sync"
	"time"

	proto "github.com/ystepanoff/racelink/protocol"
)

// ErrTxFailed is returned by Tx while a failure was injected with FailNextTx.
var ErrTxFailed = errors.New("stub: transmission failed")

// Driver is an in-memory half-duplex radio (a transport.RadioDriver) for
// host-side testing. Two drivers joined with NewPair deliver each other's
// transmissions; a frame that arrives while the receiving radio is not
// listening is lost, like on real hardware.
type Driver struct {
	mu        sync.Mutex
	peer      *Driver
	listening bool
	closed    bool
	rxBuf     ringBuffer
	txBuf     ringBuffer
	failTx    int
	dropTx    int
	dropped   int
}

// New returns an unpaired driver. Its transmissions go nowhere; use InjectRx
// to feed it.
func New() *Driver { return &Driver{} }

// NewPair returns two drivers joined by an in-memory channel.
func NewPair() (*Driver, *Driver) {
	a, b := New(), New()
	a.peer, b.peer = b, a
	return a, b
}

func (d *Driver) StartListening() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return proto.ErrClosed
	}
	d.listening = true
	return nil
}

func (d *Driver) StopListening() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return proto.ErrClosed
	}
	d.listening = false
	return nil
}

func (d *Driver) Tx(data []byte) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return proto.ErrClosed
	}
	if d.failTx > 0 {
		d.failTx--
		d.mu.Unlock()
		return ErrTxFailed
	}

	frame := make([]byte, len(data))
	copy(frame, data)
	d.txBuf.push(frame)

	lost := d.dropTx > 0
	if lost {
		d.dropTx--
	}
	peer := d.peer
	d.mu.Unlock()

	if peer != nil && !lost {
		peer.deliver(frame)
	}
	return nil
}

func (d *Driver) deliver(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.listening || d.closed {
		d.dropped++
		return
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	d.rxBuf.push(frame)
}

func (d *Driver) Rx(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return nil, proto.ErrClosed
		}
		if !d.listening {
			d.mu.Unlock()
			return nil, proto.ErrNotListening
		}
		frame, ok := d.rxBuf.pop()
		d.mu.Unlock()
		if ok {
			return frame, nil
		}

		if time.Now().After(deadline) {
			return nil, proto.ErrTimeout
		}
		time.Sleep(1 * time.Millisecond)
	}
}

// Close makes every further operation fail with protocol.ErrClosed.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.listening = false
}

// InjectRx queues a frame as if it had been received, regardless of mode.
func (d *Driver) InjectRx(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	frame := make([]byte, len(data))
	copy(frame, data)
	d.rxBuf.push(frame)
}

// GetTxLog returns copies of the frames transmitted so far.
func (d *Driver) GetTxLog() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.txBuf.snapshot()
}

func (d *Driver) ClearTxLog() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txBuf = ringBuffer{}
}

// FailNextTx makes the next n transmissions return ErrTxFailed.
func (d *Driver) FailNextTx(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failTx = n
}

// DropNextTx makes the next n transmissions succeed locally but never arrive.
func (d *Driver) DropNextTx(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropTx = n
}

func (d *Driver) Listening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listening
}

// Dropped counts frames lost because this radio was not listening.
func (d *Driver) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

const ringCapacity = 64

type ringBuffer struct {
	data       [ringCapacity][]byte
	head, tail int // head = next pop, tail = next push
	count      int
}

func (rb *ringBuffer) push(frame []byte) {
	if rb.count == ringCapacity {
		// Overwrite the oldest when buffer is full to keep memory bounded
		rb.data[rb.tail] = nil
		rb.head = (rb.head + 1) % ringCapacity
		rb.count--
	}
	rb.data[rb.tail] = frame
	rb.tail = (rb.tail + 1) % ringCapacity
	rb.count++
}

func (rb *ringBuffer) pop() ([]byte, bool) {
	if rb.count == 0 {
		return nil, false
	}
	frame := rb.data[rb.head]
	rb.data[rb.head] = nil
	rb.head = (rb.head + 1) % ringCapacity
	rb.count--
	return frame, true
}

func (rb *ringBuffer) snapshot() [][]byte {
	out := make([][]byte, rb.count)
	i := rb.head
	for c := 0; c < rb.count; c++ {
		p := rb.data[i]
		cp := make([]byte, len(p))
		copy(cp, p)
		out[c] = cp
		i = (i + 1) % ringCapacity
	}
	return out
}
