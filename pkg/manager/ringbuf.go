package manager

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/cilium/ebpf/ringbuf"
	"github.com/mortise-project/mortise-manager/pkg/metrics"
	"github.com/mortise-project/mortise-manager/pkg/mortiseerr"
)

// Reporter receives raw ring-buffer records as they arrive, forwarded
// byte-for-byte to the analytics sidecar the way handle_report does.
type Reporter interface {
	ForwardBytes(data []byte)
}

// ringBufManager pumps one or more objects' "rb" maps, one goroutine per
// ring buffer, grounded on the teacher's pkg/ebpf/tracer.go
// listenAndForwardRingBuffer (runtime.LockOSThread plus a stop channel
// closed by Unregister instead of an atomic flag polled between reads,
// since ringbuf.Reader.Read blocks and has no poll-with-timeout of its
// own — closing the reader is what unblocks it, mirroring cilium/ebpf's
// own cancellation idiom).
type ringBufManager struct {
	readers []*ringbuf.Reader
	done    chan struct{}
	wg      sync.WaitGroup
}

// RegisterRingBuf replaces any existing ring buffer pump with one
// covering objIDs' "rb" maps.
func (m *Manager) RegisterRingBuf(objIDs []uint32, rep Reporter) error {
	if err := m.UnregisterRingBuf(); err != nil {
		return err
	}
	readers := make([]*ringbuf.Reader, 0, len(objIDs))
	for _, objID := range objIDs {
		obj, err := m.GetObject(objID)
		if err != nil {
			closeReaders(readers)
			return err
		}
		rbMap, err := obj.Map("rb")
		if err != nil {
			closeReaders(readers)
			return &mortiseerr.MapNotFoundError{Name: "rb"}
		}
		reader, err := ringbuf.NewReader(rbMap)
		if err != nil {
			closeReaders(readers)
			return fmt.Errorf("opening ring buffer reader for obj %d: %w", objID, err)
		}
		readers = append(readers, reader)
	}

	rb := &ringBufManager{readers: readers, done: make(chan struct{})}
	for _, reader := range readers {
		rb.wg.Add(1)
		go func(reader *ringbuf.Reader) {
			defer rb.wg.Done()
			pumpRingBuf(reader, rep, rb.done, m.metrics)
		}(reader)
	}
	m.rb = rb
	return nil
}

// UnregisterRingBuf stops and joins the current pump, if any.
func (m *Manager) UnregisterRingBuf() error {
	if m.rb == nil {
		return nil
	}
	close(m.rb.done)
	closeReaders(m.rb.readers)
	m.rb.wg.Wait()
	m.rb = nil
	return nil
}

func closeReaders(readers []*ringbuf.Reader) {
	for _, r := range readers {
		_ = r.Close()
	}
}

// pumpRingBuf reads records until its reader is closed by Unregister,
// forwarding each record's raw bytes. Locked to its OS thread the way
// the teacher pins its ring-buffer poll loop, since repeated syscalls on
// a moving goroutine thread churn the scheduler for no benefit here.
func pumpRingBuf(reader *ringbuf.Reader, rep Reporter, done <-chan struct{}, m *metrics.Metrics) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		record, err := reader.Read()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			log.WithError(err).Warn("ring buffer read error")
			return
		}
		if rep == nil {
			continue
		}
		if m != nil {
			m.RingBufRecord()
		}
		rep.ForwardBytes(record.RawSample)
	}
}
