// Package live is an optional TCP fill/equity reporter: it broadcasts a
// running backtest's fills and equity samples to connected subscribers
// over a simple binary wire format, adapted from the teacher's
// internal/net message framing and internal/worker.go's tomb-supervised
// worker pool. It has no bearing on the engine's own determinism — a
// backtest runs identically with or without a reporter attached.
package live

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"garm/internal/types"
)

// wire message kinds, mirroring the teacher's MessageType framing: a
// 2-byte kind prefix followed by the kind's fixed-plus-variable body.
type wireKind uint16

const (
	wireKindFill wireKind = iota
	wireKindEquity
)

const broadcastChanSize = 256

// EncodeFill serializes a fill report: kind(2) symbol_len(1) symbol side(1)
// liquidity(1) qty(8) price(8) fee(8) event_time_ms(8) order_id_len(2) order_id.
func EncodeFill(f types.Fill) []byte {
	symbol := []byte(f.Symbol)
	orderID := []byte(f.OrderID)
	buf := make([]byte, 2+1+len(symbol)+1+1+8+8+8+8+2+len(orderID))

	off := 0
	binary.BigEndian.PutUint16(buf[off:], uint16(wireKindFill))
	off += 2
	buf[off] = byte(len(symbol))
	off++
	copy(buf[off:], symbol)
	off += len(symbol)
	buf[off] = byte(f.Side)
	off++
	buf[off] = byte(f.Liquidity)
	off++
	binary.BigEndian.PutUint64(buf[off:], math.Float64bits(f.Quantity))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], math.Float64bits(f.Price))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], math.Float64bits(f.FeeUsdt))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(f.EventTimeMs))
	off += 8
	binary.BigEndian.PutUint16(buf[off:], uint16(len(orderID)))
	off += 2
	copy(buf[off:], orderID)

	return buf
}

// EquitySample is one (time, equity) point pushed to subscribers.
type EquitySample struct {
	TimeMs int64
	Equity float64
}

// EncodeEquity serializes an equity sample: kind(2) time_ms(8) equity(8).
func EncodeEquity(s EquitySample) []byte {
	buf := make([]byte, 2+8+8)
	binary.BigEndian.PutUint16(buf[0:2], uint16(wireKindEquity))
	binary.BigEndian.PutUint64(buf[2:10], uint64(s.TimeMs))
	binary.BigEndian.PutUint64(buf[10:18], math.Float64bits(s.Equity))
	return buf
}

// Reporter accepts TCP subscribers and broadcasts every published fill
// and equity sample to all of them. Publishing never blocks the caller:
// a full broadcast buffer drops the oldest pending message rather than
// stall the engine loop.
type Reporter struct {
	address string
	port    int

	t      *tomb.Tomb
	cancel context.CancelFunc

	broadcast chan []byte

	mu      sync.Mutex
	clients map[string]net.Conn
}

// New constructs a Reporter bound to address:port. Call Start to begin
// accepting connections.
func New(address string, port int) *Reporter {
	return &Reporter{
		address:   address,
		port:      port,
		broadcast: make(chan []byte, broadcastChanSize),
		clients:   make(map[string]net.Conn),
	}
}

// Start begins accepting subscriber connections and broadcasting
// published messages until ctx is canceled or Stop is called.
func (r *Reporter) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)
	r.t, ctx = tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", r.address, r.port))
	if err != nil {
		return fmt.Errorf("live: unable to start listener: %w", err)
	}

	r.t.Go(func() error {
		<-r.t.Dying()
		return listener.Close()
	})

	r.t.Go(func() error { return r.broadcastLoop() })

	r.t.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-r.t.Dying():
					return nil
				default:
					log.Error().Err(err).Msg("live: error accepting subscriber")
					continue
				}
			}
			r.addClient(conn)
		}
	})

	log.Info().Str("address", r.address).Int("port", r.port).Msg("live reporter listening")
	return nil
}

// Stop signals every goroutine to exit and blocks until they do.
func (r *Reporter) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.t == nil {
		return nil
	}
	return r.t.Wait()
}

// PublishFill broadcasts a fill to every connected subscriber.
func (r *Reporter) PublishFill(f types.Fill) {
	r.publish(EncodeFill(f))
}

// PublishEquity broadcasts an equity sample to every connected subscriber.
func (r *Reporter) PublishEquity(tMs int64, equity float64) {
	r.publish(EncodeEquity(EquitySample{TimeMs: tMs, Equity: equity}))
}

func (r *Reporter) publish(msg []byte) {
	select {
	case r.broadcast <- msg:
	default:
		// Buffer full: drop the oldest queued message to make room rather
		// than block the engine loop on a slow subscriber.
		select {
		case <-r.broadcast:
		default:
		}
		select {
		case r.broadcast <- msg:
		default:
		}
	}
}

func (r *Reporter) broadcastLoop() error {
	for {
		select {
		case <-r.t.Dying():
			return nil
		case msg := <-r.broadcast:
			r.writeToAll(msg)
		}
	}
}

func (r *Reporter) writeToAll(msg []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for addr, conn := range r.clients {
		if err := conn.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
			continue
		}
		if _, err := conn.Write(msg); err != nil {
			log.Warn().Str("address", addr).Err(err).Msg("live: dropping unresponsive subscriber")
			conn.Close()
			delete(r.clients, addr)
		}
	}
}

func (r *Reporter) addClient(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	r.mu.Lock()
	r.clients[addr] = conn
	r.mu.Unlock()
	log.Info().Str("address", addr).Msg("live: subscriber connected")
}
