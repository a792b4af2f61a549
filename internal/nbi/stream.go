package nbi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/signalsfoundry/orbit-simulator/internal/logging"
	sim "github.com/signalsfoundry/orbit-simulator/internal/sim/state"
)

// StreamPath is where the state stream is mounted.
const StreamPath = "/ws/bodies"

const (
	streamWriteTimeout = 5 * time.Second
)

// StreamClientRecorder tracks connected stream clients.
type StreamClientRecorder interface {
	StreamClientConnected(delta int)
}

// StreamFrame is the JSON message pushed to websocket clients.
type StreamFrame struct {
	Tick    uint64           `json:"tick"`
	SimTime string           `json:"sim_time"`
	DT      float64          `json:"dt"`
	Bodies  []map[string]any `json:"bodies"`
}

// NewStreamFrame converts a published simulation frame into its wire form.
func NewStreamFrame(f sim.Frame) StreamFrame {
	bodies := make([]map[string]any, 0, len(f.Bodies))
	for _, b := range f.Bodies {
		bodies = append(bodies, bodyMap(b))
	}
	return StreamFrame{
		Tick:    f.Tick,
		SimTime: f.SimTime.UTC().Format(time.RFC3339Nano),
		DT:      f.DT,
		Bodies:  bodies,
	}
}

// StreamHandler pushes body snapshots to websocket clients after ticks,
// throttled per connection. Frames produced faster than the limit are
// dropped.
type StreamHandler struct {
	state    *sim.SimulationState
	log      logging.Logger
	metrics  StreamClientRecorder
	limit    rate.Limit
	burst    int
	upgrader websocket.Upgrader
}

// StreamOption customises a StreamHandler.
type StreamOption func(*StreamHandler)

// WithStreamRate sends at most one frame per interval with the given burst.
func WithStreamRate(interval time.Duration, burst int) StreamOption {
	return func(h *StreamHandler) {
		if interval > 0 {
			h.limit = rate.Every(interval)
		}
		if burst > 0 {
			h.burst = burst
		}
	}
}

// WithStreamMetrics attaches a client gauge.
func WithStreamMetrics(m StreamClientRecorder) StreamOption {
	return func(h *StreamHandler) {
		h.metrics = m
	}
}

// NewStreamHandler builds a handler over state. The default rate is ten
// frames per second.
func NewStreamHandler(state *sim.SimulationState, log logging.Logger, opts ...StreamOption) *StreamHandler {
	if log == nil {
		log = logging.Noop()
	}
	h := &StreamHandler{
		state: state,
		log:   log,
		limit: rate.Every(100 * time.Millisecond),
		burst: 1,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.log.Debug(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ctx, log := logging.WithRequestLogger(ctx, h.log.With(logging.String("remote", r.RemoteAddr)))

	if h.metrics != nil {
		h.metrics.StreamClientConnected(1)
		defer h.metrics.StreamClientConnected(-1)
	}
	log.Info(ctx, "stream client connected")
	defer log.Info(ctx, "stream client disconnected")

	// Latest-frame mailbox: the tick goroutine never blocks on a slow client.
	frames := make(chan sim.Frame, 1)
	unsubscribe := h.state.Subscribe(func(f sim.Frame) {
		select {
		case frames <- f:
		default:
			select {
			case <-frames:
			default:
			}
			select {
			case frames <- f:
			default:
			}
		}
	})
	defer unsubscribe()

	go h.readPump(conn, cancel)

	if err := h.writeFrame(conn, sim.Frame{
		Tick:    h.state.Ticks(),
		SimTime: h.state.SimTime(),
		Bodies:  h.state.Snapshot(),
	}); err != nil {
		return
	}

	limiter := rate.NewLimiter(h.limit, h.burst)
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case f := <-frames:
			if !limiter.Allow() {
				continue
			}
			if err := h.writeFrame(conn, f); err != nil {
				log.Debug(ctx, "stream write failed", logging.Err(err))
				return
			}
		}
	}
}

func (h *StreamHandler) writeFrame(conn *websocket.Conn, f sim.Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(NewStreamFrame(f))
}

// readPump drains client messages so control frames are processed, and
// cancels the stream when the client goes away.
func (h *StreamHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
