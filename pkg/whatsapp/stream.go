package whatsapp

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wakb/wakb/pkg/config"
)

const (
	streamReadLimit    = 1 << 20
	streamPongWait     = 60 * time.Second
	streamPingPeriod   = 45 * time.Second
	streamMaxBackoff   = 2 * time.Minute
	streamFirstBackoff = time.Second
)

// EventStream consumes the gateway's websocket event feed. Raw event
// payloads are delivered on Events; the stream reconnects with exponential
// backoff until the context is cancelled.
type EventStream struct {
	url    string
	header http.Header
	events chan []byte
}

// NewEventStream creates a stream for the gateway in the configuration.
func NewEventStream(cfg config.WhatsAppConfig) *EventStream {
	host := cfg.Host
	if host == "" {
		host = config.Default().WhatsApp.Host
	}
	url := strings.Replace(host, "http://", "ws://", 1)
	url = strings.Replace(url, "https://", "wss://", 1)

	header := http.Header{}
	if cfg.BasicAuthUser != "" {
		req, _ := http.NewRequest(http.MethodGet, host, nil)
		req.SetBasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPassword)
		header.Set("Authorization", req.Header.Get("Authorization"))
	}

	return &EventStream{
		url:    url + "/ws",
		header: header,
		events: make(chan []byte, 64),
	}
}

// Events returns the channel carrying raw gateway event payloads. It is
// closed when Run returns.
func (s *EventStream) Events() <-chan []byte {
	return s.events
}

// Run connects and keeps reading events until ctx is cancelled.
func (s *EventStream) Run(ctx context.Context) {
	defer close(s.events)

	backoff := streamFirstBackoff
	for {
		if err := s.readLoop(ctx); err != nil {
			log.Warn().Err(err).Str("url", s.url).Msg("gateway event stream disconnected")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > streamMaxBackoff {
			backoff = streamMaxBackoff
		}
	}
}

func (s *EventStream) readLoop(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Info().Str("url", s.url).Msg("gateway event stream connected")

	conn.SetReadLimit(streamReadLimit)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(streamPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case s.events <- payload:
		case <-ctx.Done():
			return nil
		default:
			log.Warn().Msg("gateway event dropped, consumer too slow")
		}
	}
}
