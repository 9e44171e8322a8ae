package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"copytrade_go/internal/domain"
)

// streamMessage is the envelope of the subscriptions feed.
type streamMessage struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Source  string          `json:"source_ref,omitempty"`
}

type streamRequest struct {
	Op      string         `json:"op"`
	Channel string         `json:"channel,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	Ts      int64          `json:"ts,omitempty"`
}

// ChannelName is the feed channel for a leader's events of one type.
func ChannelName(leaderID string, eventType domain.LeaderEventType) string {
	return string(eventType) + ":" + leaderID
}

// WSLeaderStreamConfig configures a WSLeaderStream.
type WSLeaderStreamConfig struct {
	URL          string
	PingInterval time.Duration
	ReadTimeout  time.Duration
	Recorder     *MetricsRecorder // optional
}

// WSLeaderStream is a domain.LeaderStream over a JSON websocket feed.
// Every subscription has one consumer goroutine, and the read loop waits for
// the handler to finish before reading the next frame.
type WSLeaderStream struct {
	ws       *BaseWSWorker
	url      string
	recorder *MetricsRecorder
	now      func() time.Time

	mu   sync.Mutex
	subs map[string]*wsSubscription
}

// NewWSLeaderStream creates a stream. Call Start to connect.
func NewWSLeaderStream(cfg WSLeaderStreamConfig) *WSLeaderStream {
	s := &WSLeaderStream{
		url:      cfg.URL,
		recorder: cfg.Recorder,
		now:      time.Now,
		subs:     make(map[string]*wsSubscription),
	}
	s.ws = NewBaseWSWorker(s)
	if cfg.PingInterval > 0 {
		s.ws.PingInterval = cfg.PingInterval
	}
	if cfg.ReadTimeout > 0 {
		s.ws.ReadTimeout = cfg.ReadTimeout
	}
	if s.recorder != nil {
		s.ws.OnReconnect = s.recorder.IncReconnect
	}
	return s
}

// Start connects and keeps reconnecting until ctx is done or Close is called.
func (s *WSLeaderStream) Start(ctx context.Context) {
	s.ws.Start(ctx)
}

// Close tears down the connection and every remaining subscription.
func (s *WSLeaderStream) Close() {
	s.mu.Lock()
	subs := make([]*wsSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	s.ws.Stop()
}

// Subscribe registers handler for the leader's events of eventType.
// The subscription survives reconnects.
func (s *WSLeaderStream) Subscribe(ctx context.Context, leaderID string, eventType domain.LeaderEventType, handler domain.EventHandler) (domain.Subscription, error) {
	channel := ChannelName(leaderID, eventType)

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &wsSubscription{
		stream:    s,
		channel:   channel,
		leaderID:  leaderID,
		eventType: eventType,
		handler:   handler,
		queue:     make(chan delivery),
		done:      make(chan struct{}),
		ctx:       subCtx,
		cancel:    cancel,
	}

	s.mu.Lock()
	if _, exists := s.subs[channel]; exists {
		s.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("already subscribed to %s", channel)
	}
	s.subs[channel] = sub
	s.mu.Unlock()

	go sub.consume()

	if err := s.send(sub.request("subscribe")); err != nil && !errors.Is(err, ErrNotConnected) {
		s.remove(channel)
		sub.stop()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	slog.Info("Leader subscription registered", slog.String("channel", channel))
	return sub, nil
}

// WebSocketHandler implementation

func (s *WSLeaderStream) GetURL() string { return s.url }
func (s *WSLeaderStream) ID() string     { return "LEADER_STREAM" }

// OnConnect replays every registered subscription.
func (s *WSLeaderStream) OnConnect(ctx context.Context) error {
	s.mu.Lock()
	reqs := make([]streamRequest, 0, len(s.subs))
	for _, sub := range s.subs {
		reqs = append(reqs, sub.request("subscribe"))
	}
	s.mu.Unlock()

	for _, r := range reqs {
		if err := s.send(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *WSLeaderStream) OnPing(ctx context.Context) error {
	return s.send(streamRequest{Op: "ping", Ts: s.now().UnixMilli()})
}

func (s *WSLeaderStream) OnMessage(ctx context.Context, msg []byte) {
	var m streamMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		slog.Warn("Leader stream: malformed frame", slog.Any("error", err))
		return
	}
	if m.Channel == "" || len(m.Data) == 0 {
		return // pong, acks
	}

	s.mu.Lock()
	sub := s.subs[m.Channel]
	s.mu.Unlock()
	if sub == nil {
		return
	}

	var ev domain.LeaderEvent
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		slog.Warn("Leader stream: malformed event", slog.String("channel", m.Channel), slog.Any("error", err))
		return
	}
	if ev.Type == "" {
		ev.Type = sub.eventType
	}
	if ev.LeaderID == "" {
		ev.LeaderID = sub.leaderID
	}
	if ev.Source == "" {
		ev.Source = m.Source
	}

	if s.recorder != nil && ev.Timestamp > 0 {
		s.recorder.SetSubscriptionLag(s.now().Sub(time.UnixMilli(ev.Timestamp)))
	}

	sub.deliver(ctx, ev)
}

func (s *WSLeaderStream) send(r streamRequest) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.ws.Write(websocket.TextMessage, data)
}

func (s *WSLeaderStream) remove(channel string) {
	s.mu.Lock()
	delete(s.subs, channel)
	s.mu.Unlock()
}

type delivery struct {
	ev  domain.LeaderEvent
	ack chan struct{}
}

type wsSubscription struct {
	stream    *WSLeaderStream
	channel   string
	leaderID  string
	eventType domain.LeaderEventType
	handler   domain.EventHandler

	queue  chan delivery
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (sub *wsSubscription) request(op string) streamRequest {
	r := streamRequest{Op: op, Channel: sub.channel}
	if op == "subscribe" {
		r.Params = map[string]any{"leaderId": sub.leaderID, "eventType": string(sub.eventType)}
	}
	return r
}

func (sub *wsSubscription) consume() {
	for {
		select {
		case <-sub.done:
			return
		case d := <-sub.queue:
			if err := sub.handler(sub.ctx, d.ev); err != nil {
				slog.Warn("Leader event handler failed",
					slog.String("channel", sub.channel),
					slog.Any("error", err))
			}
			close(d.ack)
		}
	}
}

// deliver blocks until the handler has finished with ev.
func (sub *wsSubscription) deliver(ctx context.Context, ev domain.LeaderEvent) {
	d := delivery{ev: ev, ack: make(chan struct{})}
	select {
	case sub.queue <- d:
	case <-sub.done:
		return
	case <-ctx.Done():
		return
	}
	select {
	case <-d.ack:
	case <-sub.done:
	case <-ctx.Done():
	}
}

func (sub *wsSubscription) stop() {
	sub.once.Do(func() {
		sub.cancel()
		close(sub.done)
	})
}

// Unsubscribe removes the subscription. Safe to call more than once.
func (sub *wsSubscription) Unsubscribe(ctx context.Context) error {
	var err error
	sub.once.Do(func() {
		sub.stream.remove(sub.channel)
		if werr := sub.stream.send(sub.request("unsubscribe")); werr != nil && !errors.Is(werr, ErrNotConnected) {
			err = fmt.Errorf("unsubscribe %s: %w", sub.channel, werr)
		}
		sub.cancel()
		close(sub.done)
		slog.Info("Leader subscription removed", slog.String("channel", sub.channel))
	})
	return err
}
