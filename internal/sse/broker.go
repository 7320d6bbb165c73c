package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/interviewace/session-server/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBufferSize  = 100
)

// Event types carried on a session channel.
const (
	EventTranscript       = "transcript"
	EventAnswer           = "answer"
	EventSessionStatus    = "session_status"
	EventDeviceRegistered = "device_registered"
	EventCountdown        = "countdown"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals data into an Event. Marshal failures yield an empty object.
func NewEvent(eventType string, data any) Event {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	return Event{Type: eventType, Data: raw}
}

type Client struct {
	SessionID string
	Events    chan Event
	Done      chan struct{}
}

// Broker fans Redis pub/sub messages out to the SSE clients of each session.
// Every server instance subscribes only to sessions it has local clients for.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // sessionID -> set of clients
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Events:    make(chan Event, clientBufferSize),
		Done:      make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[sessionID] == nil {
		b.clients[sessionID] = make(map[*Client]bool)
		if b.redis != nil {
			go b.subscribeToRedis(sessionID)
		}
	}
	b.clients[sessionID][client] = true
	clientCount := len(b.clients[sessionID])
	b.mu.Unlock()

	log.Info().
		Str("sessionId", sessionID).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.SessionID]; ok {
		if _, present := clients[client]; !present {
			return
		}
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.SessionID)
		}

		log.Info().
			Str("sessionId", client.SessionID).
			Int("clientCount", len(clients)).
			Msg("sse client unsubscribed")
	}
}

// Publish sends the event to every subscriber of the session on any instance.
func (b *Broker) Publish(ctx context.Context, sessionID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if b.redis == nil {
		b.broadcast(sessionID, event)
		return nil
	}

	channel := redisclient.SessionChannel(sessionID)
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) subscribeToRedis(sessionID string) {
	channel := redisclient.SessionChannel(sessionID)
	pubsub := b.redis.Subscribe(b.ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("sessionId", sessionID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			if !b.broadcast(sessionID, event) {
				return
			}
		}
	}
}

// broadcast delivers to local clients and reports whether any remain.
func (b *Broker) broadcast(sessionID string, event Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	clients, ok := b.clients[sessionID]
	if !ok {
		return false
	}

	for client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("sessionId", sessionID).
				Str("eventType", event.Type).
				Msg("client event buffer full, dropping event")
		}
	}
	return true
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
}

func (b *Broker) ClientCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[sessionID])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
