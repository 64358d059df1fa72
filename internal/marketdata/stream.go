package marketdata

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stockfolio/internal/models"
)

// QuoteStream streams live quote updates from the provider's websocket
// endpoint. It reconnects with exponential backoff and resubscribes to the
// previously subscribed symbols after a reconnect.
type QuoteStream struct {
	url    string
	apiKey string

	// Handlers
	onQuote      func(models.Quote)
	onError      func(error)
	onConnect    func()
	onDisconnect func()

	// State
	conn       *websocket.Conn
	connected  bool
	subscribed map[models.Symbol]struct{}

	// Reconnection
	reconnecting bool
	maxRetries   int
	baseDelay    time.Duration

	mu      sync.RWMutex
	writeMu sync.Mutex // Protects websocket writes
}

// QuoteStreamConfig holds configuration for the quote stream.
type QuoteStreamConfig struct {
	URL        string
	APIKey     string
	MaxRetries int
	BaseDelay  time.Duration
}

// NewQuoteStream creates a new quote stream instance.
func NewQuoteStream(cfg QuoteStreamConfig) *QuoteStream {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = time.Second
	}

	return &QuoteStream{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		subscribed: make(map[models.Symbol]struct{}),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// wire messages

type streamCommand struct {
	Action  string   `json:"action"` // "subscribe" or "unsubscribe"
	Symbols []string `json:"symbols"`
	APIKey  string   `json:"api_key,omitempty"`
}

type streamMessage struct {
	Type  string    `json:"type"` // "quote" or "error"
	Quote wireQuote `json:"quote"`
	Error string    `json:"error"`
}

// Connect establishes the websocket connection and starts the read loop.
func (s *QuoteStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", s.url, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	wasReconnecting := s.reconnecting
	s.reconnecting = false
	s.mu.Unlock()

	go s.readLoop(ctx, conn)

	if wasReconnecting {
		// Restore subscriptions silently; the external handler already ran
		// on the first connect.
		s.resubscribe()
		return nil
	}

	if s.onConnect != nil {
		go s.onConnect()
	}
	return nil
}

// Disconnect closes the websocket connection.
func (s *QuoteStream) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.connected = false
	}
	return nil
}

// Subscribe subscribes to live updates for the given symbols.
func (s *QuoteStream) Subscribe(symbols []models.Symbol) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return fmt.Errorf("not connected")
	}
	for _, sym := range symbols {
		s.subscribed[sym] = struct{}{}
	}
	conn := s.conn
	s.mu.Unlock()

	return s.send(conn, streamCommand{
		Action:  "subscribe",
		Symbols: symbolStrings(symbols),
		APIKey:  s.apiKey,
	})
}

// Unsubscribe stops live updates for the given symbols.
func (s *QuoteStream) Unsubscribe(symbols []models.Symbol) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return fmt.Errorf("not connected")
	}
	for _, sym := range symbols {
		delete(s.subscribed, sym)
	}
	conn := s.conn
	s.mu.Unlock()

	return s.send(conn, streamCommand{
		Action:  "unsubscribe",
		Symbols: symbolStrings(symbols),
	})
}

// OnQuote sets the quote handler.
func (s *QuoteStream) OnQuote(handler func(models.Quote)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onQuote = handler
}

// OnError sets the error handler.
func (s *QuoteStream) OnError(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = handler
}

// OnConnect sets the connect handler.
func (s *QuoteStream) OnConnect(handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = handler
}

// OnDisconnect sets the disconnect handler.
func (s *QuoteStream) OnDisconnect(handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = handler
}

// IsConnected returns whether the stream is connected.
func (s *QuoteStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *QuoteStream) send(conn *websocket.Conn, cmd streamCommand) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(cmd)
}

func (s *QuoteStream) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			s.mu.Lock()
			wasConnected := s.connected
			s.connected = false
			s.mu.Unlock()

			if ctx.Err() != nil {
				return
			}

			if s.onDisconnect != nil && wasConnected {
				go s.onDisconnect()
			}
			go s.reconnect(ctx)
			return
		}

		switch msg.Type {
		case "quote":
			if s.onQuote != nil {
				go s.onQuote(convertQuote(msg.Quote))
			}
		case "error":
			if s.onError != nil {
				go s.onError(fmt.Errorf("stream error: %s", msg.Error))
			}
		}
	}
}

// reconnect attempts to reconnect with exponential backoff.
func (s *QuoteStream) reconnect(ctx context.Context) {
	s.mu.Lock()
	if s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		delay := s.baseDelay * time.Duration(math.Pow(2, float64(attempt)))
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		s.mu.RLock()
		connected := s.connected
		s.mu.RUnlock()
		if connected {
			return
		}

		if err := s.Connect(ctx); err == nil {
			return
		}
	}

	s.mu.Lock()
	s.reconnecting = false
	s.mu.Unlock()

	if s.onError != nil {
		s.onError(fmt.Errorf("max reconnection attempts reached"))
	}
}

// resubscribe restores subscriptions after a reconnect.
func (s *QuoteStream) resubscribe() {
	s.mu.RLock()
	symbols := make([]models.Symbol, 0, len(s.subscribed))
	for sym := range s.subscribed {
		symbols = append(symbols, sym)
	}
	conn := s.conn
	s.mu.RUnlock()

	if len(symbols) == 0 || conn == nil {
		return
	}

	s.send(conn, streamCommand{
		Action:  "subscribe",
		Symbols: symbolStrings(symbols),
		APIKey:  s.apiKey,
	})
}

func symbolStrings(symbols []models.Symbol) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = s.String()
	}
	return out
}
