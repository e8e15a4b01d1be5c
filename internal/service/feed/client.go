package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"PredServe/internal/domain/models"
	drepo "PredServe/internal/domain/repository"

	"github.com/gorilla/websocket"
)

// Client implements a FeatureStream over the upstream extraction
// pipeline's WebSocket push endpoint.
type Client struct {
	websocketURL   string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration

	conn      *websocket.Conn
	connected bool
}

// New creates a WebSocket-backed FeatureStream.
func New(websocketURL string, symbols []string, reconnectDelay, pingInterval time.Duration) drepo.FeatureStream {
	return &Client{
		websocketURL:   websocketURL,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.websocketURL, nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	log.Printf("feed: connected")
	return nil
}

// Subscribe subscribes to configured symbols.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil || !c.connected {
		return fmt.Errorf("feed not connected")
	}
	for _, s := range c.symbols {
		msg := map[string]string{"type": "subscribe", "symbol": s}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		log.Printf("feed: subscribed %s", s)
	}
	return nil
}

type feedFrame struct {
	Type string               `json:"type"`
	Data []feedFeaturePayload `json:"data"`
}

type feedFeaturePayload struct {
	Symbol     string             `json:"symbol"`
	Features   map[string]float64 `json:"features"`
	Confidence float64            `json:"confidence"`
	Quality    float64            `json:"quality"`
	Provider   string             `json:"provider"`
	T          int64              `json:"t"` // ms
}

// Read streams fresh feature vectors and errors.
func (c *Client) Read(ctx context.Context) (<-chan *models.FeatureVector, <-chan error) {
	vectors := make(chan *models.FeatureVector, 1024)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(vectors)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if c.conn == nil {
					errs <- fmt.Errorf("feed conn nil")
					return
				}
				_, b, err := c.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("feed read: %w", err)
					return
				}
				var m feedFrame
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore non-feature frames
					continue
				}
				if m.Type != "features" {
					continue
				}
				for _, d := range m.Data {
					v := &models.FeatureVector{
						Symbol:           d.Symbol,
						Timestamp:        time.UnixMilli(d.T),
						Features:         d.Features,
						ConfidenceScore:  d.Confidence,
						DataQualityScore: d.Quality,
						SourceProvider:   d.Provider,
					}
					select {
					case vectors <- v:
					default:
						// drop on backpressure
					}
				}
			}
		}
	}()

	return vectors, errs
}

// Reconnect closes and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	time.Sleep(c.reconnectDelay)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected }
