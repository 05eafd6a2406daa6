// Package testclient drives a running tilerd over WebSocket and HTTP.
package testclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RumyantsevMichael/triangular-tiler/internal/mapfile"
)

// Request is one generation request. Zero fields take the server defaults.
type Request struct {
	Width       int   `json:"width,omitempty"`
	Height      int   `json:"height,omitempty"`
	Seed        int64 `json:"seed,omitempty"`
	MaxAttempts int   `json:"max_attempts,omitempty"`
}

// Response is one server reply. Type is "map" or "error".
type Response struct {
	Type  string            `json:"type"`
	Map   *mapfile.Document `json:"map,omitempty"`
	Error string            `json:"error,omitempty"`
}

// TestClient represents a test client connection to the tiler server
type TestClient struct {
	Name      string
	address   string
	conn      *websocket.Conn
	httpc     *http.Client
	responses []Response
	readErr   error
	writeMu   sync.Mutex
	mu        sync.Mutex
	closeOnce sync.Once
}

// NewTestClient connects to ws://address/ws. address is host:port.
func NewTestClient(name, address string) (*TestClient, error) {
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+address+"/ws", nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	client := &TestClient{
		Name:    name,
		address: address,
		conn:    conn,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}

	// Start reading messages in background
	go client.readMessages()

	return client, nil
}

// readMessages continuously reads responses from the server
func (c *TestClient) readMessages() {
	for {
		var resp Response
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		c.responses = append(c.responses, resp)
		c.mu.Unlock()
	}
}

// Send writes a request without waiting for the reply
func (c *TestClient) Send(req Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(req)
}

// SendRaw writes an arbitrary text message
func (c *TestClient) SendRaw(msg string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// Generate sends a request and waits for its reply
func (c *TestClient) Generate(req Request, timeout time.Duration) (Response, error) {
	before := len(c.GetResponses())
	if err := c.Send(req); err != nil {
		return Response{}, err
	}
	return c.WaitForResponse(before, timeout)
}

// WaitForResponse waits until more than n responses have arrived and
// returns response n
func (c *TestClient) WaitForResponse(n int, timeout time.Duration) (Response, error) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.responses) > n {
			resp := c.responses[n]
			c.mu.Unlock()
			return resp, nil
		}
		err := c.readErr
		c.mu.Unlock()
		if err != nil {
			return Response{}, fmt.Errorf("connection closed: %w", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	return Response{}, fmt.Errorf("no response within %s", timeout)
}

// GetResponses returns all responses received so far
func (c *TestClient) GetResponses() []Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]Response, len(c.responses))
	copy(result, c.responses)
	return result
}

// GetJSON fetches an HTTP endpoint of the same server and decodes its body
func (c *TestClient) GetJSON(path string, v any) (int, error) {
	resp, err := c.httpc.Get("http://" + c.address + path)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// Get fetches an HTTP endpoint and returns the status and content type
func (c *TestClient) Get(path string) (int, string, error) {
	resp, err := c.httpc.Get("http://" + c.address + path)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	return resp.StatusCode, resp.Header.Get("Content-Type"), nil
}

// Close closes the client connection
func (c *TestClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// PrintResponses prints all responses (for debugging)
func (c *TestClient) PrintResponses() {
	fmt.Printf("\n=== Responses for %s ===\n", c.Name)
	for i, resp := range c.GetResponses() {
		switch {
		case resp.Error != "":
			fmt.Printf("[%d] error: %s\n", i, resp.Error)
		case resp.Map != nil:
			fmt.Printf("[%d] map %dx%d seed %d\n", i, resp.Map.Width, resp.Map.Height, resp.Map.Seed)
		default:
			fmt.Printf("[%d] %s\n", i, resp.Type)
		}
	}
	fmt.Println(strings.Repeat("=", 22))
}
