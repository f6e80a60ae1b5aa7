// Package entropy supplies run seeds from random.org when an API key is set.
// Falls back to crypto/rand when the API is unavailable.
package entropy

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	defaultEndpoint = "https://api.random.org/json-rpc/4/invoke"
	// random.org integers are limited to ±1e9; two draws make one seed.
	halfRange = 1_000_000_000
	batchSize = 20
)

// Client provides seeds drawn from random.org with a local pool.
type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client

	mu   sync.Mutex
	pool []int64
}

// NewClient creates a random.org client. Returns nil if apiKey is empty.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Seed returns a non-negative seed. Uses the pool, refilling from random.org
// when empty. Falls back to crypto/rand on API failure or a nil client.
func (c *Client) Seed() int64 {
	if c == nil {
		return CryptoSeed()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pool) == 0 {
		c.refill()
	}
	if len(c.pool) == 0 {
		return CryptoSeed()
	}

	val := c.pool[0]
	c.pool = c.pool[1:]
	return val
}

func (c *Client) refill() {
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  "generateIntegers",
		"params": map[string]any{
			"apiKey":      c.apiKey,
			"n":           2 * batchSize,
			"min":         0,
			"max":         halfRange - 1,
			"replacement": true,
		},
		"id": 1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		slog.Debug("random.org marshal failed", "error", err)
		return
	}

	resp, err := c.client.Post(c.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		slog.Debug("random.org fetch failed", "error", err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Debug("random.org read failed", "error", err)
		return
	}

	var result struct {
		Result struct {
			Random struct {
				Data []int64 `json:"data"`
			} `json:"random"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(respBody, &result); err != nil {
		slog.Debug("random.org parse failed", "error", err)
		return
	}

	if result.Error != nil {
		slog.Debug("random.org API error", "error", result.Error.Message)
		return
	}

	data := result.Result.Random.Data
	for i := 0; i+1 < len(data); i += 2 {
		c.pool = append(c.pool, data[i]*halfRange+data[i+1])
	}
	slog.Debug("random.org seed pool refilled", "count", len(data)/2)
}

// CryptoSeed returns a non-negative seed from crypto/rand.
func CryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return time.Now().UnixNano() & (1<<63 - 1)
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Resolve returns seed unchanged when it is non-zero and a fresh seed from c
// otherwise.
func Resolve(seed int64, c *Client) int64 {
	if seed != 0 {
		return seed
	}
	return c.Seed()
}
