package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// TokenMinter credits reward tokens. Implementations must treat reason as an
// idempotency key: a repeated reason never credits twice.
type TokenMinter interface {
	Mint(ctx context.Context, to string, amount uint64, reason string) error
}

// MintClaims authenticate one mint request to the token service.
type MintClaims struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
	jwt.RegisteredClaims
}

// HTTPTokenMinter calls the reward-token service. Each request carries an
// Idempotency-Key header and a short-lived HS256 token whose jti is the same key.
type HTTPTokenMinter struct {
	BaseURL string
	Secret  []byte
	Issuer  string
	TTL     time.Duration
	Client  *http.Client
	Clock   clockwork.Clock
}

func NewHTTPTokenMinter(baseURL, secret string) *HTTPTokenMinter {
	return &HTTPTokenMinter{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Secret:  []byte(secret),
		Issuer:  "game-reward-ledger",
		TTL:     time.Minute,
		Client: &http.Client{
			Timeout: 15 * time.Second,
		},
		Clock: clockwork.NewRealClock(),
	}
}

type mintRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

func (m *HTTPTokenMinter) signRequest(to string, amount uint64, reason string) (string, error) {
	now := m.Clock.Now()
	claims := MintClaims{
		To:     to,
		Amount: strconv.FormatUint(amount, 10),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        reason,
			Issuer:    m.Issuer,
			Subject:   to,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.Secret)
}

func (m *HTTPTokenMinter) Mint(ctx context.Context, to string, amount uint64, reason string) error {
	token, err := m.signRequest(to, amount, reason)
	if err != nil {
		return fmt.Errorf("sign mint request: %w", err)
	}

	body, err := json.Marshal(mintRequest{To: to, Amount: strconv.FormatUint(amount, 10), Reason: reason})
	if err != nil {
		return fmt.Errorf("encode mint request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+"/mint", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mint request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", reason)

	resp, err := m.Client.Do(req)
	if err != nil {
		return fmt.Errorf("token service unreachable: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Key already consumed: the earlier attempt credited the player.
		log.Printf("🔁 [MINT] token service already processed %s", reason)
		return nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("token service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

// LocalTokenMinter keeps balances in memory. It stands in for the token
// service in development and tests.
type LocalTokenMinter struct {
	mu       sync.Mutex
	balances map[string]uint64
	credited map[string]uint64
}

func NewLocalTokenMinter() *LocalTokenMinter {
	return &LocalTokenMinter{
		balances: make(map[string]uint64),
		credited: make(map[string]uint64),
	}
}

func (m *LocalTokenMinter) Mint(_ context.Context, to string, amount uint64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credited[reason]; ok {
		log.Printf("🔁 [MINT] %s already credited, skipping", reason)
		return nil
	}
	m.credited[reason] = amount
	m.balances[to] += amount
	log.Printf("🪙 [MINT] credited %d to %s (%s)", amount, to, reason)
	return nil
}

func (m *LocalTokenMinter) Balance(account string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account]
}
