// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-qrlive.
//
// go-qrlive is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package chain anchors payloads to public blockchains. Emitted payloads
// carry the current chain-head hashes; a verifier later checks that a
// payload's heads match heads the chain actually had, which bounds when
// the payload can have been created.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jeremyhahn/go-qrlive/pkg/logging"
	"github.com/jeremyhahn/go-qrlive/pkg/metrics"
	"github.com/jeremyhahn/go-qrlive/pkg/resilience"
)

// Supported chain names.
const (
	Bitcoin  = "bitcoin"
	Ethereum = "ethereum"
)

// DefaultChains is the stock anchoring set.
var DefaultChains = []string{Bitcoin, Ethereum}

// Public endpoints. Bitcoin explorers serve the tip hash as plain text;
// Ethereum goes through JSON-RPC.
const (
	bitcoinTipURL      = "https://blockstream.info/api/blocks/tip/hash"
	bitcoinFallbackURL = "https://blockchain.info/q/latesthash"
	ethereumRPCURL     = "https://cloudflare-eth.com"

	defaultCacheTTL    = 5 * time.Minute
	defaultHTTPTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
)

var (
	btcHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
	ethHashPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)
)

// Head is one chain's cached tip.
type Head struct {
	Chain     string    `json:"chain"`
	Hash      string    `json:"hash"`
	FetchedAt time.Time `json:"fetched_at"`
	Stale     bool      `json:"stale"`
}

// Config tunes a Verifier.
type Config struct {
	// Chains to anchor against. Defaults to DefaultChains.
	Chains []string

	// CacheTTL is how long a fetched head stays fresh.
	CacheTTL time.Duration

	// HTTPClient overrides the default client (10s timeout).
	HTTPClient *http.Client

	// BitcoinEndpoints overrides the explorer URLs, tried in order.
	BitcoinEndpoints []string

	// EthereumRPC overrides the JSON-RPC endpoint.
	EthereumRPC string

	// Retry tunes the per-endpoint retry policy. Defaults to the
	// network profile.
	Retry *resilience.RetryConfig

	// Breakers is the shared circuit breaker registry. A private one is
	// created when nil.
	Breakers *resilience.Manager

	Logger *logging.Logger
}

// Stats is a snapshot of the verifier's counters.
type Stats struct {
	TotalFetches  uint64          `json:"total_fetches"`
	FailedFetches uint64          `json:"failed_fetches"`
	CacheHits     uint64          `json:"cache_hits"`
	StaleServes   uint64          `json:"stale_serves"`
	Heads         map[string]Head `json:"heads"`
}

// Verifier fetches and caches chain heads for payload anchoring.
type Verifier struct {
	chains      []string
	ttl         time.Duration
	client      *http.Client
	btcURLs     []string
	ethURL      string
	retry       *resilience.RetryConfig
	breakers    *resilience.Manager
	logger      *logging.Logger

	mu    sync.RWMutex
	heads map[string]Head
	stats Stats
}

// New creates a Verifier from cfg. No network I/O happens until the
// first Heads call.
func New(cfg Config) *Verifier {
	chains := cfg.Chains
	if chains == nil {
		chains = DefaultChains
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	btcURLs := cfg.BitcoinEndpoints
	if btcURLs == nil {
		btcURLs = []string{bitcoinTipURL, bitcoinFallbackURL}
	}
	ethURL := cfg.EthereumRPC
	if ethURL == "" {
		ethURL = ethereumRPCURL
	}
	retry := cfg.Retry
	if retry == nil {
		retry = &resilience.RetryNetwork
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	breakers := cfg.Breakers
	if breakers == nil {
		breakers = resilience.NewManager(logger)
	}

	v := &Verifier{
		chains:   chains,
		ttl:      ttl,
		client:   client,
		btcURLs:  btcURLs,
		ethURL:   ethURL,
		retry:    retry,
		breakers: breakers,
		logger:   logger,
		heads:    make(map[string]Head),
	}
	for _, chain := range chains {
		breakers.Breaker(breakerName(chain), &resilience.ProfileBlockchain)
	}
	return v
}

func breakerName(chain string) string {
	return "blockchain_" + chain
}

// Heads returns the current head hash per enabled chain. Fresh cache
// entries are served directly; stale ones are refreshed, and if the
// refresh fails the stale value is served and marked in the stats. The
// map omits chains that have never been fetched successfully.
func (v *Verifier) Heads(ctx context.Context) map[string]string {
	out := make(map[string]string, len(v.chains))
	for _, chain := range v.chains {
		hash, err := v.head(ctx, chain)
		if err != nil {
			v.logger.Debugf("chain %s head unavailable: %v", chain, err)
			continue
		}
		out[chain] = hash
	}
	return out
}

func (v *Verifier) head(ctx context.Context, chain string) (string, error) {
	v.mu.RLock()
	cached, ok := v.heads[chain]
	fresh := ok && time.Since(cached.FetchedAt) < v.ttl
	v.mu.RUnlock()

	if fresh {
		v.mu.Lock()
		v.stats.CacheHits++
		v.mu.Unlock()
		return cached.Hash, nil
	}

	var hash string
	err := v.breakers.Execute(ctx, breakerName(chain), v.retry, func(ctx context.Context) error {
		var ferr error
		hash, ferr = v.fetch(ctx, chain)
		return ferr
	})

	v.mu.Lock()
	defer v.mu.Unlock()
	v.stats.TotalFetches++

	if err != nil {
		v.stats.FailedFetches++
		metrics.RecordChainFetch(chain, metrics.StatusError)
		if ok {
			// Serve the stale head rather than nothing.
			v.stats.StaleServes++
			stale := cached
			stale.Stale = true
			v.heads[chain] = stale
			v.logger.Warnf("chain %s fetch failed, serving stale head: %v", chain, err)
			return cached.Hash, nil
		}
		return "", err
	}

	metrics.RecordChainFetch(chain, metrics.StatusSuccess)
	v.heads[chain] = Head{
		Chain:     chain,
		Hash:      hash,
		FetchedAt: time.Now().UTC(),
	}
	return hash, nil
}

func (v *Verifier) fetch(ctx context.Context, chain string) (string, error) {
	switch chain {
	case Bitcoin:
		return v.fetchBitcoin(ctx)
	case Ethereum:
		return v.fetchEthereum(ctx)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedChain, chain)
	}
}

func (v *Verifier) fetchBitcoin(ctx context.Context) (string, error) {
	var lastErr error
	for _, url := range v.btcURLs {
		body, err := v.get(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		hash := strings.ToLower(strings.TrimSpace(string(body)))
		if !btcHashPattern.MatchString(hash) {
			lastErr = fmt.Errorf("%w: %q", ErrBadResponse, truncate(hash, 80))
			continue
		}
		return hash, nil
	}
	return "", fmt.Errorf("%w: bitcoin: %v", ErrFetchFailed, lastErr)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result *struct {
		Hash string `json:"hash"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (v *Verifier) fetchEthereum(ctx context.Context) (string, error) {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "eth_getBlockByNumber",
		Params:  []any{"latest", false},
		ID:      1,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.ethURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: ethereum: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: ethereum: status %d", ErrFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: ethereum: %v", ErrFetchFailed, err)
	}

	var rpc rpcResponse
	if err := json.Unmarshal(body, &rpc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if rpc.Error != nil {
		return "", fmt.Errorf("%w: rpc error %d: %s", ErrBadResponse, rpc.Error.Code, rpc.Error.Message)
	}
	if rpc.Result == nil {
		return "", fmt.Errorf("%w: empty result", ErrBadResponse)
	}
	hash := strings.ToLower(rpc.Result.Hash)
	if !ethHashPattern.MatchString(hash) {
		return "", fmt.Errorf("%w: %q", ErrBadResponse, truncate(hash, 80))
	}
	return hash, nil
}

func (v *Verifier) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

// Anchored reports whether any of the payload's recorded heads matches a
// head this verifier currently knows, cached values included. A payload
// with no recorded heads is not anchored.
func (v *Verifier) Anchored(ctx context.Context, payloadHeads map[string]string) bool {
	if len(payloadHeads) == 0 {
		return false
	}
	current := v.Heads(ctx)
	for chain, hash := range payloadHeads {
		if hash != "" && current[chain] == hash {
			return true
		}
	}
	return false
}

// Stats returns a counter snapshot including the cached heads.
func (v *Verifier) Stats() Stats {
	v.mu.RLock()
	defer v.mu.RUnlock()
	stats := v.stats
	stats.Heads = make(map[string]Head, len(v.heads))
	for chain, head := range v.heads {
		stats.Heads[chain] = head
	}
	return stats
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
