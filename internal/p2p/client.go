package p2p

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every outbound peer request, so one unreachable
// peer can never stall gossip for the others.
const DefaultTimeout = 5 * time.Second

// Client issues the HTTP calls a node makes to its peers: registration,
// block gossip, and chain sync. Transactions are never pushed peer to
// peer; wallets submit them directly to a node.
type Client struct {
	http   *http.Client
	logger zerolog.Logger
}

// NewClient returns a client bounding every request to timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		logger: log.WithComponent("p2p"),
	}
}

func (c *Client) postJSON(ctx context.Context, url string, body any, out any) error {
	buf := &bytes.Buffer{}
	if body != nil {
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("peer %s responded %d", url, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("peer %s responded %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RegisterWith asks a peer to add selfURL to its peer set, and returns the
// peer's own known-peer list for transitive discovery.
func (c *Client) RegisterWith(ctx context.Context, peerURL, selfURL string) ([]string, error) {
	var resp struct {
		Peers []string `json:"peers"`
	}
	err := c.postJSON(ctx, peerURL+"/peers/register", map[string]string{"url": selfURL}, &resp)
	return resp.Peers, err
}

// Ping checks that a peer is reachable, identifying this node by selfURL.
func (c *Client) Ping(ctx context.Context, peerURL, selfURL string) error {
	var resp struct {
		OK   bool `json:"ok"`
		Pong bool `json:"pong"`
	}
	return c.postJSON(ctx, peerURL+"/ping", map[string]string{"from": selfURL}, &resp)
}

// FetchLatestBlock retrieves a peer's canonical tip.
func (c *Client) FetchLatestBlock(ctx context.Context, peerURL string) (*block.Block, error) {
	var resp struct {
		Latest *block.Block `json:"latest"`
	}
	if err := c.getJSON(ctx, peerURL+"/blocks/latest", &resp); err != nil {
		return nil, err
	}
	return resp.Latest, nil
}

// FetchChain retrieves a peer's full canonical chain, genesis first.
func (c *Client) FetchChain(ctx context.Context, peerURL string) ([]*block.Block, error) {
	var resp struct {
		Chain []*block.Block `json:"chain"`
	}
	if err := c.getJSON(ctx, peerURL+"/blocks", &resp); err != nil {
		return nil, err
	}
	return resp.Chain, nil
}

// FetchBlock retrieves a single block by hash from a peer, used when
// resolving an orphan's missing parent.
func (c *Client) FetchBlock(ctx context.Context, peerURL, hash string) (*block.Block, error) {
	var resp struct {
		OK    bool         `json:"ok"`
		Block *block.Block `json:"block"`
	}
	if err := c.getJSON(ctx, peerURL+"/blocks/"+hash, &resp); err != nil {
		return nil, err
	}
	return resp.Block, nil
}

// BlockPush is the wire body of a block push: the block itself, the URL of
// the peer that sent it directly (if any), and the trail of URLs it has
// already passed through, used for gossip loop prevention.
type BlockPush struct {
	Block         *block.Block `json:"block"`
	Sender        string       `json:"sender,omitempty"`
	PreviousPeers []string     `json:"previousPeers,omitempty"`
}

// PushBlock sends a newly known block to one peer, carrying the gossip
// trail so the recipient can extend it before rebroadcasting.
func (c *Client) PushBlock(ctx context.Context, peerURL string, push BlockPush) error {
	return c.postJSON(ctx, peerURL+"/blocks", push, nil)
}

// BroadcastBlock pushes b to every peer in urls, except selfURL's previous
// hop (sender) and any peer already present in previousPeers, appending
// selfURL to the trail handed to each recipient. Callers must not invoke
// this when selfURL already appears in previousPeers: that is the loop-
// prevention condition under which a node must not rebroadcast at all.
func (c *Client) BroadcastBlock(ctx context.Context, urls []string, selfURL, sender string, previousPeers []string, b *block.Block) {
	visited := make(map[string]bool, len(previousPeers)+1)
	for _, p := range previousPeers {
		visited[p] = true
	}
	if sender != "" {
		visited[sender] = true
	}

	trail := append(append([]string(nil), previousPeers...), selfURL)
	for _, u := range urls {
		if visited[u] {
			continue
		}
		push := BlockPush{Block: b, Sender: selfURL, PreviousPeers: trail}
		if err := c.PushBlock(ctx, u, push); err != nil {
			c.logger.Warn().Str("peer", u).Err(err).Msg("block broadcast failed")
		}
	}
}
