package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/eth2030/triesync/core/types"
	"github.com/eth2030/triesync/trie"
)

// httpFetcher implements sync.Fetcher against a simple JSON-over-HTTP
// endpoint: POST {"hashes": ["0x...", ...]}, response {"data": {"0x...":
// "0x...", ...}}. Hashes the peer could not resolve are simply absent from
// the response map, matching the driver's "short response is not an error"
// contract. This stands in for the real p2p wire protocol, which is out of
// this module's scope.
type httpFetcher struct {
	client   *http.Client
	nodesURL string
	codeURL  string
}

func newHTTPFetcher(client *http.Client, nodesURL, codeURL string) *httpFetcher {
	return &httpFetcher{client: client, nodesURL: nodesURL, codeURL: codeURL}
}

type fetchRequest struct {
	Hashes []string `json:"hashes"`
}

type fetchResponse struct {
	Data map[string]string `json:"data"`
}

func (f *httpFetcher) FetchNodes(ctx context.Context, hashes []trie.NodeHash) (map[trie.NodeHash][]byte, error) {
	return f.fetch(ctx, f.nodesURL, hashes)
}

func (f *httpFetcher) FetchCode(ctx context.Context, hashes []trie.NodeHash) (map[trie.NodeHash][]byte, error) {
	return f.fetch(ctx, f.codeURL, hashes)
}

func (f *httpFetcher) fetch(ctx context.Context, url string, hashes []trie.NodeHash) (map[trie.NodeHash][]byte, error) {
	req := fetchRequest{Hashes: make([]string, len(hashes))}
	for i, h := range hashes {
		req.Hashes[i] = h.Hex()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("fetcher: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fetcher: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetcher: request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetcher: %s returned status %d", url, resp.StatusCode)
	}

	var out fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("fetcher: decode response: %w", err)
	}

	result := make(map[trie.NodeHash][]byte, len(out.Data))
	for hexHash, hexData := range out.Data {
		data, err := decodeHexData(hexData)
		if err != nil {
			return nil, fmt.Errorf("fetcher: decode data for %s: %w", hexHash, err)
		}
		result[types.HexToHash(hexHash)] = data
	}
	return result, nil
}

func decodeHexData(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
