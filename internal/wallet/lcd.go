package wallet

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

var (
	// ErrNoEndpoint means none of the configured LCD endpoints served the expected chain.
	ErrNoEndpoint = errors.New("wallet: no reachable endpoint")

	// ErrQueryRejected is a non-2xx answer to a contract query.
	ErrQueryRejected = errors.New("wallet: query rejected")
)

const nodeInfoPath = "/cosmos/base/tendermint/v1beta1/node_info"

// Client is a wallet bound to one chain and one LCD endpoint.
type Client struct {
	Wallet  *Wallet
	ChainID string
	LCD     string

	http *http.Client
}

type nodeInfoResponse struct {
	DefaultNodeInfo struct {
		Network string `json:"network"`
		Moniker string `json:"moniker"`
	} `json:"default_node_info"`
}

// Dial probes endpoints in order and binds w to the first one serving chainID.
// There is no retry; callers decide whether to try again.
func Dial(ctx context.Context, w *Wallet, chainID string, endpoints []string, hc *http.Client) (*Client, error) {
	if w == nil {
		return nil, errors.New("wallet: nil wallet")
	}
	if hc == nil {
		hc = http.DefaultClient
	}

	var tried []error
	for _, ep := range endpoints {
		ep = strings.TrimRight(strings.TrimSpace(ep), "/")
		if ep == "" {
			continue
		}
		network, err := probe(ctx, hc, ep)
		if err != nil {
			log.Warn("lcd endpoint unreachable", "endpoint", ep, "error", err)
			tried = append(tried, errors.Wrapf(err, "%s", ep))
			continue
		}
		if network != chainID {
			log.Warn("lcd endpoint serves another chain", "endpoint", ep, "network", network, "want", chainID)
			tried = append(tried, errors.Newf("%s: network %q, want %q", ep, network, chainID))
			continue
		}
		log.Info("connected to lcd", "endpoint", ep, "chain_id", chainID, "address", w.Address())
		return &Client{Wallet: w, ChainID: chainID, LCD: ep, http: hc}, nil
	}

	if len(tried) == 0 {
		return nil, errors.Wrap(ErrNoEndpoint, "no endpoints configured")
	}
	return nil, errors.Mark(errors.Join(tried...), ErrNoEndpoint)
}

func probe(ctx context.Context, hc *http.Client, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+nodeInfoPath, nil)
	if err != nil {
		return "", err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("node_info status %d", resp.StatusCode)
	}
	var info nodeInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", errors.Wrap(err, "decode node_info")
	}
	return info.DefaultNodeInfo.Network, nil
}

type lcdError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type smartQueryResponse struct {
	Data string `json:"data"`
}

// QuerySmart runs a contract query and returns the raw JSON answer.
func (c *Client) QuerySmart(ctx context.Context, contract, codeHash string, msg []byte) ([]byte, error) {
	u := fmt.Sprintf("%s/compute/v1beta1/query/%s?query=%s",
		c.LCD, url.PathEscape(contract), url.QueryEscape(base64.StdEncoding.EncodeToString(msg)))
	if codeHash != "" {
		u += "&code_hash=" + url.QueryEscape(codeHash)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build query request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "query contract %s", contract)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read query response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var le lcdError
		if json.Unmarshal(body, &le) == nil && le.Message != "" {
			return nil, errors.Wrapf(ErrQueryRejected, "code %d: %s", le.Code, le.Message)
		}
		return nil, errors.Wrapf(ErrQueryRejected, "status %d", resp.StatusCode)
	}

	var out smartQueryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrap(err, "decode query response")
	}
	data, err := base64.StdEncoding.DecodeString(out.Data)
	if err != nil {
		return nil, errors.Wrap(err, "decode query data")
	}
	return data, nil
}
