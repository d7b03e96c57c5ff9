// Package comms listens for contract notifications on the chain's websocket RPC endpoints.
package comms

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/nfps-dev/nfp-bootloader/internal/nfpx"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"golang.org/x/sync/errgroup"
)

var ErrNoEndpoints = errors.New("comms: no endpoints")

// recentEvents bounds how many delivered events Run remembers for dedup.
const recentEvents = 1024

// Event is one transaction event that touched the contract on a watched channel.
type Event struct {
	Endpoint string   `json:"endpoint"`
	Channel  string   `json:"channel"`
	Values   []string `json:"values"`
	// Attributes holds every indexed attribute of the transaction.
	Attributes map[string][]string `json:"attributes,omitempty"`
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int            `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

type rpcResponse struct {
	ID     int `json:"id"`
	Result struct {
		Query  string              `json:"query"`
		Events map[string][]string `json:"events"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    string `json:"data"`
	} `json:"error"`
}

// Subscriber fans events from every endpoint into one channel. An endpoint that fails is
// dropped; Run fails only when none of them can be used.
type Subscriber struct {
	Endpoints []string
	Contract  string
	// Channels filters events by wasm attribute key. Empty means every contract event.
	Channels []string

	Dialer *websocket.Dialer
}

// FromNamespace watches the namespace's contract through its comms endpoints.
func FromNamespace(ns *nfpx.Namespace, channels ...string) *Subscriber {
	return &Subscriber{
		Endpoints: ns.Comms(),
		Contract:  ns.Contract().Address,
		Channels:  channels,
	}
}

func (s *Subscriber) query() string {
	return fmt.Sprintf("wasm.contract_address='%s'", s.Contract)
}

// Run delivers matching events to out until ctx ends. It does not close out.
func (s *Subscriber) Run(ctx context.Context, out chan<- Event) error {
	if len(s.Endpoints) == 0 {
		return ErrNoEndpoints
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	seen := newSeenSet(recentEvents)
	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range s.Endpoints {
		g.Go(func() error {
			err := s.listen(gctx, ep, seen, out)
			if err != nil && gctx.Err() == nil {
				log.Warn("comms endpoint dropped", "endpoint", ep, "error", err)
				mu.Lock()
				errs = append(errs, errors.Wrapf(err, "%s", ep))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() == nil && len(errs) == len(s.Endpoints) {
		return errors.Join(errs...)
	}
	return nil
}

func (s *Subscriber) listen(ctx context.Context, endpoint string, seen *seenSet, out chan<- Event) error {
	dialer := s.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "subscribe",
		Params:  map[string]any{"query": s.query()},
	}); err != nil {
		return errors.Wrap(err, "send subscribe")
	}
	log.Info("comms subscribed", "endpoint", endpoint, "contract", s.Contract)

	for {
		var msg rpcResponse
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read")
		}
		if msg.Error != nil {
			return errors.Newf("subscribe rejected: %d %s %s", msg.Error.Code, msg.Error.Message, msg.Error.Data)
		}
		// the first answer only acknowledges the subscription
		if msg.Result.Events == nil {
			continue
		}
		for _, ev := range s.match(endpoint, msg.Result.Events) {
			if !seen.add(ev.key()) {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (s *Subscriber) match(endpoint string, attrs map[string][]string) []Event {
	if len(s.Channels) == 0 {
		return []Event{{Endpoint: endpoint, Values: attrs["wasm.contract_address"], Attributes: attrs}}
	}
	var evs []Event
	for _, ch := range s.Channels {
		for key, values := range attrs {
			if !strings.HasPrefix(key, "wasm.") {
				continue
			}
			name := strings.TrimPrefix(key, "wasm.")
			if name == ch || name == "snip52:"+ch {
				evs = append(evs, Event{Endpoint: endpoint, Channel: ch, Values: values, Attributes: attrs})
			}
		}
	}
	return evs
}

// key identifies the event across endpoints. Events without a tx hash have none.
func (e Event) key() string {
	hash := e.Attributes["tx.hash"]
	if len(hash) == 0 {
		return ""
	}
	return strings.Join(append([]string{hash[0], e.Channel}, e.Values...), "\x00")
}

// seenSet remembers the last limit keys in arrival order.
type seenSet struct {
	mu    sync.Mutex
	keys  map[string]struct{}
	ring  []string
	next  int
	limit int
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{keys: make(map[string]struct{}, limit), ring: make([]string, limit), limit: limit}
}

// add reports whether key is new. The empty key is always new.
func (s *seenSet) add(key string) bool {
	if key == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.keys, old)
	}
	s.ring[s.next] = key
	s.next = (s.next + 1) % s.limit
	s.keys[key] = struct{}{}
	return true
}

// Decode unmarshals the first value of an event as JSON.
func (e Event) Decode(v any) error {
	if len(e.Values) == 0 {
		return errors.Newf("event on %q has no value", e.Channel)
	}
	return json.Unmarshal([]byte(e.Values[0]), v)
}
