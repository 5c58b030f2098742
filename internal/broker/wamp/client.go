package wamp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/abhinavnt/codefolio-sub001/internal/broker"
	"github.com/abhinavnt/codefolio-sub001/internal/domain"
	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var errNotConnected = errors.New("wamp: not connected")

const defaultResponseTimeout = 10 * time.Second

// Client implements broker.Negotiator against a Router.
type Client struct {
	routerURL string
	config    client.Config
	timeout   time.Duration

	mu     sync.Mutex
	client *client.Client
	id     domain.PeerID

	consumer chan broker.OfferPromise
	done     chan struct{}
	once     sync.Once
}

func NewClient(routerURL, realm string, responseTimeout time.Duration) *Client {
	if realm == "" {
		realm = DefaultRealm
	}
	if responseTimeout <= 0 {
		responseTimeout = defaultResponseTimeout
	}
	return &Client{
		routerURL: routerURL,
		config: client.Config{
			Realm:           realm,
			ResponseTimeout: responseTimeout,
			Logger:          newLogger("client"),
		},
		timeout:  responseTimeout,
		consumer: make(chan broker.OfferPromise),
		done:     make(chan struct{}),
	}
}

// Listen connects to the router and registers id as a procedure.
func (c *Client) Listen(ctx context.Context, id domain.PeerID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil || !c.client.Connected() {
		cli, err := client.ConnectNet(ctx, c.routerURL, c.config)
		if err != nil {
			return err
		}
		c.client = cli
	}
	if err := c.client.Register(string(id), c.callHandler, nil); err != nil {
		log.Error().Err(err).Str("module", "broker.wamp").Str("peer", string(id)).Msg("failed to register procedure")
		return err
	}
	c.id = id
	log.Debug().Str("module", "broker.wamp").Str("peer", string(id)).Msg("registered procedure with router")
	return nil
}

// Offer sends offer to target and waits for the answer.
func (c *Client) Offer(ctx context.Context, target domain.PeerID, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	c.mu.Lock()
	cli, id := c.client, c.id
	c.mu.Unlock()
	if cli == nil {
		return nil, errNotConnected
	}

	raw, err := json.Marshal(offer)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := cli.Call(ctx, string(target), nil, wamp.List{string(id), string(raw)}, nil, nil)
	if err != nil {
		return nil, err
	}
	if len(result.Arguments) == 0 {
		return nil, errors.New("wamp: empty answer")
	}

	sdp, ok := wamp.AsString(result.Arguments[0])
	if !ok {
		return nil, errors.New("wamp: answer is not a string")
	}

	answer := webrtc.SessionDescription{}
	if err := json.Unmarshal([]byte(sdp), &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

func (c *Client) Consumer() <-chan broker.OfferPromise {
	return c.consumer
}

// Close unregisters the procedure and disconnects. Pending invocations are
// answered with an error.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	if c.id != "" {
		_ = c.client.Unregister(string(c.id))
	}
	err := c.client.Close()
	c.client = nil
	return err
}

func (c *Client) callHandler(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	if len(inv.Arguments) != 2 {
		return errResult(fmt.Sprintf("invocation should contain 2 arguments, not %d", len(inv.Arguments)))
	}

	from, ok := wamp.AsString(inv.Arguments[0])
	if !ok {
		return errResult("error reading invocation first argument")
	}

	sdp, ok := wamp.AsString(inv.Arguments[1])
	if !ok {
		return errResult("error reading invocation second argument")
	}

	offer := webrtc.SessionDescription{}
	if err := json.Unmarshal([]byte(sdp), &offer); err != nil {
		return errResult(fmt.Sprintf("error parsing invocation SDP: %v", err))
	}

	respCh := make(chan broker.OfferPromiseResponse, 1)
	promise := broker.OfferPromise{
		From:     domain.PeerID(from),
		Offer:    offer,
		RespChan: respCh,
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case c.consumer <- promise:
	case <-c.done:
		return errResult("callee closed")
	case <-ctx.Done():
		return errResult("call cancelled")
	case <-timer.C:
		return errResult("callee TIMEOUT")
	}

	select {
	case <-timer.C:
		return errResult("callee TIMEOUT")
	case <-c.done:
		return errResult("callee closed")
	case <-ctx.Done():
		return errResult("call cancelled")
	case resp := <-respCh:
		if resp.Error != nil {
			return errResult(resp.Error.Error())
		}
		raw, err := json.Marshal(resp.Answer)
		if err != nil {
			return errResult(fmt.Sprintf("error encoding answer: %v", err))
		}
		return client.InvokeResult{Args: wamp.List{string(raw)}}
	}
}

func errResult(msg string) client.InvokeResult {
	return client.InvokeResult{
		Err:  ErrProcessingOffer,
		Args: wamp.List{msg},
	}
}
