package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	defaultClientIDPrefix = "smbridge-"
	disconnectQuiesceMs   = 250
)

var ErrNotStarted = errors.New("mqtt client not started")

type Config struct {
	BrokerURL            string
	ClientIDPrefix       string
	Username             string
	Password             string
	QoS                  byte
	KeepAlive            time.Duration
	ConnectTimeout       time.Duration
	MaxReconnectInterval time.Duration
	OperationTimeout     time.Duration
}

// Handler receives every message delivered by the broker.
type Handler func(ctx context.Context, topic string, payload []byte)

// Client is the MQTT side of the bridge. It keeps the broker subscriptions
// equal to the set of filters it was last asked for, across reconnects.
type Client struct {
	cfg      Config
	keyStore *KeyStore
	handler  Handler
	log      *slog.Logger

	mu      sync.Mutex
	client  mqtt.Client
	desired []string
	active  []string
	ctx     context.Context //nolint:containedctx // message handling context
	cancel  context.CancelFunc
}

func NewClient(cfg Config, keyStore *KeyStore, handler Handler, log *slog.Logger) (*Client, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker URL is required")
	}
	if _, err := url.Parse(cfg.BrokerURL); err != nil {
		return nil, fmt.Errorf("parse MQTT broker URL: %w", err)
	}
	if handler == nil {
		return nil, fmt.Errorf("MQTT message handler is required")
	}

	if cfg.ClientIDPrefix == "" {
		cfg.ClientIDPrefix = defaultClientIDPrefix
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid MQTT QoS %d", cfg.QoS)
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = 2 * time.Minute
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = 5 * time.Second
	}

	//nolint: exhaustruct // connection is created by Start
	return &Client{
		cfg:      cfg,
		keyStore: keyStore,
		handler:  handler,
		log:      log.With(slog.String("component", "mqtt")),
	}, nil
}

func (c *Client) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.BrokerURL)
	opts.SetClientID(c.cfg.ClientIDPrefix + uuid.NewString())
	opts.SetUsername(c.cfg.Username)
	opts.SetPassword(c.cfg.Password)
	opts.SetKeepAlive(c.cfg.KeepAlive)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(c.cfg.MaxReconnectInterval)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)
	opts.SetDefaultPublishHandler(c.onMessage)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.log.Error("Lost MQTT connection", slog.Any("error", err))
	})

	if c.keyStore != nil && isTLS(c.cfg.BrokerURL) {
		opts.SetTLSConfig(c.keyStore.TLSConfig())
	}

	return opts
}

func isTLS(brokerURL string) bool {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "ssl", "tls", "mqtts", "tcps", "wss":
		return true
	default:
		return false
	}
}

// Start connects to the broker and subscribes to the current filters.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.client != nil {
		c.mu.Unlock()
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	client := mqtt.NewClient(c.options())
	c.client = client
	c.mu.Unlock()

	c.log.Info("Connecting to MQTT broker", slog.String("broker", c.cfg.BrokerURL))

	token := client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		c.Stop()
		return fmt.Errorf("connect to MQTT broker %s: timed out after %s", c.cfg.BrokerURL, c.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		c.Stop()
		return fmt.Errorf("connect to MQTT broker %s: %w", c.cfg.BrokerURL, err)
	}

	return nil
}

// Stop disconnects from the broker. The desired filters are kept for the
// next Start.
func (c *Client) Stop() {
	c.mu.Lock()
	client := c.client
	cancel := c.cancel
	c.client = nil
	c.cancel = nil
	c.active = nil
	c.mu.Unlock()

	if client == nil {
		return
	}

	client.Disconnect(disconnectQuiesceMs)
	if cancel != nil {
		cancel()
	}

	c.log.Info("Disconnected from MQTT broker")
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.client.IsConnected()
}

func (c *Client) onConnect(client mqtt.Client) {
	c.log.Info("Connected to MQTT broker", slog.String("broker", c.cfg.BrokerURL))

	c.mu.Lock()
	defer c.mu.Unlock()

	// clean session: the broker forgot every subscription
	c.active = nil
	if err := c.syncLocked(client); err != nil {
		c.log.Error("Unable to restore subscriptions", slog.Any("error", err))
	}
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil {
		return
	}

	c.handler(ctx, msg.Topic(), msg.Payload())
}

// Subscribe adds one filter to the subscription set.
func (c *Client) Subscribe(filter string) error {
	c.mu.Lock()
	desired := slices.Clone(c.desired)
	c.mu.Unlock()

	if slices.Contains(desired, filter) {
		return nil
	}
	return c.SyncSubscriptions(append(desired, filter))
}

// Unsubscribe removes one filter from the subscription set.
func (c *Client) Unsubscribe(filter string) error {
	c.mu.Lock()
	desired := slices.DeleteFunc(slices.Clone(c.desired), func(f string) bool { return f == filter })
	c.mu.Unlock()

	return c.SyncSubscriptions(desired)
}

// SyncSubscriptions makes filters the subscription set. While disconnected
// the set is only recorded and applied on the next connect.
func (c *Client) SyncSubscriptions(filters []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.desired = slices.Compact(slices.Sorted(slices.Values(filters)))

	if c.client == nil || !c.client.IsConnectionOpen() {
		return nil
	}

	return c.syncLocked(c.client)
}

// Subscriptions returns the filters requested from the broker.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.active)
}

func (c *Client) syncLocked(client mqtt.Client) error {
	add, remove := diffFilters(c.active, coveringFilters(c.desired))

	var errs []error

	if len(remove) > 0 {
		token := client.Unsubscribe(remove...)
		if err := c.wait(token); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %v: %w", remove, err))
		} else {
			c.active = slices.DeleteFunc(c.active, func(f string) bool { return slices.Contains(remove, f) })
			c.log.Info("Unsubscribed from topics", slog.Any("filters", remove))
		}
	}

	for _, f := range add {
		// nil callback: every message goes through the default handler once
		token := client.Subscribe(f, c.cfg.QoS, nil)
		if err := c.wait(token); err != nil {
			errs = append(errs, fmt.Errorf("subscribe %s: %w", f, err))
			continue
		}
		c.active = append(c.active, f)
		c.log.Info("Subscribed to topic", slog.String("filter", f))
	}

	slices.Sort(c.active)

	return errors.Join(errs...)
}

func (c *Client) wait(token mqtt.Token) error {
	if !token.WaitTimeout(c.cfg.OperationTimeout) {
		return fmt.Errorf("timed out after %s", c.cfg.OperationTimeout)
	}
	return token.Error() //nolint:wrapcheck // wrapped by the caller
}
