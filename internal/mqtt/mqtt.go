package mqtt

import (
	"crypto/tls"
	"log/slog"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ClientAPI is the minimal broker surface the rest of the service needs.
// It lets ingest, the simulator and the weather poller be tested without a
// live broker.
type ClientAPI interface {
	Subscribe(filter string, handler func(Message)) error
	Publish(topic string, payload []byte, qos byte) error
	Close()
}

type Client struct {
	cli mqtt.Client
}

type Message struct {
	mqtt.Message
}

func (m Message) Retained() bool { return m.Message.Retained() }

// Connect dials the broker and blocks until the first connection succeeds
// or the connect timeout expires. After that, reconnection is automatic
// with the retry interval below; connection loss is never fatal, ingestion
// just pauses until the broker is back.
func Connect(brokerURL, clientID string) (*Client, error) {
	opts := mqtt.NewClientOptions()

	server := strings.TrimSpace(brokerURL)
	if server == "" {
		server = "mqtt://mosquitto:1883"
	}
	if u, err := url.Parse(server); err == nil && u.Host != "" {
		switch u.Scheme {
		case "mqtt", "tcp", "":
			server = "tcp://" + u.Host
		case "ssl", "tls":
			server = "ssl://" + u.Host
			opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
		case "ws", "wss":
			server = u.Scheme + "://" + u.Host + u.Path
		}
		if u.User != nil {
			pw, _ := u.User.Password()
			opts.SetUsername(u.User.Username())
			opts.SetPassword(pw)
		}
	}
	opts.AddBroker(server)

	if strings.TrimSpace(clientID) == "" {
		clientID = "telemetry-hub-" + time.Now().Format("150405.000")
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err)
	}
	opts.OnConnect = func(_ mqtt.Client) {
		slog.Info("mqtt connected", "broker", server)
	}

	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if ok := tok.WaitTimeout(15 * time.Second); !ok {
		return nil, tok.Error()
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return &Client{cli: c}, nil
}

func (c *Client) Subscribe(filter string, handler func(Message)) error {
	tok := c.cli.Subscribe(filter, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(Message{Message: msg})
	})
	tok.Wait()
	if err := tok.Error(); err != nil {
		return err
	}
	slog.Info("mqtt subscribed", "filter", filter)
	return nil
}

// Publish sends unretained at the given QoS. Failures are logged here so
// best-effort callers can ignore the returned error.
func (c *Client) Publish(topic string, payload []byte, qos byte) error {
	tok := c.cli.Publish(topic, qos, false, payload)
	tok.Wait()
	if err := tok.Error(); err != nil {
		slog.Warn("mqtt publish failed", "topic", topic, "error", err)
		return err
	}
	return nil
}

func (c *Client) Close() {
	if c == nil || c.cli == nil {
		return
	}
	c.cli.Disconnect(1000)
}
