package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/hearthaudio/hearth/pkg/hearth"
)

// Options configures an MQTT connection.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLSCA     string
	TLSCert   string
	TLSKey    string
	TopicBase string
	Timeout   time.Duration
}

// Client is the command-line side of the control protocol: it publishes
// command envelopes and correlates replies on its own reply topic.
type Client struct {
	client     paho.Client
	replyTopic string
	topicBase  string
	timeout    time.Duration

	mu            sync.Mutex
	replyHandlers map[string]chan hearth.ReplyEnvelope
}

// NewClient creates and connects a command client.
func NewClient(opts Options) (*Client, error) {
	if opts.TopicBase == "" {
		opts.TopicBase = hearth.BaseTopic
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}

	c := &Client{
		replyTopic:    hearth.TopicReply(opts.TopicBase, opts.ClientID),
		topicBase:     opts.TopicBase,
		timeout:       opts.Timeout,
		replyHandlers: map[string]chan hearth.ReplyEnvelope{},
	}

	clientOpts := paho.NewClientOptions().AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetConnectTimeout(opts.Timeout)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetOnConnectHandler(func(client paho.Client) {
		token := client.Subscribe(c.replyTopic, 1, c.handleReply)
		token.Wait()
	})

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	tlsConfig, err := buildTLSConfig(opts.TLSCA, opts.TLSCert, opts.TLSKey)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		clientOpts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(clientOpts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	if token := c.client.Subscribe(c.replyTopic, 1, c.handleReply); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	return c, nil
}

// Disconnect closes the connection.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

// ReplyTopic returns the topic replies are expected on.
func (c *Client) ReplyTopic() string {
	return c.replyTopic
}

// PublishCommand publishes a command and waits for its reply.
func (c *Client) PublishCommand(ctx context.Context, cmd hearth.CommandEnvelope) (hearth.ReplyEnvelope, error) {
	if cmd.ReplyTo == "" {
		cmd.ReplyTo = c.replyTopic
	}
	req, err := json.Marshal(cmd)
	if err != nil {
		return hearth.ReplyEnvelope{}, fmt.Errorf("marshal command: %w", err)
	}

	replyCh := make(chan hearth.ReplyEnvelope, 1)
	c.mu.Lock()
	c.replyHandlers[cmd.ID] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.replyHandlers, cmd.ID)
		c.mu.Unlock()
	}()

	topic := hearth.TopicCommands(c.topicBase)
	if token := c.client.Publish(topic, 1, false, req); token.Wait() && token.Error() != nil {
		return hearth.ReplyEnvelope{}, token.Error()
	}

	select {
	case <-ctx.Done():
		return hearth.ReplyEnvelope{}, ctx.Err()
	case reply := <-replyCh:
		return reply, nil
	case <-time.After(c.timeout):
		return hearth.ReplyEnvelope{}, errors.New("timeout waiting for reply")
	}
}

// GetState returns the retained controller snapshot from the state topic.
func (c *Client) GetState(ctx context.Context) (hearth.StatusSnapshot, error) {
	stateCh := make(chan hearth.StatusSnapshot, 1)
	handler := func(_ paho.Client, msg paho.Message) {
		var snap hearth.StatusSnapshot
		if err := json.Unmarshal(msg.Payload(), &snap); err != nil {
			return
		}
		select {
		case stateCh <- snap:
		default:
		}
	}

	topic := hearth.TopicState(c.topicBase)
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return hearth.StatusSnapshot{}, token.Error()
	}
	defer func() {
		token := c.client.Unsubscribe(topic)
		token.Wait()
	}()

	select {
	case <-ctx.Done():
		return hearth.StatusSnapshot{}, ctx.Err()
	case snap := <-stateCh:
		return snap, nil
	case <-time.After(c.timeout):
		return hearth.StatusSnapshot{}, errors.New("timeout waiting for state")
	}
}

// Watch streams controller state and events until ctx is done.
func (c *Client) Watch(ctx context.Context) (<-chan hearth.StatusSnapshot, <-chan hearth.Event, <-chan error) {
	stateCh := make(chan hearth.StatusSnapshot, 8)
	eventCh := make(chan hearth.Event, 8)
	errCh := make(chan error, 1)

	stateHandler := func(_ paho.Client, msg paho.Message) {
		var snap hearth.StatusSnapshot
		if err := json.Unmarshal(msg.Payload(), &snap); err != nil {
			return
		}
		select {
		case stateCh <- snap:
		default:
		}
	}

	eventHandler := func(_ paho.Client, msg paho.Message) {
		var evt hearth.Event
		if err := json.Unmarshal(msg.Payload(), &evt); err != nil {
			return
		}
		select {
		case eventCh <- evt:
		default:
		}
	}

	stateTopic := hearth.TopicState(c.topicBase)
	eventTopic := hearth.TopicEvents(c.topicBase)

	if token := c.client.Subscribe(stateTopic, 1, stateHandler); token.Wait() && token.Error() != nil {
		errCh <- token.Error()
		return stateCh, eventCh, errCh
	}
	if token := c.client.Subscribe(eventTopic, 1, eventHandler); token.Wait() && token.Error() != nil {
		errCh <- token.Error()
		return stateCh, eventCh, errCh
	}

	go func() {
		<-ctx.Done()
		c.client.Unsubscribe(stateTopic, eventTopic)
		close(stateCh)
		close(eventCh)
		close(errCh)
	}()

	return stateCh, eventCh, errCh
}

func (c *Client) handleReply(_ paho.Client, msg paho.Message) {
	var reply hearth.ReplyEnvelope
	if err := json.Unmarshal(msg.Payload(), &reply); err != nil {
		return
	}

	c.mu.Lock()
	ch, ok := c.replyHandlers[reply.ID]
	c.mu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- reply:
	default:
	}
}
