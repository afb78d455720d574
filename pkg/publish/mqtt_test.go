package publish_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ogulcanaydogan/cuemeter/pkg/model"
	"github.com/ogulcanaydogan/cuemeter/pkg/publish"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err      error
	timedOut bool
}

func (t *fakeToken) Wait() bool                     { return !t.timedOut }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	messages     []message
	token        *fakeToken
	disconnected bool
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message{topic: topic, retained: retained, payload: payload.([]byte)})
	if c.token != nil {
		return c.token
	}
	return &fakeToken{}
}

func (c *fakeClient) IsConnected() bool { return !c.disconnected }
func (c *fakeClient) Disconnect(uint)   { c.disconnected = true }

func TestPublishTable(t *testing.T) {
	client := &fakeClient{}
	p := publish.New(client, "hall")

	view := model.TableView{TableID: "2", State: model.StatusRunning, Elapsed: "3:10", Cost: "$6.00", Running: true, RatePerHour: decimal.NewFromInt(120)}
	require.NoError(t, p.PublishTable(view))

	require.Len(t, client.messages, 1)
	msg := client.messages[0]
	assert.Equal(t, "hall/tables/2/state", msg.topic)
	assert.True(t, msg.retained)

	var got model.TableView
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, "3:10", got.Elapsed)
	assert.Equal(t, model.StatusRunning, got.State)
}

func TestPublishSession(t *testing.T) {
	client := &fakeClient{}
	p := publish.New(client, "")

	rec := model.SessionRecord{ID: "abc", TableID: "1", ElapsedSeconds: 61, TotalCost: decimal.NewFromInt(1)}
	require.NoError(t, p.PublishSession(rec))

	require.Len(t, client.messages, 1)
	assert.Equal(t, "cuemeter/tables/1/sessions", client.messages[0].topic)
	assert.False(t, client.messages[0].retained)
}

func TestPublish_Errors(t *testing.T) {
	client := &fakeClient{token: &fakeToken{err: errors.New("not connected")}}
	p := publish.New(client, "x")
	err := p.PublishTable(model.TableView{TableID: "1"})
	assert.ErrorContains(t, err, "not connected")

	client.token = &fakeToken{timedOut: true}
	err = p.PublishTable(model.TableView{TableID: "1"})
	assert.ErrorContains(t, err, "timed out")
}

func TestClose(t *testing.T) {
	client := &fakeClient{}
	p := publish.New(client, "x")
	p.Close()
	assert.True(t, client.disconnected)
}

func TestConnect_RequiresBroker(t *testing.T) {
	_, err := publish.Connect(publish.Config{})
	assert.Error(t, err)
}
