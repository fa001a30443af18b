package mqtt

import (
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type stubToken struct {
	done chan struct{}
	err  error
}

func newStubToken() *stubToken { return &stubToken{done: make(chan struct{})} }

func (t *stubToken) Wait() bool { <-t.done; return true }

func (t *stubToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *stubToken) Done() <-chan struct{} { return t.done }
func (t *stubToken) Error() error          { return t.err }

func (t *stubToken) complete(err error) {
	t.err = err
	close(t.done)
}

// stubClient answers Subscribe and Unsubscribe with a fixed token; other
// methods are not used by these tests.
type stubClient struct {
	paho.Client
	token *stubToken
}

func (c *stubClient) Subscribe(string, byte, paho.MessageHandler) paho.Token { return c.token }
func (c *stubClient) Unsubscribe(...string) paho.Token                       { return c.token }

func TestRealConnSubscribeDoesNotWaitForAck(t *testing.T) {
	token := newStubToken()
	c := &RealConn{client: &stubClient{token: token}, qos: 1}

	returned := make(chan error, 1)
	go func() { returned <- c.Subscribe("AABB/status") }()

	select {
	case err := <-returned:
		if err != nil {
			t.Errorf("unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Subscribe blocked on a pending SUBACK")
	}
	if err := c.Unsubscribe("AABB/status"); err != nil {
		t.Errorf("unexpected unsubscribe error %v", err)
	}
	token.complete(errors.New("late failure"))
}

func TestRealConnSubscribeReportsCompletedFailure(t *testing.T) {
	token := newStubToken()
	token.complete(errors.New("not authorized"))
	c := &RealConn{client: &stubClient{token: token}, qos: 1}

	if err := c.Subscribe("a/b"); err == nil {
		t.Error("expected error from a failed subscription")
	}
}
