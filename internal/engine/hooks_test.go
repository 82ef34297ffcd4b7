package engine

import (
	"errors"
	"testing"

	"github.com/parley-labs/parley/pkg/channel"
)

func TestHookQueueOrder(t *testing.T) {
	q := NewHookQueue[*channel.Message]("test")
	var order []int

	q.Add("a", func(cxl *Canceller, msg *channel.Message) (any, error) {
		order = append(order, 1)
		return nil, nil
	})
	q.Add("b", func(cxl *Canceller, msg *channel.Message) (any, error) {
		order = append(order, 2)
		return nil, nil
	})
	q.Add("c", func(cxl *Canceller, msg *channel.Message) (any, error) {
		order = append(order, 3)
		return nil, nil
	})

	q.Process(NewCanceller(nil), &channel.Message{})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("handlers ran out of registration order: %v", order)
	}
}

func TestHookQueueAbortStopsLaterHandlers(t *testing.T) {
	q := NewHookQueue[*channel.Message]("test")
	var ran []string

	q.Add("first", func(cxl *Canceller, msg *channel.Message) (any, error) {
		ran = append(ran, "first")
		cxl.Abort(nil)
		return nil, nil
	})
	q.Add("second", func(cxl *Canceller, msg *channel.Message) (any, error) {
		ran = append(ran, "second")
		return nil, nil
	})

	cxl := NewCanceller(nil)
	q.Process(cxl, &channel.Message{})

	if len(ran) != 1 || ran[0] != "first" {
		t.Fatalf("abort must stop later handlers, ran: %v", ran)
	}
	if !cxl.Aborted() {
		t.Fatal("canceller should be aborted")
	}
}

func TestHookQueueHandlerErrorTolerated(t *testing.T) {
	q := NewHookQueue[*channel.Message]("test")
	var ran []string

	q.Add("broken", func(cxl *Canceller, msg *channel.Message) (any, error) {
		ran = append(ran, "broken")
		return nil, errors.New("handler blew up")
	})
	q.Add("healthy", func(cxl *Canceller, msg *channel.Message) (any, error) {
		ran = append(ran, "healthy")
		return "ok", nil
	})

	results := q.Process(NewCanceller(nil), &channel.Message{})

	if len(ran) != 2 {
		t.Fatalf("a failing handler must not stop the queue, ran: %v", ran)
	}
	if len(results) != 1 || results[0] != "ok" {
		t.Fatalf("results = %v, want [ok]", results)
	}
}

func TestHookQueueCollectsResults(t *testing.T) {
	q := NewHookQueue[*channel.Message]("test")

	q.Add("a", func(cxl *Canceller, msg *channel.Message) (any, error) {
		return 1, nil
	})
	q.Add("b", func(cxl *Canceller, msg *channel.Message) (any, error) {
		return nil, nil // nil results are dropped
	})
	q.Add("c", func(cxl *Canceller, msg *channel.Message) (any, error) {
		return 3, nil
	})

	results := q.Process(NewCanceller(nil), &channel.Message{})
	if len(results) != 2 || results[0] != 1 || results[1] != 3 {
		t.Fatalf("results = %v, want [1 3]", results)
	}
}

// roomLogger implements two hook capabilities plus Name.
type roomLogger struct {
	messages int
	rooms    int
}

func (p *roomLogger) Name() string { return "room-logger" }

func (p *roomLogger) OnMessage(cxl *Canceller, msg *channel.Message) (any, error) {
	p.messages++
	return nil, nil
}

func (p *roomLogger) OnRoomMessage(cxl *Canceller, msg *channel.Message) (any, error) {
	p.rooms++
	return nil, nil
}

func TestRegisterPlugin(t *testing.T) {
	h := NewHooks()
	p := &roomLogger{}
	h.RegisterPlugin("", p)

	if h.OnMessage.Len() != 1 {
		t.Fatalf("OnMessage queue len = %d, want 1", h.OnMessage.Len())
	}
	if h.OnRoomMessage.Len() != 1 {
		t.Fatalf("OnRoomMessage queue len = %d, want 1", h.OnRoomMessage.Len())
	}
	if h.OnIndividualMessage.Len() != 0 {
		t.Fatal("unimplemented capabilities must not be registered")
	}

	h.OnMessage.Process(NewCanceller(nil), &channel.Message{})
	h.OnRoomMessage.Process(NewCanceller(nil), &channel.Message{})
	if p.messages != 1 || p.rooms != 1 {
		t.Fatalf("plugin hooks not invoked: messages=%d rooms=%d", p.messages, p.rooms)
	}
}
