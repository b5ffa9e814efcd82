package client

import (
	"encoding/json"
	"sync"

	"github.com/realsync/gateway/internal/proto"
)

// listenerRegistry holds event subscriptions. Callbacks run on the read
// loop goroutine and must not block.
type listenerRegistry struct {
	mu      sync.Mutex
	nextID  int
	state   map[int]func(ChangeEvent)
	joined  map[int]func(*Player, int64)
	left    map[int]func(playerID int, timestamp int64)
	connSta map[int]func(State)
}

func (l *listenerRegistry) add(register func(id int)) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	register(id)
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.state, id)
		delete(l.joined, id)
		delete(l.left, id)
		delete(l.connSta, id)
		l.mu.Unlock()
	}
}

// OnStateChange registers a callback for shared-state change events and
// returns its unsubscribe handle.
func (c *Client) OnStateChange(fn func(ChangeEvent)) func() {
	return c.listeners.add(func(id int) {
		if c.listeners.state == nil {
			c.listeners.state = make(map[int]func(ChangeEvent))
		}
		c.listeners.state[id] = fn
	})
}

// OnPlayerJoined registers a callback for player join events.
func (c *Client) OnPlayerJoined(fn func(player *Player, timestamp int64)) func() {
	return c.listeners.add(func(id int) {
		if c.listeners.joined == nil {
			c.listeners.joined = make(map[int]func(*Player, int64))
		}
		c.listeners.joined[id] = fn
	})
}

// OnPlayerLeft registers a callback for player leave events.
func (c *Client) OnPlayerLeft(fn func(playerID int, timestamp int64)) func() {
	return c.listeners.add(func(id int) {
		if c.listeners.left == nil {
			c.listeners.left = make(map[int]func(int, int64))
		}
		c.listeners.left[id] = fn
	})
}

// OnConnectionStateChanged registers a callback for connection state
// transitions.
func (c *Client) OnConnectionStateChanged(fn func(State)) func() {
	return c.listeners.add(func(id int) {
		if c.listeners.connSta == nil {
			c.listeners.connSta = make(map[int]func(State))
		}
		c.listeners.connSta[id] = fn
	})
}

// notifyState runs callbacks on their own goroutines; the caller holds
// the client mutex and a callback may call back into the client.
func (l *listenerRegistry) notifyState(s State) {
	l.mu.Lock()
	fns := make([]func(State), 0, len(l.connSta))
	for _, fn := range l.connSta {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		go fn(s)
	}
}

// dispatchEvent routes a pushed event frame by its embedded type field.
func (c *Client) dispatchEvent(raw json.RawMessage) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		c.log.Warn().Err(err).Msg("malformed event")
		return
	}

	switch head.Type {
	case proto.EventStateChange:
		var ev proto.StateChangeEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Warn().Err(err).Msg("malformed state change")
			return
		}
		c.listeners.mu.Lock()
		fns := make([]func(ChangeEvent), 0, len(c.listeners.state))
		for _, fn := range c.listeners.state {
			fns = append(fns, fn)
		}
		c.listeners.mu.Unlock()
		for _, fn := range fns {
			fn(ev.ChangeEvent)
		}

	case proto.EventPlayerJoined:
		var ev proto.PlayerJoinedEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Warn().Err(err).Msg("malformed player joined")
			return
		}
		c.listeners.mu.Lock()
		fns := make([]func(*Player, int64), 0, len(c.listeners.joined))
		for _, fn := range c.listeners.joined {
			fns = append(fns, fn)
		}
		c.listeners.mu.Unlock()
		for _, fn := range fns {
			fn(ev.Player, ev.Timestamp)
		}

	case proto.EventPlayerLeft:
		var ev proto.PlayerLeftEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Warn().Err(err).Msg("malformed player left")
			return
		}
		c.listeners.mu.Lock()
		fns := make([]func(int, int64), 0, len(c.listeners.left))
		for _, fn := range c.listeners.left {
			fns = append(fns, fn)
		}
		c.listeners.mu.Unlock()
		for _, fn := range fns {
			fn(ev.PlayerID, ev.Timestamp)
		}

	default:
		c.log.Debug().Str("type", head.Type).Msg("unknown event type")
	}
}
