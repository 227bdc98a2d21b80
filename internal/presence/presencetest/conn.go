// Package presencetest provides a recording presence.Conn for tests.
package presencetest

import (
	"encoding/json"
	"sync"
)

// Conn records every frame sent to it as decoded JSON.
type Conn struct {
	id     string
	userID string

	mu     sync.Mutex
	frames []map[string]interface{}
	closed bool
	full   bool
}

// NewConn creates a recording connection for userID.
func NewConn(id, userID string) *Conn {
	return &Conn{id: id, userID: userID}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

// Send records v. It returns false once SetFull(true) was called.
func (c *Conn) Send(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	var frame map[string]interface{}
	if err := json.Unmarshal(data, &frame); err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full || c.closed {
		return false
	}
	c.frames = append(c.frames, frame)
	return true
}

// Close marks the connection closed.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SetFull makes subsequent sends fail as if the buffer were full.
func (c *Conn) SetFull(full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.full = full
}

// Frames returns a copy of all recorded frames.
func (c *Conn) Frames() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]interface{}, len(c.frames))
	copy(out, c.frames)
	return out
}

// Types returns the type field of each recorded frame in order.
func (c *Conn) Types() []string {
	frames := c.Frames()
	types := make([]string, 0, len(frames))
	for _, f := range frames {
		t, _ := f["type"].(string)
		types = append(types, t)
	}
	return types
}

// Count returns how many frames of msgType were recorded.
func (c *Conn) Count(msgType string) int {
	n := 0
	for _, t := range c.Types() {
		if t == msgType {
			n++
		}
	}
	return n
}

// Last returns the last frame of msgType.
func (c *Conn) Last(msgType string) (map[string]interface{}, bool) {
	frames := c.Frames()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i]["type"] == msgType {
			return frames[i], true
		}
	}
	return nil, false
}

// Reset discards recorded frames.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}
