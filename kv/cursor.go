package kv

import "bytes"

type cursorState int

const (
	cursorFresh cursorState = iota
	cursorOn
	cursorDone
)

// Cursor walks one named map in unsigned byte order, in either direction.
//
// A new cursor sits in the gap before the entry it was navigated to: Next
// moves onto that entry, Prev onto the one before it. A cursor navigated to
// nil sits at both ends at once: Next moves onto the first entry, Prev onto
// the last one. Once a move finds no entry the cursor is exhausted, releases
// its engine resources, and every further move returns false. Err tells
// exhaustion apart from failure.
//
// Writes made by the owning transaction between moves are visible to the
// cursor: it re-seeks from its current entry when the store has changed.
type Cursor struct {
	tx      *Tx
	mapName string
	m       namedMap
	raw     rawCursor
	start   []byte
	state   cursorState
	gen     uint64
	resync  bool

	engineKey []byte
	key       []byte
	value     []byte
	err       error
}

// Next moves to the following entry and reports whether there is one.
func (c *Cursor) Next() bool {
	return c.move(true)
}

// Prev moves to the preceding entry and reports whether there is one.
func (c *Cursor) Prev() bool {
	return c.move(false)
}

func (c *Cursor) move(forward bool) bool {
	tx := c.tx
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if c.state == cursorDone {
		return false
	}
	if tx.finished {
		c.fail(ErrTxFinished)
		return false
	}
	if tx.gen != c.gen && !c.reopenLocked() {
		return false
	}

	var k, v []byte
	switch {
	case c.state == cursorFresh && forward:
		if c.start == nil {
			k, v = c.raw.First()
		} else {
			k, v = c.raw.Seek(c.m.seekKey(c.start))
		}
	case c.state == cursorFresh:
		if c.start == nil {
			k, v = c.raw.Last()
		} else {
			k, v = c.seekBefore(c.m.seekKey(c.start))
		}
	case c.resync && forward:
		k, v = c.raw.Seek(c.engineKey)
		if k != nil && bytes.Equal(k, c.engineKey) {
			k, v = c.raw.Next()
		}
	case c.resync:
		k, v = c.seekBefore(c.engineKey)
	case forward:
		k, v = c.raw.Next()
	default:
		k, v = c.raw.Prev()
	}
	c.resync = false

	if k == nil {
		if err := c.raw.Err(); err != nil {
			c.fail(tx.errf(c.mapName, nil, err, "cursor"))
		} else {
			c.doneLocked()
		}
		return false
	}

	key, value, err := c.m.decode(k, v)
	if err != nil {
		c.fail(tx.errf(c.mapName, k, err, "cursor"))
		return false
	}
	c.engineKey = append(c.engineKey[:0], k...)
	c.key = cloneBytes(key)
	c.value = cloneBytes(value)
	if c.value == nil {
		c.value = []byte{}
	}
	c.state = cursorOn
	return true
}

// seekBefore moves to the last entry whose engine key is < target. When no
// entry is >= target, that is the last entry of the map.
func (c *Cursor) seekBefore(target []byte) ([]byte, []byte) {
	k, _ := c.raw.Seek(target)
	if k == nil {
		return c.raw.Last()
	}
	return c.raw.Prev()
}

// reopenLocked replaces the engine cursor after the transaction wrote to the
// store; the next move re-seeks relative to the current entry.
func (c *Cursor) reopenLocked() bool {
	c.raw.Close()
	c.raw = nil
	m, err := c.tx.resolveLocked(c.mapName, false)
	if err != nil {
		c.fail(err)
		return false
	}
	if m == nil {
		c.doneLocked()
		return false
	}
	c.m = m
	c.raw = m.cursor()
	c.gen = c.tx.gen
	c.resync = c.state == cursorOn
	return true
}

// Key returns the key of the current entry. It panics with ErrNoSuchElement
// if the cursor is not on an entry.
func (c *Cursor) Key() []byte {
	if c.state != cursorOn {
		panic(ErrNoSuchElement)
	}
	return c.key
}

// Value returns the value of the current entry. It panics with
// ErrNoSuchElement if the cursor is not on an entry.
func (c *Cursor) Value() []byte {
	if c.state != cursorOn {
		panic(ErrNoSuchElement)
	}
	return c.value
}

// Err returns the error that ended the iteration, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Close releases the cursor. It is safe to call multiple times and after
// exhaustion.
func (c *Cursor) Close() {
	c.tx.mu.Lock()
	defer c.tx.mu.Unlock()
	c.doneLocked()
}

func (c *Cursor) fail(err error) {
	c.err = err
	c.doneLocked()
}

func (c *Cursor) doneLocked() {
	c.releaseLocked()
	c.tx.forgetCursorLocked(c)
}

func (c *Cursor) releaseLocked() {
	if c.raw != nil {
		c.raw.Close()
		c.raw = nil
	}
	c.state = cursorDone
	c.key, c.value = nil, nil
}
