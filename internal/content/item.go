package content

import (
	"errors"
	"fmt"
)

var ErrInvalidEvent = errors.New("invalid item event")

// ItemState governs whether local or server updates win for an item.
type ItemState int

const (
	StateClean ItemState = iota
	StateDirty
	StateFlushing
	StateLocked
)

func (s ItemState) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	case StateFlushing:
		return "flushing"
	case StateLocked:
		return "locked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ItemEvent drives the item state machine.
type ItemEvent int

const (
	EventUpdateFromServer ItemEvent = iota
	EventUpdateFromBrowser
	EventBeginPostData
	EventEndPostData
)

func (e ItemEvent) String() string {
	switch e {
	case EventUpdateFromServer:
		return "update_from_server"
	case EventUpdateFromBrowser:
		return "update_from_browser"
	case EventBeginPostData:
		return "begin_post_data"
	case EventEndPostData:
		return "end_post_data"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Item is one addressable content record. All fields are guarded by the
// owning Store's mutex.
type Item struct {
	key     string
	data    Data
	state   ItemState
	lockGen uint64
	lastErr error
}

func newItem(key string, data Data, event ItemEvent) (*Item, error) {
	item := &Item{key: key, state: StateClean}
	if err := item.update(data, event); err != nil {
		return nil, err
	}
	return item, nil
}

// update applies a data-carrying event. Server data is dropped unless the
// item is clean.
func (i *Item) update(data Data, event ItemEvent) error {
	switch event {
	case EventUpdateFromBrowser:
		i.data = cloneData(data)
		return i.transition(event)
	case EventUpdateFromServer:
		if !i.shouldAccept() {
			return nil
		}
		i.data = cloneData(data)
		return i.transition(event)
	default:
		return fmt.Errorf("%w: %s cannot carry data", ErrInvalidEvent, event)
	}
}

func (i *Item) transition(event ItemEvent) error {
	switch event {
	case EventUpdateFromBrowser:
		i.state = StateDirty
	case EventUpdateFromServer:
		// server data never changes the state
	case EventBeginPostData:
		i.state = StateFlushing
	case EventEndPostData:
		// an edit made while flushing keeps the item dirty
		if i.state == StateDirty {
			return nil
		}
		i.state = StateLocked
		i.lockGen++
	default:
		return fmt.Errorf("%w: %s", ErrInvalidEvent, event)
	}
	return nil
}

// failPost records a failed save. A flushing item goes back to dirty; nothing
// reschedules the save.
func (i *Item) failPost(err error) {
	i.lastErr = err
	if i.state == StateFlushing {
		i.state = StateDirty
	}
}

// unlock moves a locked item to clean when gen still names the current lock.
func (i *Item) unlock(gen uint64) bool {
	if i.state != StateLocked || i.lockGen != gen {
		return false
	}
	i.state = StateClean
	return true
}

func (i *Item) shouldAccept() bool {
	return i.IsClean()
}

func (i *Item) Key() string { return i.key }

func (i *Item) State() ItemState { return i.state }

func (i *Item) IsPending() bool {
	return i.state == StateDirty || i.state == StateFlushing
}

func (i *Item) IsClean() bool {
	return i.state == StateClean
}

// ItemInfo is a detached copy of an item.
type ItemInfo struct {
	Key   string
	Data  Data
	State ItemState
	Err   error
}

func (i *Item) info() ItemInfo {
	return ItemInfo{
		Key:   i.key,
		Data:  cloneData(i.data),
		State: i.state,
		Err:   i.lastErr,
	}
}
