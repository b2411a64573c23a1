package models

import (
	"fmt"
	"time"
)

// Direction records whether an item was received from or sent to the phrase channel.
type Direction int

const (
	// Inbound items were received from another device.
	Inbound Direction = 0
	// Outbound items were shared by this device.
	Outbound Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "in"
	case Outbound:
		return "out"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == Inbound || d == Outbound
}

// DataItem is one exchanged payload. The direction is fixed at construction.
type DataItem struct {
	Data     string
	ID       string
	ItemPath string
	Date     time.Time

	direction Direction
}

// NewDataItem creates an item with the given payload, direction and date.
func NewDataItem(data string, direction Direction, date time.Time) DataItem {
	return DataItem{
		Data:      data,
		Date:      date,
		direction: direction,
	}
}

// Direction returns the direction the item travelled.
func (i DataItem) Direction() Direction {
	return i.direction
}

// WireItem is the JSON form the server uses for shared items.
type WireItem struct {
	Data string `json:"data"`
	ID   string `json:"id"`
}

// FromWire builds a DataItem from a server reply.
func FromWire(w WireItem, direction Direction, date time.Time) DataItem {
	item := NewDataItem(w.Data, direction, date)
	item.ID = w.ID
	return item
}
