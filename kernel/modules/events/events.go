// Package events collects the application events and logs of a
// transaction. Whatever a failed frame emitted is dropped with it.
package events

import (
	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/blueprint"
	"github.com/xuperchain/xkernel/kernel/callframe"
	"github.com/xuperchain/xkernel/kernel/modules"
	"github.com/xuperchain/xkernel/kernel/types"
)

const Name = "events"

type Event struct {
	Emitter types.Actor
	Name    string
	Data    []byte
}

type Log struct {
	Emitter types.Actor
	Level   string
	Message string
}

type mark struct {
	events int
	logs   int
}

type Events struct {
	modules.BaseModule
	events []Event
	logs   []Log
	marks  []mark
}

func New() *Events {
	return &Events{}
}

func (e *Events) Name() string { return Name }

func (e *Events) EmitEvent(actor types.Actor, name string, data []byte) error {
	if err := blueprint.ValidName(name); err != nil {
		return errors.Wrapf(types.ErrDecodePayload, "event name: %v", err)
	}
	e.events = append(e.events, Event{Emitter: actor, Name: name, Data: append([]byte(nil), data...)})
	return nil
}

func (e *Events) AddLog(actor types.Actor, level string, message string) error {
	e.logs = append(e.logs, Log{Emitter: actor, Level: level, Message: message})
	return nil
}

func (e *Events) OnPushFrame(int, types.Actor, callframe.Message) error {
	e.marks = append(e.marks, mark{events: len(e.events), logs: len(e.logs)})
	return nil
}

func (e *Events) OnPopFrame(_ int, _ types.Actor, success bool) error {
	if len(e.marks) == 0 {
		return nil
	}
	m := e.marks[len(e.marks)-1]
	e.marks = e.marks[:len(e.marks)-1]
	if !success {
		e.events = e.events[:m.events]
		e.logs = e.logs[:m.logs]
	}
	return nil
}

func (e *Events) Events() []Event { return e.events }
func (e *Events) Logs() []Log     { return e.logs }

// Clear drops everything collected, used when the transaction fails.
func (e *Events) Clear() {
	e.events = nil
	e.logs = nil
	e.marks = nil
}
