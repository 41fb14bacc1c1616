package binlog

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Inject lets a ContentHandler push an additional event into its own FIFO
// queue. Injected events are drained, in FIFO order, before the session
// pulls its next event off the network queue, and are run only through
// handlers downstream of the injecting handler — never back through the
// handler that injected them or anything upstream of it.
type Inject func(Event)

// ContentHandler processes one event at a time. It returns the event to
// pass downstream (out), which may be the input unchanged or a
// replacement; consumed tells the pipeline to drop the event instead of
// passing anything downstream. A handler that needs to emit more than one
// downstream event from a single input (or emit one later, in response to
// a future event) does so via inject rather than by returning multiple
// events directly.
type ContentHandler interface {
	Handle(ev Event, inject Inject) (out Event, consumed bool, err error)
}

type handlerSlot struct {
	handler ContentHandler
	queue   []Event
}

func (s *handlerSlot) inject(ev Event) {
	s.queue = append(s.queue, ev)
}

// Pipeline is the ordered list of content handlers a Session runs every
// event through before returning it to the caller of WaitForNextEvent.
type Pipeline struct {
	slots []*handlerSlot
}

// Add appends a handler to the end of the pipeline.
func (p *Pipeline) Add(h ContentHandler) {
	p.slots = append(p.slots, &handlerSlot{handler: h})
}

// Handlers returns a copy of the pipeline's handlers in order; changing the
// returned slice does not change the pipeline. The Pipeline itself, which
// the session facade exposes as ContentHandlerPipeline(), is changed via Add.
func (p *Pipeline) Handlers() []ContentHandler {
	out := make([]ContentHandler, len(p.slots))
	for i, s := range p.slots {
		out[i] = s.handler
	}
	return out
}

func (p *Pipeline) runFrom(start int, ev Event) ([]Event, error) {
	cur := []Event{ev}
	for i := start; i < len(p.slots); i++ {
		slot := p.slots[i]
		var next []Event
		for _, e := range cur {
			out, consumed, err := slot.handler.Handle(e, slot.inject)
			if err != nil {
				return nil, err
			}
			if !consumed {
				next = append(next, out)
			}
		}
		cur = next
	}
	return cur, nil
}

// Process runs ev through every handler from the start of the pipeline.
func (p *Pipeline) Process(ev Event) ([]Event, error) {
	return p.runFrom(0, ev)
}

// DrainInjected pops every handler's injection queue, in handler order,
// running each injected event through handlers strictly downstream of the
// one that injected it.
func (p *Pipeline) DrainInjected() ([]Event, error) {
	var results []Event
	for i, slot := range p.slots {
		for len(slot.queue) > 0 {
			ev := slot.queue[0]
			slot.queue = slot.queue[1:]
			out, err := p.runFrom(i+1, ev)
			if err != nil {
				return results, err
			}
			results = append(results, out...)
		}
	}
	return results, nil
}

// TRANSACTION_EVENT is a synthetic EventType this client assigns to the
// aggregated output of TransactionAggregator; it never appears on the wire.
const TRANSACTION_EVENT EventType = 0xf0

// TransactionEvent is the synthetic event a TransactionAggregator emits
// once per committed transaction, carrying every table-map and row change
// that occurred between the BEGIN query and the XID that committed it.
type TransactionEvent struct {
	XID        uint64
	Statements []RowsStatement
}

// RowsStatement pairs a decoded RowsEvent with the table it refers to.
type RowsStatement struct {
	EventType EventType
	Table     *TableMapEvent
	Rows      []RowChange
}

// TransactionAggregator is a ContentHandler that buffers TABLE_MAP and
// ROWS events seen between a QUERY event carrying "BEGIN" and the XID
// event that commits the transaction, consuming them, and then returns one
// TransactionEvent summarizing the whole transaction in place of the XID
// event, so downstream handlers see a single unit of work instead of a
// scattered event sequence.
//
// Statement-based (non-transactional) traffic — any event outside a
// BEGIN/XID bracket — passes through unchanged.
type TransactionAggregator struct {
	inTxn   bool
	current []RowsStatement
	byTable map[uint64]*TableMapEvent
}

// NewTransactionAggregator returns a ready-to-use TransactionAggregator.
func NewTransactionAggregator() *TransactionAggregator {
	return &TransactionAggregator{byTable: make(map[uint64]*TableMapEvent)}
}

func (t *TransactionAggregator) Handle(ev Event, inject Inject) (Event, bool, error) {
	switch data := ev.Data.(type) {
	case RotateEvent:
		// a rotation invalidates every TABLE_MAP seen so far: the next file
		// reassigns table ids from scratch, so a stale *TableMapEvent must
		// not survive into it.
		t.byTable = make(map[uint64]*TableMapEvent)
		return ev, false, nil
	case QueryEvent:
		if strings.EqualFold(strings.TrimSpace(data.Query), "BEGIN") {
			t.inTxn = true
			t.current = nil
			return Event{}, true, nil
		}
		if !t.inTxn {
			return ev, false, nil
		}
		// a non-BEGIN query inside a still-open transaction (e.g. DDL,
		// or a statement-based row mixed into an otherwise RBR stream)
		// is passed through unchanged; it does not participate in the
		// aggregated RowsStatement list.
		return ev, false, nil
	case TableMapEvent:
		if t.inTxn {
			tme := data
			t.byTable[tme.tableID] = &tme
			return Event{}, true, nil
		}
		return ev, false, nil
	case RowsEvent:
		if !t.inTxn {
			return ev, false, nil
		}
		tme, ok := t.byTable[data.tableID]
		if !ok {
			logrus.WithField("tableID", data.tableID).
				Warn("binlog: rows event references unknown table id, skipping")
			return Event{}, true, nil
		}
		t.current = append(t.current, RowsStatement{
			EventType: data.eventType,
			Table:     tme,
			Rows:      data.Rows,
		})
		return Event{}, true, nil
	case XidEvent:
		if !t.inTxn {
			return ev, false, nil
		}
		txn := TransactionEvent{XID: data.XID, Statements: t.current}
		t.inTxn, t.current = false, nil
		out := Event{
			Header: EventHeader{EventType: TRANSACTION_EVENT, Timestamp: ev.Header.Timestamp, ServerID: ev.Header.ServerID},
			Data:   txn,
		}
		return out, false, nil
	default:
		return ev, false, nil
	}
}
