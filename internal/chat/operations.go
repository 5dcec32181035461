package chat

import (
	"github.com/namikmesic/crewchat/internal/stream"
)

// PendingOperation is a server tool call awaiting approval.
type PendingOperation struct {
	OperationID string                 `json:"operation_id"`
	Status      stream.OperationStatus `json:"status"`
	Message     string                 `json:"message"`
}

// Operations keeps pending operations in arrival order, keyed by id. It is
// not safe for concurrent use.
type Operations struct {
	order []string
	byID  map[string]*PendingOperation
}

// Upsert inserts op, or replaces the entry with the same id in place.
func (o *Operations) Upsert(op PendingOperation) {
	if o.byID == nil {
		o.byID = make(map[string]*PendingOperation)
	}
	if cur, ok := o.byID[op.OperationID]; ok {
		*cur = op
		return
	}
	o.byID[op.OperationID] = &op
	o.order = append(o.order, op.OperationID)
}

func (o *Operations) Get(id string) (PendingOperation, bool) {
	if op, ok := o.byID[id]; ok {
		return *op, true
	}
	return PendingOperation{}, false
}

// Update changes the status and message of an existing entry.
func (o *Operations) Update(id string, status stream.OperationStatus, message string) bool {
	op, ok := o.byID[id]
	if !ok {
		return false
	}
	op.Status = status
	op.Message = message
	return true
}

func (o *Operations) Remove(id string) bool {
	if _, ok := o.byID[id]; !ok {
		return false
	}
	delete(o.byID, id)
	for i, v := range o.order {
		if v == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	return true
}

func (o *Operations) List() []PendingOperation {
	out := make([]PendingOperation, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, *o.byID[id])
	}
	return out
}

func (o *Operations) Len() int {
	return len(o.order)
}

func (o *Operations) Clear() {
	o.order = nil
	o.byID = nil
}
