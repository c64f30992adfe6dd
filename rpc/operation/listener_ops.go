package operation

import (
	"github.com/ValentinKolb/hotrod/rpc/common"
	"github.com/ValentinKolb/hotrod/rpc/protocol"
)

// ListenerOptions configures a new client listener
type ListenerOptions struct {
	// IncludeCurrentState asks the server to send a created event for every existing entry
	IncludeCurrentState bool
	// FilterFactory and ConverterFactory name server side factories, empty for none
	FilterFactory    string
	ConverterFactory string
}

// AddClientListenerOp registers a listener on the server. The connection it runs on becomes
// the listener's event connection, the server pushes all events for the listener on it.
type AddClientListenerOp struct {
	base
	options ListenerOptions
}

func NewAddClientListener(params *Params, options ListenerOptions) *AddClientListenerOp {
	return &AddClientListenerOp{base: base{params: params, op: protocol.OpAddClientListener}, options: options}
}

func (o *AddClientListenerOp) Route() Route {
	return AnyServer()
}

// Execute returns the listener id assigned by the server
func (o *AddClientListenerOp) Execute(s protocol.Stream) ([]byte, error) {
	status, err := o.roundTrip(s, func(w protocol.Writer) error {
		if err := protocol.WriteBool(w, o.options.IncludeCurrentState); err != nil {
			return err
		}
		if err := protocol.WriteString(w, o.options.FilterFactory); err != nil {
			return err
		}
		return protocol.WriteString(w, o.options.ConverterFactory)
	})
	if err != nil {
		return nil, err
	}
	if !status.IsSuccess() {
		return nil, common.NewStatusFault(common.KindListener, byte(status), "server did not add the listener")
	}
	id, err := protocol.ReadArray(s)
	if err != nil {
		return nil, err
	}
	if len(id) == 0 {
		return nil, common.NewFault(common.KindProtocol, "empty listener id")
	}
	return id, nil
}

// RemoveClientListenerOp removes a listener on the node that streams its events. It must run
// on a pooled connection to that node, never on the event connection itself.
type RemoveClientListenerOp struct {
	base
	listenerID []byte
	address    string
}

func NewRemoveClientListener(params *Params, listenerID []byte, address string) *RemoveClientListenerOp {
	return &RemoveClientListenerOp{
		base:       base{params: params, op: protocol.OpRemoveClientListener},
		listenerID: listenerID,
		address:    address,
	}
}

func (o *RemoveClientListenerOp) Route() Route {
	return ToAddress(o.address)
}

// Execute reports whether the server removed the listener; false means the server did not know it
func (o *RemoveClientListenerOp) Execute(s protocol.Stream) (bool, error) {
	status, err := o.roundTrip(s, func(w protocol.Writer) error {
		return protocol.WriteArray(w, o.listenerID)
	})
	if err != nil {
		return false, err
	}
	return status.IsSuccess(), nil
}
