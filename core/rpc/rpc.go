package rpc

import (
	"encoding/json"
	"fmt"

	"spinfm/logger"
	"spinfm/model"
)

// HandlerFunc handles one named RPC. It receives the raw params and
// returns either a success payload or an error; the dispatcher turns
// the error into the uniform {error, message} reply.
type HandlerFunc func(params json.RawMessage) (interface{}, error)

// Dispatcher routes incoming {name, params} messages through a static
// method table.
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// Register adds a handler under name.
func (d *Dispatcher) Register(name string, handler HandlerFunc) {
	d.handlers[name] = handler
}

// Dispatch looks up name and runs its handler. Unknown names and
// handler failures (including panics) come back as error replies;
// ordinary results are passed through verbatim.
func (d *Dispatcher) Dispatch(name string, params json.RawMessage) (reply interface{}) {
	handler, ok := d.handlers[name]
	if !ok {
		return model.ErrorReply{Error: true, Message: "Invalid method name"}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("rpc handler panic",
				logger.String("method", name),
				logger.Any("panic", r))
			reply = model.ErrorReply{Error: true, Message: fmt.Sprint(r)}
		}
	}()

	result, err := handler(params)
	if err != nil {
		return model.ErrorReply{Error: true, Message: err.Error()}
	}
	return result
}
