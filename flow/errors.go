package flow

import "fmt"

// ConfigError marks a node whose configuration is incomplete or invalid
// at execution time. The node is failed rather than crashing the
// interpreter; published flows normally never produce one.
type ConfigError struct {
	NodeId  string
	Message string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("node %s config invalid: %s", e.NodeId, e.Message)
}

// InterpreterFault is an unexpected internal inconsistency found only
// at run time, e.g. a dangling edge in a published graph.
type InterpreterFault struct {
	Message string
}

func (e InterpreterFault) Error() string {
	return "interpreter fault: " + e.Message
}
