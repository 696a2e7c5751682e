package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/fortressi/gatewaysync"
)

// Outcome classifies a control plane call.
type Outcome int

const (
	Success Outcome = iota
	SemanticFailure
	TransportFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case SemanticFailure:
		return "semantic_failure"
	case TransportFailure:
		return "transport_failure"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// Result is the value every client call returns. Nothing is thrown: transport
// problems are a TransportFailure, unexpected statuses a SemanticFailure.
type Result struct {
	Outcome Outcome
	Status  int
	Body    []byte
	Cause   error
}

// OK reports success.
func (r Result) OK() bool {
	return r.Outcome == Success
}

// Err converts a failure into the error taxonomy; nil on success.
func (r Result) Err() error {
	switch r.Outcome {
	case Success:
		return nil
	case SemanticFailure:
		return &gatewaysync.RemoteSemanticError{Status: r.Status, Body: string(r.Body)}
	default:
		return &gatewaysync.RemoteTransportError{Cause: r.Cause}
	}
}

// Decode unmarshals the response body into v.
func (r Result) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Object is the part of every created or updated gateway entity the mirror
// relies on.
type Object struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Object decodes the common entity fields and requires an id.
func (r Result) Object() (Object, error) {
	var obj Object
	if err := r.Decode(&obj); err != nil {
		return obj, err
	}
	if obj.ID == "" {
		return obj, fmt.Errorf("response has no id")
	}
	return obj, nil
}
