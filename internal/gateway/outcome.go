package gateway

import (
	"encoding/json"
	"fmt"
)

// Result codes the gateway answers with.
const (
	CodeSuccess   = "000"
	CodeDuplicate = "924"
)

// Kind classifies a send attempt.
type Kind int

const (
	Unreachable Kind = iota
	Acknowledged
	Rejected
)

func (k Kind) String() string {
	switch k {
	case Acknowledged:
		return "acknowledged"
	case Rejected:
		return "rejected"
	default:
		return "unreachable"
	}
}

// Outcome is the classified result of one request. Data is set for
// acknowledgements, Code and Message for rejections, Status and Body for
// unreachable attempts.
type Outcome struct {
	Kind    Kind
	Code    string
	Message string
	Data    json.RawMessage
	Status  int
	Body    string
	Err     error
}

// IsDuplicate reports whether the gateway refused the sequence number as
// already used.
func (o Outcome) IsDuplicate() bool {
	return o.Kind == Rejected && o.Code == CodeDuplicate
}

// Detail renders the outcome for the submission log and operators.
func (o Outcome) Detail() string {
	switch o.Kind {
	case Acknowledged:
		return ""
	case Rejected:
		return fmt.Sprintf("%s: %s", o.Code, o.Message)
	}
	if o.Err != nil {
		return o.Err.Error()
	}
	if o.Status != 0 {
		return fmt.Sprintf("http %d: %s", o.Status, o.Body)
	}
	return o.Body
}

// envelope is the response shape of every gateway endpoint.
type envelope struct {
	ResultCode    *string         `json:"resultCd"`
	ResultMessage string          `json:"resultMsg"`
	ResultDate    string          `json:"resultDt"`
	Data          json.RawMessage `json:"data"`
}
