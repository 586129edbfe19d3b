package adapter

import "fmt"

// Status rpc level reply status
type Status uint8

// Reply status
const (
	StatusOK Status = iota
	StatusUserError
	StatusUnavailable
	StatusServantNotFound
	StatusUnknown
)

func (status Status) String() string {
	switch status {
	case StatusOK:
		return "OK"
	case StatusUserError:
		return "UserError"
	case StatusUnavailable:
		return "Unavailable"
	case StatusServantNotFound:
		return "ServantNotFound"
	case StatusUnknown:
		return "Unknown"
	}

	return fmt.Sprintf("Status(%d)", uint8(status))
}

// Request an already decoded request
type Request struct {
	ID        uint32   // request id, copied into the response
	Source    string   // source connection, selects the lane of keyed dispatchers
	Service   uint16   // target servant id
	Method    uint16   // method id
	Operation string   // operation name, diagnostics only
	Params    [][]byte // decoded params
}

func (request *Request) String() string {
	if request.Operation != "" {
		return fmt.Sprintf("request(%d)(%d:%s)", request.ID, request.Service, request.Operation)
	}

	return fmt.Sprintf("request(%d)(%d:%d)", request.ID, request.Service, request.Method)
}

// Response .
type Response struct {
	ID      uint32 // request id
	Status  Status // reply status
	Content []byte // return value
	Error   string // failure description
}

// NewResponse create OK response for request
func NewResponse(request *Request, content []byte) *Response {
	return &Response{
		ID:      request.ID,
		Status:  StatusOK,
		Content: content,
	}
}

func failure(request *Request, status Status, err error) *Response {
	response := &Response{
		ID:     request.ID,
		Status: status,
	}

	if err != nil {
		response.Error = err.Error()
	}

	return response
}
