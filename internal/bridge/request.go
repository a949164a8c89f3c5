package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/errors"
	"github.com/wagiedev/exsi-sdk-go/internal/wire"
)

// Method names understood by the worker.
const (
	MethodConnect            = "connect"
	MethodLoadProtocol       = "load_protocol"
	MethodSelectTask         = "select_task"
	MethodSelectNextTask     = "select_next_task"
	MethodActivateTask       = "activate_task"
	MethodPatientTable       = "patient_table"
	MethodPrescan            = "prescan"
	MethodScan               = "scan"
	MethodSetCV              = "set_cv"
	MethodSetCenterFrequency = "set_center_frequency"
	MethodSetShimValues      = "set_shim_values"
	MethodGetPrescanValues   = "get_prescan_values"
	MethodRequestExamInfo    = "request_exam_info"
	MethodSend               = "send"
	MethodWaitFor            = "wait_for"
	MethodGetTaskKeys        = "get_task_keys"
	MethodGetExamInfo        = "get_exam_info"
	MethodPing               = "ping"
)

// Request is one bridge call. The set of implementations is closed; each
// maps to one session operation.
type Request interface {
	// Method returns the wire method name.
	Method() string

	isRequest()
}

// ConnectRequest opens the worker's session to the controller.
type ConnectRequest struct {
	Config config.Config `json:"config"`
}

// LoadProtocolRequest loads a protocol by name.
type LoadProtocolRequest struct {
	Protocol string `json:"protocol"`
}

// SelectTaskRequest selects a task by position, or by key when Key is set.
type SelectTaskRequest struct {
	Index int    `json:"index"`
	Key   string `json:"key,omitempty"`
}

// SelectNextTaskRequest advances the task cursor.
type SelectNextTaskRequest struct{}

// ActivateTaskRequest activates the selected task.
type ActivateTaskRequest struct{}

// PatientTableRequest moves the patient table.
type PatientTableRequest struct{}

// PrescanRequest runs the prescan.
type PrescanRequest struct {
	Auto bool `json:"auto"`
}

// ScanRequest starts the acquisition.
type ScanRequest struct{}

// SetCVRequest sets one control variable.
type SetCVRequest struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// SetCenterFrequencyRequest sets the center frequency in Hz.
type SetCenterFrequencyRequest struct {
	Hz int64 `json:"hz"`
}

// SetShimValuesRequest sets the linear shims.
type SetShimValuesRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// GetPrescanValuesRequest asks the controller for prescan values.
type GetPrescanValuesRequest struct{}

// RequestExamInfoRequest asks the controller for exam metadata.
type RequestExamInfoRequest struct{}

// Arg is one key=value argument of a raw command.
type Arg struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SendRequest writes a raw command.
//
//nolint:tagliatelle // snake_case matches the bridge wire format
type SendRequest struct {
	Name string `json:"name"`
	Args []Arg  `json:"args,omitempty"`

	// NoAck frees the in-flight slot as soon as the command is written.
	NoAck bool `json:"no_ack,omitempty"`
}

// Command converts the request to a wire command.
func (r *SendRequest) Command() wire.Command {
	cmd := wire.Command{Name: r.Name}
	for _, a := range r.Args {
		cmd.Args = append(cmd.Args, wire.Arg{Key: a.Key, Value: a.Value})
	}

	if r.NoAck {
		cmd.Ack = wire.AckImmediate
	}

	return cmd
}

// WaitForRequest blocks in the worker until a signal is set.
type WaitForRequest struct {
	Signal  string        `json:"signal"`
	Timeout time.Duration `json:"timeout"`
}

// GetTaskKeysRequest reads the task key set.
type GetTaskKeysRequest struct{}

// GetExamInfoRequest reads the exam metadata.
type GetExamInfoRequest struct{}

// PingRequest checks the worker is alive.
type PingRequest struct{}

func (*ConnectRequest) Method() string            { return MethodConnect }
func (*LoadProtocolRequest) Method() string       { return MethodLoadProtocol }
func (*SelectTaskRequest) Method() string         { return MethodSelectTask }
func (*SelectNextTaskRequest) Method() string     { return MethodSelectNextTask }
func (*ActivateTaskRequest) Method() string       { return MethodActivateTask }
func (*PatientTableRequest) Method() string       { return MethodPatientTable }
func (*PrescanRequest) Method() string            { return MethodPrescan }
func (*ScanRequest) Method() string               { return MethodScan }
func (*SetCVRequest) Method() string              { return MethodSetCV }
func (*SetCenterFrequencyRequest) Method() string { return MethodSetCenterFrequency }
func (*SetShimValuesRequest) Method() string      { return MethodSetShimValues }
func (*GetPrescanValuesRequest) Method() string   { return MethodGetPrescanValues }
func (*RequestExamInfoRequest) Method() string    { return MethodRequestExamInfo }
func (*SendRequest) Method() string               { return MethodSend }
func (*WaitForRequest) Method() string            { return MethodWaitFor }
func (*GetTaskKeysRequest) Method() string        { return MethodGetTaskKeys }
func (*GetExamInfoRequest) Method() string        { return MethodGetExamInfo }
func (*PingRequest) Method() string               { return MethodPing }

func (*ConnectRequest) isRequest()            {}
func (*LoadProtocolRequest) isRequest()       {}
func (*SelectTaskRequest) isRequest()         {}
func (*SelectNextTaskRequest) isRequest()     {}
func (*ActivateTaskRequest) isRequest()       {}
func (*PatientTableRequest) isRequest()       {}
func (*PrescanRequest) isRequest()            {}
func (*ScanRequest) isRequest()               {}
func (*SetCVRequest) isRequest()              {}
func (*SetCenterFrequencyRequest) isRequest() {}
func (*SetShimValuesRequest) isRequest()      {}
func (*GetPrescanValuesRequest) isRequest()   {}
func (*RequestExamInfoRequest) isRequest()    {}
func (*SendRequest) isRequest()               {}
func (*WaitForRequest) isRequest()            {}
func (*GetTaskKeysRequest) isRequest()        {}
func (*GetExamInfoRequest) isRequest()        {}
func (*PingRequest) isRequest()               {}

// newRequest returns an empty request for method.
func newRequest(method string) (Request, error) {
	switch method {
	case MethodConnect:
		return &ConnectRequest{}, nil
	case MethodLoadProtocol:
		return &LoadProtocolRequest{}, nil
	case MethodSelectTask:
		return &SelectTaskRequest{}, nil
	case MethodSelectNextTask:
		return &SelectNextTaskRequest{}, nil
	case MethodActivateTask:
		return &ActivateTaskRequest{}, nil
	case MethodPatientTable:
		return &PatientTableRequest{}, nil
	case MethodPrescan:
		return &PrescanRequest{}, nil
	case MethodScan:
		return &ScanRequest{}, nil
	case MethodSetCV:
		return &SetCVRequest{}, nil
	case MethodSetCenterFrequency:
		return &SetCenterFrequencyRequest{}, nil
	case MethodSetShimValues:
		return &SetShimValuesRequest{}, nil
	case MethodGetPrescanValues:
		return &GetPrescanValuesRequest{}, nil
	case MethodRequestExamInfo:
		return &RequestExamInfoRequest{}, nil
	case MethodSend:
		return &SendRequest{}, nil
	case MethodWaitFor:
		return &WaitForRequest{}, nil
	case MethodGetTaskKeys:
		return &GetTaskKeysRequest{}, nil
	case MethodGetExamInfo:
		return &GetExamInfoRequest{}, nil
	case MethodPing:
		return &PingRequest{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownMethod, method)
	}
}

// DecodeRequest rebuilds a typed request from its method and parameters.
func DecodeRequest(method string, params json.RawMessage) (Request, error) {
	req, err := newRequest(method)
	if err != nil {
		return nil, err
	}

	if len(params) == 0 || string(params) == "null" {
		return req, nil
	}

	if err := json.Unmarshal(params, req); err != nil {
		return nil, fmt.Errorf("decode %s params: %w", method, err)
	}

	return req, nil
}

// WaitForResult is the result of wait_for.
type WaitForResult struct {
	Result string `json:"result"`
}

// TaskKeysResult is the result of get_task_keys.
//
//nolint:tagliatelle // snake_case matches the bridge wire format
type TaskKeysResult struct {
	TaskKeys []string `json:"task_keys"`
}

// ExamInfoResult is the result of get_exam_info.
//
//nolint:tagliatelle // snake_case matches the bridge wire format
type ExamInfoResult struct {
	ExamInfo map[string]string `json:"exam_info"`
}

// PingResult is the result of ping.
//
//nolint:tagliatelle // snake_case matches the bridge wire format
type PingResult struct {
	Version   string `json:"version"`
	Connected bool   `json:"connected"`
	InFlight  string `json:"in_flight,omitempty"`
}
