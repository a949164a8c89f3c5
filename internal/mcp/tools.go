package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/exsi-sdk-go/internal/protocol"
)

// DefaultWaitTimeout bounds wait_for when the caller gives no timeout.
const DefaultWaitTimeout = 30 * time.Second

type noInput struct{}

type connectInput struct {
	Host     string `json:"host,omitempty" jsonschema:"controller host; defaults to the configured host"`
	Port     int    `json:"port,omitempty" jsonschema:"controller TCP port; defaults to the configured port"`
	Product  string `json:"product,omitempty" jsonschema:"product identifier sent with ConnectToScanner"`
	Password string `json:"password,omitempty" jsonschema:"controller password"`
	Tag      string `json:"tag,omitempty" jsonschema:"client routing tag"`
}

type loadProtocolInput struct {
	Protocol string `json:"protocol" jsonschema:"name of the protocol to load"`
}

type selectTaskInput struct {
	Index int    `json:"index,omitempty" jsonschema:"zero-based task position; ignored when key is set"`
	Key   string `json:"key,omitempty" jsonschema:"task key from task_keys"`
}

type prescanInput struct {
	Auto bool `json:"auto,omitempty" jsonschema:"run the automatic prescan"`
}

type setCVInput struct {
	Name  string  `json:"name" jsonschema:"control variable name"`
	Value float64 `json:"value" jsonschema:"control variable value"`
}

type setCenterFrequencyInput struct {
	Hz int64 `json:"hz" jsonschema:"center frequency in Hz"`
}

type setShimValuesInput struct {
	X int `json:"x" jsonschema:"linear X shim"`
	Y int `json:"y" jsonschema:"linear Y shim"`
	Z int `json:"z" jsonschema:"linear Z shim"`
}

//nolint:tagliatelle // snake_case matches the tool argument format
type waitForInput struct {
	Signal    string `json:"signal" jsonschema:"signal to wait on"`
	TimeoutMS int64  `json:"timeout_ms,omitempty" jsonschema:"wait bound in milliseconds; defaults to 30000"`
}

//nolint:tagliatelle // snake_case matches the tool result format
type taskKeysOutput struct {
	TaskKeys []string `json:"task_keys"`
}

var errEmptyProtocol = errors.New("protocol name is required")

// command adapts a no-result scanner call into a tool body.
func command[In any](call func(ctx context.Context, in In) error) func(context.Context, In) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, in In) (*mcp.CallToolResult, error) {
		if err := call(ctx, in); err != nil {
			return nil, err
		}

		return TextResult("ok"), nil
	}
}

func (s *ToolServer) registerTools() error {
	regs := []func() error{
		func() error {
			return addTool(s, "connect",
				"Connect to the scanner controller and enable event notifications.",
				nil, command(s.connect))
		},
		func() error {
			return addTool(s, "load_protocol",
				"Load a protocol. Wait for protocol-ready before selecting tasks.",
				nil, command(func(ctx context.Context, in loadProtocolInput) error {
					if in.Protocol == "" {
						return errEmptyProtocol
					}

					return s.scanner.LoadProtocol(ctx, in.Protocol)
				}))
		},
		func() error {
			return addTool(s, "select_task",
				"Select a task of the loaded protocol by key or position.",
				nil, command(func(ctx context.Context, in selectTaskInput) error {
					if in.Key != "" {
						return s.scanner.SelectTaskKey(ctx, in.Key)
					}

					return s.scanner.SelectTask(ctx, in.Index)
				}))
		},
		func() error {
			return addTool(s, "select_next_task", "Select the task after the current one.",
				nil, command(func(ctx context.Context, _ noInput) error {
					return s.scanner.SelectNextTask(ctx)
				}))
		},
		func() error {
			return addTool(s, "activate_task", "Activate the selected task.",
				nil, command(func(ctx context.Context, _ noInput) error {
					return s.scanner.ActivateTask(ctx)
				}))
		},
		func() error {
			return addTool(s, "patient_table", "Move the patient table to the scan position.",
				nil, command(func(ctx context.Context, _ noInput) error {
					return s.scanner.PatientTable(ctx)
				}))
		},
		func() error {
			return addTool(s, "prescan", "Run the prescan.",
				nil, command(func(ctx context.Context, in prescanInput) error {
					return s.scanner.Prescan(ctx, in.Auto)
				}))
		},
		func() error {
			return addTool(s, "scan",
				"Start the acquisition. Wait for acquisition-complete to know when it ends.",
				nil, command(func(ctx context.Context, _ noInput) error {
					return s.scanner.Scan(ctx)
				}))
		},
		func() error {
			return addTool(s, "set_cv", "Set one control variable of the active task.",
				nil, command(func(ctx context.Context, in setCVInput) error {
					return s.scanner.SetCV(ctx, in.Name, in.Value)
				}))
		},
		func() error {
			return addTool(s, "set_center_frequency", "Set the center frequency.",
				nil, command(func(ctx context.Context, in setCenterFrequencyInput) error {
					return s.scanner.SetCenterFrequency(ctx, in.Hz)
				}))
		},
		func() error {
			return addTool(s, "set_shim_values", "Set the linear shim values.",
				nil, command(func(ctx context.Context, in setShimValuesInput) error {
					return s.scanner.SetShimValues(ctx, in.X, in.Y, in.Z)
				}))
		},
		func() error {
			return addTool(s, "get_prescan_values", "Ask the controller to report the prescan values.",
				nil, command(func(ctx context.Context, _ noInput) error {
					return s.scanner.GetPrescanValues(ctx)
				}))
		},
		func() error {
			return addTool(s, "request_exam_info",
				"Ask the controller for exam metadata. Read it with exam_info.",
				nil, command(func(ctx context.Context, _ noInput) error {
					return s.scanner.RequestExamInfo(ctx)
				}))
		},
		func() error {
			return addTool(s, "wait_for",
				"Block until a session signal is set, the timeout elapses or the session closes.",
				signalEnum, s.waitFor)
		},
		func() error {
			return addTool(s, "task_keys", "List the task keys of the loaded protocol.",
				nil, func(ctx context.Context, _ noInput) (*mcp.CallToolResult, error) {
					keys, err := s.scanner.TaskKeys(ctx)
					if err != nil {
						return nil, err
					}

					if keys == nil {
						keys = []string{}
					}

					return JSONResult(&taskKeysOutput{TaskKeys: keys}), nil
				})
		},
		func() error {
			return addTool(s, "exam_info", "Return the exam metadata reported by the controller.",
				nil, func(ctx context.Context, _ noInput) (*mcp.CallToolResult, error) {
					info, err := s.scanner.ExamInfo(ctx)
					if err != nil {
						return nil, err
					}

					if info == nil {
						info = map[string]string{}
					}

					return JSONResult(info), nil
				})
		},
	}

	for _, reg := range regs {
		if err := reg(); err != nil {
			return err
		}
	}

	return nil
}

func (s *ToolServer) connect(ctx context.Context, in connectInput) error {
	cfg := s.defaults

	if in.Host != "" {
		cfg.Host = in.Host
	}

	if in.Port != 0 {
		cfg.Port = in.Port
	}

	if in.Product != "" {
		cfg.Product = in.Product
	}

	if in.Password != "" {
		cfg.Password = in.Password
	}

	if in.Tag != "" {
		cfg.Tag = in.Tag
	}

	return s.scanner.Connect(ctx, &cfg)
}

func (s *ToolServer) waitFor(ctx context.Context, in waitForInput) (*mcp.CallToolResult, error) {
	name, err := protocol.ParseSignalName(in.Signal)
	if err != nil {
		return nil, err
	}

	timeout := DefaultWaitTimeout
	if in.TimeoutMS > 0 {
		timeout = time.Duration(in.TimeoutMS) * time.Millisecond
	}

	result, err := s.scanner.WaitFor(ctx, name, timeout)
	if err != nil {
		return nil, err
	}

	return TextResult(result.String()), nil
}

func signalEnum(schema *jsonschema.Schema) {
	prop, ok := schema.Properties["signal"]
	if !ok {
		return
	}

	for _, name := range protocol.AllSignals {
		prop.Enum = append(prop.Enum, string(name))
	}
}
