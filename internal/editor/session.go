package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/lastmile-ai/aiconfig-sub000/internal/aiconfig"
	"github.com/lastmile-ai/aiconfig-sub000/internal/logger"
	"github.com/lastmile-ai/aiconfig-sub000/internal/model"
	"github.com/lastmile-ai/aiconfig-sub000/internal/runtime"
)

// Session is one editor client's exclusive view of a configuration
// instance. Commands arrive through HandleFrame; frames to the client go
// out through Out, written by a single writer. At most one operation is in
// flight; extra operations are rejected, not queued.
type Session struct {
	id    string
	rt    *runtime.Runtime
	reg   *model.Registry
	audit *RunStore

	out     chan []byte
	closing chan struct{}

	mu sync.Mutex
	op *operation

	closeOnce sync.Once
}

// operation tracks the in-flight command: its cancel hook, the
// pre-operation snapshot and file binding for rollback, and a flag
// ensuring at most one cancellation response.
type operation struct {
	name      string
	cancel    context.CancelFunc
	snapshot  []byte
	path      string
	cancelled atomic.Bool
	done      chan struct{}
}

type opFunc func(ctx context.Context) (*Response, error)

// NewSession binds a session to a runtime. audit may be nil.
func NewSession(rt *runtime.Runtime, reg *model.Registry, audit *RunStore) *Session {
	if reg == nil {
		reg = model.Default()
	}
	return &Session{
		id:      uuid.NewString(),
		rt:      rt,
		reg:     reg,
		audit:   audit,
		out:     make(chan []byte, 64),
		closing: make(chan struct{}),
	}
}

// ID returns the session's instance id.
func (s *Session) ID() string { return s.id }

// Out is the outbound frame stream.
func (s *Session) Out() <-chan []byte { return s.out }

// Done is closed when the session starts shutting down; frames still
// queued on Out at that point may be dropped.
func (s *Session) Done() <-chan struct{} { return s.closing }

// send never wedges an operation on a dead client: once the session is
// closing, frames are discarded instead of queued.
func (s *Session) send(frame any) {
	select {
	case s.out <- encodeFrame(frame):
	case <-s.closing:
	}
}

func (s *Session) fail(format string, args ...any) {
	s.send(&Response{InstanceID: s.id, Message: fmt.Sprintf(format, args...), IsSuccess: false})
}

// HandleFrame decodes and dispatches one inbound text frame.
func (s *Session) HandleFrame(frame []byte) {
	cmd, err := ParseCommand(frame)
	if err != nil {
		s.fail("%v", err)
		return
	}
	s.Handle(cmd)
}

// Handle dispatches a command. Status, model listing and cancel are
// served out-of-band; everything else is an operation subject to the
// single-flight rule.
func (s *Session) Handle(cmd *Command) {
	switch cmd.Name {
	case "get_instance_status":
		s.send(&Response{InstanceID: s.id, Message: "OK", IsSuccess: true, Data: instanceStatus()})
	case "list_models":
		s.send(&Response{InstanceID: s.id, Message: "OK", IsSuccess: true, Data: map[string]any{"ids": s.reg.IDs()}})
	case "cancel":
		s.handleCancel()
	case "create":
		s.startOperation(cmd.Name, s.createOp())
	case "load":
		s.startOperation(cmd.Name, s.loadOp(cmd))
	case "save":
		s.startOperation(cmd.Name, s.saveOp(cmd))
	case "run":
		s.startOperation(cmd.Name, s.runOp(cmd))
	case "add_prompt":
		s.startOperation(cmd.Name, s.addPromptOp(cmd))
	case "update_prompt":
		s.startOperation(cmd.Name, s.updatePromptOp(cmd))
	case "delete_prompt":
		s.startOperation(cmd.Name, s.mutationOp("deleted prompt "+cmd.PromptName, func() error {
			return s.rt.Config.DeletePrompt(cmd.PromptName)
		}))
	case "update_model":
		s.startOperation(cmd.Name, s.mutationOp("updated model "+cmd.ModelName, func() error {
			return s.rt.Config.UpdateModel(cmd.ModelName, cmd.Settings, cmd.PromptName)
		}))
	case "set_parameter":
		s.startOperation(cmd.Name, s.mutationOp("set parameter "+cmd.ParameterName, func() error {
			return s.rt.Config.SetParameter(cmd.ParameterName, cmd.ParameterValue, cmd.PromptName)
		}))
	case "set_parameters":
		s.startOperation(cmd.Name, s.mutationOp("set parameters", func() error {
			return s.rt.Config.SetParameters(cmd.Parameters, cmd.PromptName)
		}))
	case "delete_parameter":
		s.startOperation(cmd.Name, s.mutationOp("deleted parameter "+cmd.ParameterName, func() error {
			return s.rt.Config.DeleteParameter(cmd.ParameterName, cmd.PromptName)
		}))
	case "set_name":
		s.startOperation(cmd.Name, s.mutationOp("renamed configuration", func() error {
			s.rt.Config.SetName(cmd.ConfigName)
			return nil
		}))
	case "set_description":
		s.startOperation(cmd.Name, s.mutationOp("updated description", func() error {
			s.rt.Config.SetDescription(cmd.Description)
			return nil
		}))
	case "load_model_parser_module":
		s.startOperation(cmd.Name, func(ctx context.Context) (*Response, error) {
			if err := LoadParserModule(cmd.Path, s.reg); err != nil {
				return nil, err
			}
			return &Response{InstanceID: s.id, Message: "loaded parser module " + cmd.Path, IsSuccess: true}, nil
		})
	default:
		s.fail("unknown command: %s", cmd.Name)
	}
}

// startOperation snapshots the configuration, runs fn on its own
// goroutine, and emits exactly one terminal frame: the operation's
// response, an error response after rollback, or a cancellation response
// after rollback.
func (s *Session) startOperation(name string, fn opFunc) {
	s.mu.Lock()
	if s.op != nil {
		s.mu.Unlock()
		s.fail("operation %s rejected: another operation is in progress", name)
		return
	}
	snapshot, err := s.rt.Config.Serialize(true)
	if err != nil {
		s.mu.Unlock()
		s.fail("operation %s: snapshot failed: %v", name, err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	op := &operation{name: name, cancel: cancel, snapshot: snapshot, path: s.rt.FilePath, done: make(chan struct{})}
	s.op = op
	s.mu.Unlock()

	go func() {
		defer close(op.done)
		defer cancel()
		resp, err := fn(ctx)

		s.mu.Lock()
		s.op = nil
		s.mu.Unlock()

		switch {
		case op.cancelled.Load() || errors.Is(err, context.Canceled):
			// a result that raced the cancel is discarded
			s.rollback(op)
			s.send(&Response{InstanceID: s.id, Message: fmt.Sprintf("operation %s cancelled", name), IsSuccess: true})
		case err != nil:
			s.rollback(op)
			s.send(&Response{InstanceID: s.id, Message: fmt.Sprintf("operation %s failed: %v", name, err), IsSuccess: false})
		default:
			s.send(resp)
		}
	}()
}

func (s *Session) handleCancel() {
	s.mu.Lock()
	op := s.op
	s.mu.Unlock()
	if op == nil {
		s.fail("no operation to cancel")
		return
	}
	if op.cancelled.CompareAndSwap(false, true) {
		op.cancel()
	}
}

// rollback restores the full pre-operation state, the file binding
// included, so an aborted load or create does not leave the session
// saving to the wrong path.
func (s *Session) rollback(op *operation) {
	cfg, err := aiconfig.Parse(op.snapshot)
	if err != nil {
		logger.Error("session %s: rollback failed: %v", s.id, err)
		return
	}
	s.rt.Config = cfg
	s.rt.FilePath = op.path
}

func (s *Session) createOp() opFunc {
	return func(ctx context.Context) (*Response, error) {
		s.rt.Config = aiconfig.New("untitled")
		s.rt.FilePath = ""
		return &Response{InstanceID: s.id, Message: "created new configuration", IsSuccess: true, AIConfig: s.rt.Config}, nil
	}
}

func (s *Session) loadOp(cmd *Command) opFunc {
	return func(ctx context.Context) (*Response, error) {
		if cmd.Path == "" {
			return &Response{InstanceID: s.id, Message: "current configuration", IsSuccess: true, AIConfig: s.rt.Config}, nil
		}
		loaded, err := runtime.LoadFile(cmd.Path, s.reg)
		if err != nil {
			return nil, err
		}
		s.rt.Config = loaded.Config
		s.rt.FilePath = cmd.Path
		return &Response{InstanceID: s.id, Message: "loaded " + cmd.Path, IsSuccess: true, AIConfig: s.rt.Config}, nil
	}
}

func (s *Session) saveOp(cmd *Command) opFunc {
	return func(ctx context.Context) (*Response, error) {
		if err := s.rt.Save(cmd.Path, true); err != nil {
			return nil, err
		}
		return &Response{InstanceID: s.id, Message: "saved " + s.rt.FilePath, IsSuccess: true, AIConfig: s.rt.Config}, nil
	}
}

func (s *Session) runOp(cmd *Command) opFunc {
	return func(ctx context.Context) (*Response, error) {
		if cmd.PromptName == "" {
			return nil, fmt.Errorf("run requires prompt_name")
		}
		opts := &model.InferenceOptions{APIToken: cmd.APIToken}
		if cmd.Stream {
			opts.Stream = true
			opts.Callback = func(delta any, accumulated any, index int) {
				s.send(&Chunk{InstanceID: s.id, OutputChunk: accumulated})
			}
		}
		outputs, err := s.rt.Run(ctx, cmd.PromptName, cmd.Params, opts, cmd.RunWithDependencies)
		if err != nil {
			if isProviderError(err) {
				// provider failures stay visible on the prompt that actually
				// failed, which may be an upstream dependency of the root
				failed := cmd.PromptName
				var runErr *runtime.RunError
				if errors.As(err, &runErr) {
					failed = runErr.PromptName
				}
				if p, ok := s.rt.Config.Prompt(failed); ok {
					p.Outputs = []aiconfig.Output{aiconfig.ErrorOutput{
						Ename:  "RunError",
						Evalue: err.Error(),
					}}
				}
				s.audit.Record(s.id, failed, false, err.Error())
				return &Response{
					InstanceID: s.id,
					Message:    fmt.Sprintf("run %s: %v", cmd.PromptName, err),
					IsSuccess:  false,
					AIConfig:   s.rt.Config,
				}, nil
			}
			return nil, err
		}
		s.audit.Record(s.id, cmd.PromptName, true, "")
		return &Response{
			InstanceID: s.id,
			Message:    "ran " + cmd.PromptName,
			IsSuccess:  true,
			Data:       outputs,
			AIConfig:   s.rt.Config,
		}, nil
	}
}

func (s *Session) addPromptOp(cmd *Command) opFunc {
	return func(ctx context.Context) (*Response, error) {
		prompt, err := decodePrompt(cmd.PromptData, cmd.PromptName)
		if err != nil {
			return nil, err
		}
		index := -1
		if cmd.Index != nil {
			index = *cmd.Index
		}
		if err := s.rt.Config.AddPrompt(prompt, index); err != nil {
			return nil, err
		}
		return &Response{InstanceID: s.id, Message: "added prompt " + prompt.Name, IsSuccess: true, AIConfig: s.rt.Config}, nil
	}
}

func (s *Session) updatePromptOp(cmd *Command) opFunc {
	return func(ctx context.Context) (*Response, error) {
		prompt, err := decodePrompt(cmd.PromptData, cmd.PromptName)
		if err != nil {
			return nil, err
		}
		if err := s.rt.Config.UpdatePrompt(cmd.PromptName, prompt); err != nil {
			return nil, err
		}
		return &Response{InstanceID: s.id, Message: "updated prompt " + cmd.PromptName, IsSuccess: true, AIConfig: s.rt.Config}, nil
	}
}

// mutationOp wraps a synchronous configuration edit in the operation
// lifecycle so it gets the same rejection, rollback and response rules.
func (s *Session) mutationOp(message string, fn func() error) opFunc {
	return func(ctx context.Context) (*Response, error) {
		if err := fn(); err != nil {
			return nil, err
		}
		return &Response{InstanceID: s.id, Message: message, IsSuccess: true, AIConfig: s.rt.Config}, nil
	}
}

func decodePrompt(data json.RawMessage, name string) (*aiconfig.Prompt, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("prompt_data is required")
	}
	var p aiconfig.Prompt
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if name != "" {
		p.Name = name
	}
	return &p, nil
}

func isProviderError(err error) bool {
	var remote *model.RemoteCallError
	var missing *model.MissingCredentialError
	var decoding *model.DecodingError
	return errors.As(err, &remote) || errors.As(err, &missing) || errors.As(err, &decoding)
}

// Close cancels any in-flight operation and saves the configuration to
// its bound path. The shutdown signal goes out first so an operation
// stuck emitting frames to a dead client cannot block the close.
func (s *Session) Close() {
	s.closeOnce.Do(s.shutdown)
}

func (s *Session) shutdown() {
	close(s.closing)

	s.mu.Lock()
	op := s.op
	s.mu.Unlock()
	if op != nil {
		if op.cancelled.CompareAndSwap(false, true) {
			op.cancel()
		}
		<-op.done
	}

	if s.rt.FilePath != "" {
		if err := s.rt.Save("", true); err != nil {
			logger.Warn("session %s: final save failed: %v", s.id, err)
		}
	}
}

// Runtime exposes the bound runtime, mainly for the server's autosave.
func (s *Session) Runtime() *runtime.Runtime { return s.rt }

func instanceStatus() map[string]any {
	data := map[string]any{"status": "OK"}
	if vm, err := mem.VirtualMemory(); err == nil {
		data["memory_used_percent"] = vm.UsedPercent
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil {
			data["process_rss_bytes"] = info.RSS
		}
	}
	return data
}
