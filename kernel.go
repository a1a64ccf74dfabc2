package pyharbor

import (
	_ "embed"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"
)

//go:embed scripts/kernel.py
var kernelScript string

// ExecError describes an exception raised inside the interpreter: class
// name, message and the full traceback text.
type ExecError struct {
	Exception string `json:"exception" msgpack:"exception"`
	Message   string `json:"message" msgpack:"message"`
	Traceback string `json:"traceback" msgpack:"traceback"`
}

// Error formats the exception with its traceback.
func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %s\n%s", e.Exception, e.Message, e.Traceback)
}

// ExecResult is the outcome of one script execution: the captured combined
// output, the tagged result value, and the exception if one was raised.
type ExecResult struct {
	Output string
	Value  Value
	OK     bool
	Err    *ExecError
}

// kernelRequest is one framed request to the kernel process.
type kernelRequest struct {
	Op    string `json:"op" msgpack:"op"`
	Scope string `json:"scope,omitempty" msgpack:"scope"`
	Code  string `json:"code,omitempty" msgpack:"code"`
}

// kernelReply is one framed reply from the kernel process. Result carries
// primitive values directly; Repr carries the textual form of anything else.
type kernelReply struct {
	OK        bool        `json:"ok" msgpack:"ok"`
	Output    string      `json:"output" msgpack:"output"`
	Result    interface{} `json:"result,omitempty" msgpack:"result"`
	Repr      string      `json:"repr,omitempty" msgpack:"repr"`
	Exception *ExecError  `json:"exception,omitempty" msgpack:"exception"`
}

// kernelHello is the handshake line the kernel sends on startup. It is
// always JSON-encoded; it announces which codec the frames after it use.
type kernelHello struct {
	Type   string `json:"type"`
	Codec  string `json:"codec"`
	Python string `json:"python"`
}

// Kernel supervises the resident interpreter subprocess. The subprocess runs
// an embedded kernel script that maintains one namespace dictionary per
// session scope and executes submitted code inside it; the interpreter
// itself stays an opaque external component.
//
// Kernel methods must be reached through the Gate; the kernel's own mutex
// only protects request/reply pairing against misuse.
type Kernel struct {
	cmd    *exec.Cmd
	tr     *FrameTransport
	codec  Codec
	python string

	mu     sync.Mutex
	closed bool
}

var _ Interpreter = (*Kernel)(nil)

// StartKernel launches the resident interpreter subprocess from the given
// interpreter executable and performs the codec handshake. The kernel script
// travels embedded in the binary and is handed to the interpreter with -c;
// the data pipes are passed as inherited file descriptors.
func StartKernel(pythonPath string) (*Kernel, error) {
	if !kernelSupported {
		return nil, fmt.Errorf("resident interpreter kernel needs inherited file descriptors, unavailable on %s", runtime.GOOS)
	}
	toKernelR, toKernelW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	fromKernelR, fromKernelW, err := os.Pipe()
	if err != nil {
		toKernelR.Close()
		toKernelW.Close()
		return nil, err
	}

	cmd := exec.Command(pythonPath, "-u", "-c", kernelScript)
	fds := setExtraFiles(cmd, []*os.File{toKernelR, fromKernelW})
	cmd.Args = append(cmd.Args, fds...)
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		toKernelR.Close()
		toKernelW.Close()
		fromKernelR.Close()
		fromKernelW.Close()
		return nil, fmt.Errorf("starting interpreter kernel: %w", err)
	}

	// child ends live in the child now
	toKernelR.Close()
	fromKernelW.Close()

	k := &Kernel{
		cmd: cmd,
		tr:  NewFrameTransport(fromKernelR, toKernelW),
	}

	frame, err := k.tr.Receive()
	if err != nil {
		k.Terminate()
		return nil, fmt.Errorf("interpreter kernel handshake: %w", err)
	}
	var hello kernelHello
	if err := (JSONCodec{}).Unmarshal(frame, &hello); err != nil || hello.Type != "hello" {
		k.Terminate()
		return nil, fmt.Errorf("interpreter kernel handshake: bad hello frame")
	}
	k.codec = codecByName(hello.Codec)
	k.python = hello.Python

	// bind the kernel's lifetime to the host process
	signalChan := make(chan os.Signal, 1)
	setSignalsForChannel(signalChan)
	go func() {
		<-signalChan
		k.Terminate()
	}()

	return k, nil
}

// PythonVersion returns the interpreter version reported at handshake.
func (k *Kernel) PythonVersion() string {
	return k.python
}

// roundTrip sends one request and reads its reply.
func (k *Kernel) roundTrip(req kernelRequest) (*kernelReply, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, fmt.Errorf("interpreter kernel is closed")
	}

	data, err := k.codec.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := k.tr.Send(data); err != nil {
		return nil, fmt.Errorf("sending to interpreter kernel: %w", err)
	}
	frame, err := k.tr.Receive()
	if err != nil {
		return nil, fmt.Errorf("reading from interpreter kernel: %w", err)
	}
	var reply kernelReply
	if err := k.codec.Unmarshal(frame, &reply); err != nil {
		return nil, fmt.Errorf("decoding interpreter kernel reply: %w", err)
	}
	return &reply, nil
}

// CreateScope creates a persistent namespace in the kernel.
func (k *Kernel) CreateScope(name string) error {
	reply, err := k.roundTrip(kernelRequest{Op: "create_scope", Scope: name})
	if err != nil {
		return err
	}
	if !reply.OK {
		if reply.Exception != nil {
			return reply.Exception
		}
		return fmt.Errorf("create_scope %s failed", name)
	}
	return nil
}

// DropScope destroys a namespace in the kernel.
func (k *Kernel) DropScope(name string) error {
	reply, err := k.roundTrip(kernelRequest{Op: "drop_scope", Scope: name})
	if err != nil {
		return err
	}
	if !reply.OK {
		if reply.Exception != nil {
			return reply.Exception
		}
		return fmt.Errorf("drop_scope %s failed", name)
	}
	return nil
}

// Exec runs code in the named namespace and returns the captured output and
// tagged result. Interpreter exceptions come back inside the ExecResult.
func (k *Kernel) Exec(scope, code string) (*ExecResult, error) {
	reply, err := k.roundTrip(kernelRequest{Op: "exec", Scope: scope, Code: code})
	if err != nil {
		return nil, err
	}
	res := &ExecResult{
		Output: reply.Output,
		OK:     reply.OK,
		Err:    reply.Exception,
	}
	if reply.Repr != "" {
		res.Value = Value{Kind: KindOpaque, Str: reply.Repr}
	} else {
		res.Value = valueFrom(reply.Result)
	}
	return res, nil
}

// Close asks the kernel to shut down, then terminates the process.
func (k *Kernel) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	if data, err := k.codec.Marshal(kernelRequest{Op: "shutdown"}); err == nil {
		if err := k.tr.Send(data); err == nil {
			// best-effort: wait for the ack so the exit is orderly
			if _, err := k.tr.Receive(); err != nil {
				log.Printf("pyharbor: kernel shutdown ack: %v", err)
			}
		}
	}
	k.mu.Unlock()

	k.tr.Close()
	return k.Terminate()
}

// Terminate stops the kernel process: SIGTERM first, then a kill after a
// five second grace period.
func (k *Kernel) Terminate() error {
	if k.cmd.Process == nil {
		return nil
	}
	if err := k.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// already gone
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- k.cmd.Wait()
	}()

	select {
	case <-time.After(5 * time.Second):
		if err := k.cmd.Process.Kill(); err != nil {
			return err
		}
		<-done
		return nil
	case err := <-done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && exitErr.ExitCode() == -1 {
				return nil
			}
		}
		return err
	}
}
