package trial

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"go.uber.org/zap/zapcore"
	"golang.org/x/xerrors"
)

// NoMessage replaces the message of a failure that has none.
const NoMessage = "<no message>"

const unknown = "unknown"

// FailureRecord describes where and how a trial failed.
type FailureRecord struct {
	Source  string
	Line    int
	Routine string
	Kind    string
	Message string
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (r *FailureRecord) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("source", r.Source)
	enc.AddInt("line", r.Line)
	enc.AddString("routine", r.Routine)
	enc.AddString("kind", r.Kind)
	enc.AddString("message", r.Message)
	return nil
}

// Fault is an error a simulator can return to give the provenance of its
// failure explicitly.
type Fault struct {
	Kind    string
	Message string
	frame   runtime.Frame
}

// NewFault creates a fault located at the caller.
func NewFault(kind, format string, args ...interface{}) *Fault {
	f := &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}

	pc := make([]uintptr, 1)
	if runtime.Callers(2, pc) > 0 {
		f.frame, _ = runtime.CallersFrames(pc).Next()
	}

	return f
}

func (f *Fault) Error() string {
	return f.Kind + ": " + f.Message
}

func fromPanic(v interface{}, frame runtime.Frame) *FailureRecord {
	rec := &FailureRecord{
		Kind:    fmt.Sprintf("%T", v),
		Message: panicMessage(v),
	}

	setFrame(rec, frame)

	return rec
}

// fromError never panics: an error failing to describe itself, like a nil
// pointer stored in the interface, is only known by its type.
func fromError(err error) (rec *FailureRecord) {
	defer func() {
		if recover() != nil {
			rec = &FailureRecord{
				Source:  unknown,
				Routine: unknown,
				Kind:    fmt.Sprintf("%T", err),
				Message: NoMessage,
			}
		}
	}()

	rec = &FailureRecord{
		Kind:    fmt.Sprintf("%T", innermost(err)),
		Message: normalize(err.Error()),
	}

	var fault *Fault
	if errors.As(err, &fault) && fault != nil {
		rec.Kind = fault.Kind
		rec.Message = normalize(fault.Message)
		setFrame(rec, fault.frame)
		return rec
	}

	setFrame(rec, errorFrame(err))

	return rec
}

func setFrame(rec *FailureRecord, frame runtime.Frame) {
	rec.Source = unknown
	rec.Routine = unknown

	if frame.File != "" {
		rec.Source = frame.File
		rec.Line = frame.Line
	}

	if frame.Function != "" {
		rec.Routine = frame.Function
	}
}

func panicMessage(v interface{}) string {
	switch e := v.(type) {
	case nil:
		return NoMessage
	case error:
		return errorMessage(e)
	case string:
		return normalize(e)
	default:
		return normalize(fmt.Sprint(v))
	}
}

func errorMessage(err error) (msg string) {
	defer func() {
		if recover() != nil {
			msg = NoMessage
		}
	}()

	return normalize(err.Error())
}

func normalize(msg string) string {
	if strings.TrimSpace(msg) == "" {
		return NoMessage
	}

	return msg
}

func innermost(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}

		err = next
	}
}

// panicFrame looks for the function that panicked in the stack of the
// deferred function calling it.
func panicFrame() (runtime.Frame, bool) {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	panicking := false
	for {
		frame, more := frames.Next()

		if panicking && !strings.HasPrefix(frame.Function, "runtime.") {
			return frame, true
		}

		if frame.Function == "runtime.gopanic" {
			panicking = true
		}

		if !more {
			return runtime.Frame{}, false
		}
	}
}

// framePrinter collects the location printed by the xerrors frames.
type framePrinter struct {
	function string
	file     string
	line     int
}

func (p *framePrinter) Print(args ...interface{}) {}

func (p *framePrinter) Printf(format string, args ...interface{}) {
	switch format {
	case "%s\n    ":
		if len(args) == 1 {
			p.function, _ = args[0].(string)
		}
	case "%s:%d\n":
		if len(args) == 2 {
			p.file, _ = args[0].(string)
			p.line, _ = args[1].(int)
		}
	}
}

func (p *framePrinter) Detail() bool {
	return true
}

// errorFrame returns the deepest location recorded by xerrors in the chain.
func errorFrame(err error) runtime.Frame {
	frame := runtime.Frame{}

	for err != nil {
		formatter, ok := err.(xerrors.Formatter)
		if !ok {
			err = errors.Unwrap(err)
			continue
		}

		p := &framePrinter{}
		err = formatter.FormatError(p)

		if p.file != "" {
			frame = runtime.Frame{Function: p.function, File: p.file, Line: p.line}
		}
	}

	return frame
}
