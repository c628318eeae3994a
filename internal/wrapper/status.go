package wrapper

import (
	"bytes"
	"context"
	"errors"

	"github.com/Ning0612/reprefix/internal/adapter/local"
	"github.com/Ning0612/reprefix/internal/core/classify"
	"github.com/Ning0612/reprefix/internal/domain"
)

// State of a wrapper on disk
type State string

const (
	StateOK        State = "ok"
	StateMissing   State = "missing"
	StateUnwrapped State = "unwrapped"
	StateBroken    State = "broken"
)

// Status describes one spec's wrapper as found on disk
type Status struct {
	Name          string `json:"name" yaml:"name"`
	Path          string `json:"path" yaml:"path"`
	State         State  `json:"state" yaml:"state"`
	WrapperScript bool   `json:"wrapper_script" yaml:"wrapper_script"`
	RealPresent   bool   `json:"real_present" yaml:"real_present"`
	RealNative    bool   `json:"real_native" yaml:"real_native"`
	Message       string `json:"message" yaml:"message"`
}

// maxScriptSize bounds how much of a candidate wrapper is read
const maxScriptSize = 64 << 10

func truncate(head []byte) []byte {
	if len(head) > classify.HeadSize {
		return head[:classify.HeadSize]
	}
	return head
}

// Inspect reports the wrapper state of every spec under root
func Inspect(ctx context.Context, root string, specs []Spec, c *classify.Classifier) ([]Status, error) {
	if c == nil {
		c = classify.NewDefault()
	}
	tree, err := local.Open(root)
	if err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(specs))
	for _, spec := range specs {
		st := Status{Name: spec.Name, Path: spec.Path}

		head, err := readUpTo(ctx, tree, spec.Path, maxScriptSize)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			st.State = StateMissing
			st.Message = "executable not present"
			out = append(out, st)
			continue
		case err != nil:
			return nil, err
		}
		st.WrapperScript = classify.HasShebang(head) && bytes.Contains(head, []byte(spec.RealPath()))

		realHead, err := readHead(ctx, tree, spec.RealPath())
		switch {
		case err == nil:
			st.RealPresent = true
			st.RealNative = c.Classify(spec.RealPath(), realHead) == domain.NativeExecutable
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}

		switch {
		case st.WrapperScript && st.RealPresent && st.RealNative:
			st.State = StateOK
			st.Message = "wrapper is properly configured"
		case st.WrapperScript && !st.RealPresent:
			st.State = StateBroken
			st.Message = spec.RealPath() + " not found"
		case st.WrapperScript:
			st.State = StateBroken
			st.Message = spec.RealPath() + " is not a native executable"
		case c.Classify(spec.Path, truncate(head)) == domain.NativeExecutable:
			st.State = StateUnwrapped
			st.Message = "original binary in place, not wrapped"
		default:
			// 本來就是 script 的工具不需要包裝
			st.State = StateOK
			st.Message = "not a native executable, no wrapper needed"
		}
		out = append(out, st)
	}
	return out, nil
}
