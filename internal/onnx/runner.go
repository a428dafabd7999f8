package onnx

import (
	"context"
	"fmt"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

// Runner executes one pipeline graph in a session on the shared host.
type Runner struct {
	meta    Session
	host    *host
	session *ort.Session
}

func newRunner(meta Session, h *host) (*Runner, error) {
	session, err := h.runtime.NewSession(h.env, meta.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s graph (%s): %w", meta.Name, meta.Path, err)
	}

	return &Runner{meta: meta, host: h, session: session}, nil
}

// Run feeds the named inputs to the graph. Inputs the graph declares must
// all be present.
func (r *Runner) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	for _, in := range r.meta.Inputs {
		if _, ok := inputs[in.Name]; !ok {
			return nil, fmt.Errorf("run %q: missing input %q", r.meta.Name, in.Name)
		}
	}
	if r.session == nil {
		return nil, fmt.Errorf("run %q: session closed", r.meta.Name)
	}

	values := make(map[string]*ort.Value, len(inputs))
	defer closeValues(values)

	for name, t := range inputs {
		v, err := toValue(r.host.runtime, t)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		values[name] = v
	}

	outputs, err := r.session.Run(ctx, values)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", r.meta.Name, err)
	}
	defer closeValues(outputs)

	results := make(map[string]*Tensor, len(outputs))
	for name, v := range outputs {
		t, err := fromValue(v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		results[name] = t
	}

	return results, nil
}

// Close ends the session. The shared host stays loaded. Safe to call more
// than once.
func (r *Runner) Close() {
	if r.session != nil {
		r.session.Close()
		r.session = nil
	}
}

func (r *Runner) Name() string {
	return r.meta.Name
}

// toValue copies t into an ORT tensor; only the dtypes the pipeline graphs
// take are supported.
func toValue(rt *ort.Runtime, t *Tensor) (*ort.Value, error) {
	if t == nil {
		return nil, fmt.Errorf("nil tensor")
	}

	switch t.DType() {
	case DTypeFloat32:
		data, _ := t.Float32s()
		return ort.NewTensorValue(rt, data, t.Shape())
	case DTypeInt64:
		data, _ := t.Int64s()
		return ort.NewTensorValue(rt, data, t.Shape())
	}
	return nil, fmt.Errorf("unsupported tensor dtype %q", t.DType())
}

func fromValue(v *ort.Value) (*Tensor, error) {
	elemType, err := v.GetTensorElementType()
	if err != nil {
		return nil, fmt.Errorf("get element type: %w", err)
	}

	switch elemType {
	case ort.ONNXTensorElementDataTypeFloat:
		data, shape, err := ort.GetTensorData[float32](v)
		if err != nil {
			return nil, err
		}
		return NewTensor(data, shape)
	case ort.ONNXTensorElementDataTypeInt64:
		data, shape, err := ort.GetTensorData[int64](v)
		if err != nil {
			return nil, err
		}
		return NewTensor(data, shape)
	}
	return nil, fmt.Errorf("unsupported ORT element type %d", elemType)
}

func closeValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}
