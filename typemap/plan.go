package typemap

import (
	"fmt"

	"github.com/wippyai/nativebind/abi"
	"github.com/wippyai/nativebind/errors"
	"github.com/wippyai/nativebind/ir"
)

// Role is the part an argument plays in a native call.
type Role uint8

const (
	// RoleValue is an ordinary argument the caller supplies or receives.
	RoleValue Role = iota
	// RoleSelf is the instance of an instance method.
	RoleSelf
	// RoleLength carries an array length the runtime fills from the array.
	RoleLength
	// RoleCapacity is a caller-supplied capacity for a caller-allocated out-array.
	RoleCapacity
	// RoleClosure is callback user data; trampolines do not need it.
	RoleClosure
	// RoleDestroy receives the destroy notifier of a notified-scope callback.
	RoleDestroy
	// RoleError is the trailing native error out-parameter.
	RoleError
)

// Arg is one native argument of a planned call.
type Arg struct {
	// Name is the Go parameter name.
	Name string
	// Native is the IR parameter name.
	Native  string
	Param   *ir.Param
	Role    Role
	Mapping Mapping
	// Index is the native argument position.
	Index int
}

// Input reports whether the caller supplies the argument.
func (a Arg) Input() bool {
	switch a.Role {
	case RoleCapacity:
		return true
	case RoleValue:
		return a.Mapping.ABI.Direction != abi.Out
	}
	return false
}

// Output reports whether the argument is returned to the caller.
func (a Arg) Output() bool {
	return a.Role == RoleValue && a.Mapping.ABI.Direction != abi.In
}

// Plan is the marshaling plan of one method: every native argument in order,
// with the cross references between them resolved.
type Plan struct {
	Method *ir.Method
	Args   []Arg
	Return Mapping
	// Relinquished lists Go names of arguments consumed by the call.
	Relinquished []string
}

// Inputs returns the arguments the caller supplies, in order.
func (p *Plan) Inputs() []Arg {
	var out []Arg
	for _, a := range p.Args {
		if a.Input() {
			out = append(out, a)
		}
	}
	return out
}

// Outputs returns the out and inout arguments, in order.
func (p *Plan) Outputs() []Arg {
	var out []Arg
	for _, a := range p.Args {
		if a.Output() {
			out = append(out, a)
		}
	}
	return out
}

// Throws reports whether the plan has a native error argument.
func (p *Plan) Throws() bool {
	return len(p.Args) > 0 && p.Args[len(p.Args)-1].Role == RoleError
}

// Plan maps every parameter of method. self is the instance type for
// instance methods and nil otherwise. An unsupported parameter shape or an
// ambiguous array convention fails the whole plan, never a guess.
func (m *Mapper) Plan(method *ir.Method, self *ir.TypeRef) (*Plan, error) {
	if !method.IsIntrospectable() {
		return nil, errors.New(errors.PhaseMap, errors.KindUnsupported).
			Path(method.Symbol).
			Detail("not introspectable").
			Build()
	}

	plan := &Plan{Method: method}
	base := 0
	if self != nil {
		none := ir.TransferNone
		mp, err := m.Map(*self, PositionParam, &none)
		if err != nil {
			return nil, wrapPlan(method, "self", err)
		}
		plan.Args = append(plan.Args, Arg{Name: "self", Native: "self", Role: RoleSelf, Mapping: mp})
		base = 1
	}

	n := len(method.Params)
	roles := make([]Role, n)
	for _, p := range method.Params {
		if m.ns.Classify(p.Type) != ir.CategoryCallback {
			continue
		}
		if p.Closure != nil && *p.Closure >= 0 && *p.Closure < n {
			roles[*p.Closure] = RoleClosure
		}
		if p.Destroy != nil && *p.Destroy >= 0 && *p.Destroy < n {
			roles[*p.Destroy] = RoleDestroy
		}
	}

	for i, p := range method.Params {
		a := Arg{Name: ParamName(p.Name), Native: p.Name, Param: p, Role: roles[i], Index: base + i}
		switch a.Role {
		case RoleClosure:
			a.Mapping = Mapping{ABI: abi.Pointer(), Category: ir.CategoryPrimitive}
		case RoleDestroy:
			a.Mapping = Mapping{ABI: abi.Callback(nil, abi.ScopeCall), Category: ir.CategoryCallback}
		default:
			mp, err := m.mapParam(p, base)
			if err != nil {
				return nil, wrapPlan(method, p.Name, err)
			}
			a.Mapping = mp
		}
		plan.Args = append(plan.Args, a)
	}

	for i := base; i < len(plan.Args); i++ {
		a := &plan.Args[i]
		if a.Mapping.Category != ir.CategoryArray || a.Role != RoleValue {
			continue
		}
		if err := m.linkArray(plan, method, a.Native, &a.Mapping.ABI, a.Param.Type, base); err != nil {
			return nil, err
		}
	}

	ret, err := m.Map(method.Return, PositionReturn, nil)
	if err != nil {
		return nil, wrapPlan(method, "return", err)
	}
	ret.ABI.Direction = abi.Out
	if ret.Category == ir.CategoryArray {
		if err := m.linkArray(plan, method, "return", &ret.ABI, method.Return, base); err != nil {
			return nil, err
		}
	}
	ret.ABI.Direction = abi.In
	plan.Return = ret

	if method.Throws {
		plan.Args = append(plan.Args, Arg{
			Name:    "nativeErr",
			Native:  "error",
			Role:    RoleError,
			Mapping: Mapping{ABI: abi.Error()},
			Index:   base + n,
		})
	}

	for _, a := range plan.Args {
		if a.Mapping.Relinquishes {
			plan.Relinquished = append(plan.Relinquished, a.Name)
		}
	}
	return plan, nil
}

func (m *Mapper) mapParam(p *ir.Param, base int) (Mapping, error) {
	mp, err := m.Map(p.Type, PositionParam, nil)
	if err != nil {
		return Mapping{}, err
	}
	mp.ABI.Direction = toABIDirection(p.Direction)
	mp.ABI.CallerAllocates = p.CallerAllocates
	if p.Direction != ir.DirIn {
		mp.Relinquishes = false
	}

	if mp.Category == ir.CategoryCallback && !mp.Placeholder {
		if p.Direction != ir.DirIn {
			return Mapping{}, errors.Unsupported(errors.PhaseMap, "callback out-parameter")
		}
		mp.ABI.Scope = toABIScope(p.Scope)
		if p.Scope == ir.ScopeNotified {
			if p.Destroy == nil {
				return Mapping{}, errors.Unsupported(errors.PhaseMap, "notified callback without destroy notifier")
			}
			mp.ABI.Destroy = base + *p.Destroy
		}
	}
	return mp, nil
}

// linkArray fills the length indices of an array argument or return value.
func (m *Mapper) linkArray(plan *Plan, method *ir.Method, name string, d *abi.Descriptor, ref ir.TypeRef, base int) error {
	incoming := d.Direction != abi.In

	if conv, ok := m.cfg.Conventions.Lookup(method.Symbol, name); ok {
		in, err := findParam(plan, conv.CountIn, method)
		if err != nil {
			return err
		}
		out, err := findParam(plan, conv.CountOut, method)
		if err != nil {
			return err
		}
		d.Length = abi.LengthParam
		d.LengthIn, d.LengthOut = in, out
		if in != abi.NoIndex {
			if incoming {
				plan.Args[in].Role = RoleCapacity
			} else {
				plan.Args[in].Role = RoleLength
			}
		}
		if out != abi.NoIndex && out != in {
			plan.Args[out].Role = RoleLength
		}
		return nil
	}

	switch d.Length {
	case abi.LengthFixed, abi.LengthZeroTerminated:
		return nil
	case abi.LengthParam:
		if ref.LengthParam == nil {
			return ambiguous(method, name, "length parameter not declared")
		}
		idx := base + *ref.LengthParam
		if idx >= len(plan.Args) || plan.Args[idx].Param == nil {
			return errors.OutOfBounds(errors.PhaseMap, []string{method.Symbol, name}, *ref.LengthParam, len(method.Params))
		}
		lenArg := &plan.Args[idx]
		lenDir := lenArg.Param.Direction

		if !incoming {
			if lenDir != ir.DirIn {
				return ambiguous(method, name, "in-array with an out length")
			}
			d.LengthIn = idx
			lenArg.Role = RoleLength
			return nil
		}

		switch lenDir {
		case ir.DirOut:
			d.LengthOut = idx
			lenArg.Role = RoleLength
		case ir.DirInOut:
			d.LengthIn, d.LengthOut = idx, idx
			if d.CallerAllocates {
				lenArg.Role = RoleCapacity
			} else {
				lenArg.Role = RoleLength
			}
		default:
			if !d.CallerAllocates {
				return ambiguous(method, name, "callee-allocated out-array with an in-only length")
			}
			d.LengthIn = idx
			lenArg.Role = RoleCapacity
		}
		return nil
	}
	return ambiguous(method, name, "no length convention")
}

func findParam(plan *Plan, name string, method *ir.Method) (int, error) {
	if name == "" {
		return abi.NoIndex, nil
	}
	for i, a := range plan.Args {
		if a.Param != nil && a.Native == name {
			return i, nil
		}
	}
	return abi.NoIndex, errors.New(errors.PhaseMap, errors.KindNotFound).
		Path(method.Symbol, name).
		Detail("array convention names unknown parameter").
		Build()
}

func ambiguous(method *ir.Method, name, why string) error {
	return errors.New(errors.PhaseMap, errors.KindAmbiguous).
		Path(method.Symbol, name).
		Detail("cannot derive the element count location (%s); add an array convention", why).
		Build()
}

func wrapPlan(method *ir.Method, param string, err error) error {
	return errors.New(errors.PhaseMap, kindOf(err)).
		Path(method.Symbol, param).
		Cause(err).
		Build()
}

func kindOf(err error) errors.Kind {
	if e, ok := err.(*errors.Error); ok {
		return e.Kind
	}
	return errors.KindUnsupported
}

func toABIDirection(d ir.Direction) abi.Direction {
	switch d {
	case ir.DirOut:
		return abi.Out
	case ir.DirInOut:
		return abi.InOut
	}
	return abi.In
}

func toABIScope(s ir.Scope) abi.Scope {
	switch s {
	case ir.ScopeAsync:
		return abi.ScopeAsync
	case ir.ScopeNotified:
		return abi.ScopeNotified
	case ir.ScopeForever:
		return abi.ScopeForever
	}
	return abi.ScopeCall
}

// String renders a plan for diagnostics.
func (p *Plan) String() string {
	s := p.Method.Symbol + "("
	for i, a := range p.Args {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s:%s", a.Native, a.Mapping.ABI)
	}
	return s + ") " + p.Return.ABI.String()
}
