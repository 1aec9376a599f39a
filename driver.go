package kestrel

import (
	"errors"
	"fmt"

	"github.com/davecgh/go-spew/spew"
)

// EngineDriver advances one execution path through a program.
//
// The driver owns its location and engine. The program, translator and
// platform are shared read-only with every driver forked from the same root.
type EngineDriver struct {
	program    *Program
	location   ProgramLocation
	engine     *SymbolicEngine
	translator Translator
	platform   Platform
}

// NewEngineDriver returns a driver positioned at location. The translator and
// platform may be nil.
func NewEngineDriver(program *Program, location ProgramLocation, engine *SymbolicEngine, translator Translator, platform Platform) *EngineDriver {
	return &EngineDriver{
		program:    program,
		location:   location,
		engine:     engine,
		translator: translator,
		platform:   platform,
	}
}

// Program returns the program the driver executes.
func (d *EngineDriver) Program() *Program { return d.program }

// Location returns the current location of the driver.
func (d *EngineDriver) Location() ProgramLocation { return d.location }

// Engine returns the engine owned by the driver.
func (d *EngineDriver) Engine() *SymbolicEngine { return d.engine }

// Translator returns the translator shared by the driver, if any.
func (d *EngineDriver) Translator() Translator { return d.translator }

// Platform returns the platform shared by the driver, if any.
func (d *EngineDriver) Platform() Platform { return d.platform }

// Address returns the address of the current instruction, if it has one.
func (d *EngineDriver) Address() (uint64, bool) {
	return d.location.Address(d.program)
}

// Step executes the current location and returns the drivers for every
// feasible successor. An empty result means the path has halted.
//
// The receiver is never modified. Each successor owns its own engine so
// successors can be stepped independently.
func (d *EngineDriver) Step() ([]*EngineDriver, error) {
	switch d.location.Kind {
	case InstructionLocation:
		ins, err := d.location.Instruction(d.program)
		if err != nil {
			return nil, err
		}
		Logger.Printf("[step] %s: %s", d.location, ins)

		if op, ok := ins.Operation.(*Brc); ok {
			return d.stepBrc(op)
		}

		engine := d.engine.Clone()
		if err := engine.Execute(ins.Operation); err != nil {
			return nil, fmt.Errorf("%s: %w", d.location, err)
		}
		return d.advance(engine)

	case EmptyBlockLocation:
		return d.advance(d.engine.Clone())

	case EdgeLocation:
		// Guards are checked when the edge is chosen so an edge location only
		// moves on to the tail block.
		next, err := d.location.Forward(d.program)
		if err != nil {
			return nil, err
		}
		return []*EngineDriver{d.fork(next[0], d.engine.Clone(), d.program)}, nil

	default:
		panic("unreachable")
	}
}

// stepBrc evaluates a conditional branch. Wide conditions are compared
// against zero. A concrete condition takes exactly one direction. A symbolic condition forks into a taken and a not-taken
// path, each constrained by the matching assertion.
func (d *EngineDriver) stepBrc(op *Brc) ([]*EngineDriver, error) {
	engine := d.engine.Clone()
	cond := engine.Symbolize(op.Condition)
	if w := ExprWidth(cond); w != WidthBool {
		cond = NewBinaryExpr(NE, cond, NewConstantExpr(0, w))
	}
	if IsConstantFalse(cond) {
		return d.advance(engine)
	}

	target, ok := engine.Eval(op.Target)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", d.location, ErrSymbolicTarget, engine.Symbolize(op.Target))
	}
	program, location, err := d.resolve(target.Value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.location, err)
	}

	if IsConstantTrue(cond) {
		Logger.Printf("[step] %s: branch to 0x%x", d.location, target.Value)
		return []*EngineDriver{d.fork(location, engine, program)}, nil
	}

	Logger.Printf("[fork] %s: %s", d.location, cond)
	taken := engine.Clone()
	if err := taken.AddAssertion(cond); err != nil {
		return nil, err
	} else if err := engine.AddAssertion(NewIsZeroExpr(cond)); err != nil {
		return nil, err
	}

	notTaken, err := d.advance(engine)
	if err != nil {
		return nil, err
	}
	return append([]*EngineDriver{d.fork(location, taken, program)}, notTaken...), nil
}

// resolve returns the location of the instruction at address. If no lifted
// instruction matches, the function at address is lifted with the translator
// and added to a copy of the program.
func (d *EngineDriver) resolve(address uint64) (*Program, ProgramLocation, error) {
	location, err := ProgramLocationFromAddress(d.program, address)
	if err == nil {
		return d.program, location, nil
	} else if !errors.Is(err, ErrLocationNotFound) || d.translator == nil {
		return nil, ProgramLocation{}, err
	}

	fn, err := d.translator.TranslateFunction(address)
	if err != nil {
		return nil, ProgramLocation{}, fmt.Errorf("translate 0x%x: %w", address, err)
	}
	program := d.program.Clone()
	program.AddFunction(fn)

	// The lifted function may enclose address rather than start at it.
	if location, err = ProgramLocationFromAddress(program, address); err == nil {
		return program, location, nil
	} else if location, err = ProgramLocationFromFunction(fn); err != nil {
		return nil, ProgramLocation{}, err
	}
	return program, location, nil
}

// advance moves engine past the current location. At the end of a block every
// outgoing edge guard is evaluated: concrete false edges are dropped, concrete
// true or unguarded edges are followed as is, and symbolic guards are recorded
// as an assertion on a separate copy of the engine.
func (d *EngineDriver) advance(engine *SymbolicEngine) ([]*EngineDriver, error) {
	next, err := d.location.Forward(d.program)
	if err != nil {
		return nil, err
	}

	type successor struct {
		location  ProgramLocation
		assertion Expr
	}
	var feasible []successor
	for _, loc := range next {
		if loc.Kind != EdgeLocation {
			feasible = append(feasible, successor{location: loc})
			continue
		}

		edge, err := loc.Edge(d.program)
		if err != nil {
			return nil, err
		} else if edge.Condition == nil {
			feasible = append(feasible, successor{location: loc})
			continue
		}

		switch cond := engine.Symbolize(edge.Condition); {
		case IsConstantFalse(cond):
			continue
		case IsConstantTrue(cond):
			feasible = append(feasible, successor{location: loc})
		default:
			feasible = append(feasible, successor{location: loc, assertion: cond})
		}
	}

	if len(feasible) == 0 {
		Logger.Printf("[halt] %s", d.location)
		return nil, nil
	} else if len(feasible) > 1 {
		Logger.Printf("[fork] %s: %d successors", d.location, len(feasible))
	}

	drivers := make([]*EngineDriver, len(feasible))
	for i, s := range feasible {
		e := engine
		if len(feasible) > 1 {
			e = engine.Clone()
		}
		if s.assertion != nil {
			if err := e.AddAssertion(s.assertion); err != nil {
				return nil, err
			}
		}
		drivers[i] = d.fork(s.location, e, d.program)
	}
	return drivers, nil
}

func (d *EngineDriver) fork(location ProgramLocation, engine *SymbolicEngine, program *Program) *EngineDriver {
	return &EngineDriver{
		program:    program,
		location:   location,
		engine:     engine,
		translator: d.translator,
		platform:   d.platform,
	}
}

// Report summarizes the path taken by the driver.
type Report struct {
	Location   ProgramLocation
	Address    uint64
	HasAddress bool
	Assertions []Expr
	Inputs     []*ScalarExpr

	// Scalars holds the current value of every assigned scalar.
	Scalars map[string]Expr
}

// Report returns a summary of the driver's current state: its position, the
// path constraints, and the inputs they are expressed in.
func (d *EngineDriver) Report() *Report {
	r := &Report{
		Location:   d.location,
		Assertions: d.engine.Assertions(),
		Scalars:    make(map[string]Expr),
	}
	r.Address, r.HasAddress = d.Address()

	if d.platform != nil {
		r.Inputs = d.platform.SymbolicVariables()
	} else {
		r.Inputs = FindScalars(r.Assertions...)
	}

	for _, name := range d.engine.ScalarNames() {
		r.Scalars[name], _ = d.engine.Scalar(name)
	}
	return r
}

// Evaluate checks the path constraints against a model of input values and
// returns the concrete value of every scalar under that model. Returns false
// if the model violates an assertion.
func (r *Report) Evaluate(model map[string]uint64) (map[string]uint64, bool, error) {
	for _, expr := range r.Assertions {
		c, err := EvaluateExpr(expr, model)
		if err != nil {
			return nil, false, err
		} else if !c.IsTrue() {
			return nil, false, nil
		}
	}

	values := make(map[string]uint64, len(r.Scalars))
	for name, expr := range r.Scalars {
		c, err := EvaluateExpr(expr, model)
		if errors.Is(err, ErrUnboundScalar) {
			continue // depends on memory outside the model
		} else if err != nil {
			return nil, false, err
		}
		values[name] = c.Value
	}
	return values, true, nil
}

var dumpConfig = spew.ConfigState{Indent: "  ", SortKeys: true, DisablePointerAddresses: true}

// Dump returns a detailed description of the driver's report.
func (d *EngineDriver) Dump() string {
	return dumpConfig.Sdump(d.Report())
}
