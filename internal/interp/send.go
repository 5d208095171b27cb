package interp

import (
	"github.com/pkg/errors"

	"github.com/devhawala/ST80-sub000/internal/memory"
	"github.com/devhawala/ST80-sub000/internal/oop"
)

// Message fixed fields (§8 scenario 3: "a Message object is
// constructed with that selector and an empty argument array").
const (
	MessageSelector  = 0
	MessageArguments = 1
)

// sendSelector implements §4.2 "sendSelector(selector, argCount)":
// peek the receiver at depth argCount, look up, execute.
func (ic *Interpreter) sendSelector(selector oop.OOP, argCount int) error {
	ic.SendCount++
	receiver := ic.StackValue(argCount)
	class := ic.Memory.FetchClassOf(receiver)

	ic.messageSelector = selector
	ic.argumentCount = argCount

	result, err := LookupMethod(ic.Memory, ic.Cache, class, selector, func() (oop.OOP, error) {
		return ic.synthesizeMessage(selector, argCount)
	})
	if err != nil {
		return err
	}
	return ic.executeNewMethod(result.Method, result.Primitive)
}

// sendSuper is identical except lookup starts at the superclass of
// the class the currently executing method is installed in, not at
// the receiver's own class (so overridden methods further down the
// chain are skipped).
func (ic *Interpreter) sendSuper(selector oop.OOP, argCount int) error {
	ic.messageSelector = selector
	ic.argumentCount = argCount

	definingClass := MethodClassOf(ic.Memory, ic.method)
	superclass := ic.Memory.FetchPointer(ClassSuperclass, definingClass)

	result, err := LookupMethod(ic.Memory, ic.Cache, superclass, selector, func() (oop.OOP, error) {
		return ic.synthesizeMessage(selector, argCount)
	})
	if err != nil {
		return err
	}
	return ic.executeNewMethod(result.Method, result.Primitive)
}

func (ic *Interpreter) sendUnary(selector oop.OOP, receiver oop.OOP) error {
	// Push the receiver so sendSelector's depth-0 peek sees it (for
	// mustBeBoolean, conditionalJump has already popped the culprit).
	ic.Push(receiver)
	return ic.sendSelector(selector, 0)
}

// synthesizeMessage builds the Message object doesNotUnderstand:
// receives: an Array of the argCount arguments currently on the
// stack, wrapped with the original selector (§4.2, §8 scenario 3).
func (ic *Interpreter) synthesizeMessage(selector oop.OOP, argCount int) (oop.OOP, error) {
	argsArray, err := ic.Memory.InstantiateClassWithPointers(oop.ClassArrayPointer, argCount, func() { ic.Memory.CollectGarbage(ic) })
	if err != nil {
		return 0, err
	}
	for i := 0; i < argCount; i++ {
		ic.Memory.StorePointer(i, argsArray, ic.StackValue(argCount-1-i))
	}
	msg, err := ic.Memory.InstantiateClassWithPointers(oop.ClassMessagePointer, 2, func() { ic.Memory.CollectGarbage(ic) })
	if err != nil {
		return 0, err
	}
	ic.Memory.StorePointer(MessageSelector, msg, selector)
	ic.Memory.StorePointer(MessageArguments, msg, argsArray)

	// Replace the argCount arguments on the stack with the single
	// Message argument doesNotUnderstand: expects, then fix up
	// argumentCount/selector for the restarted lookup.
	ic.PopN(argCount)
	ic.Push(msg)
	ic.argumentCount = 1
	ic.messageSelector = oop.DoesNotUnderstandSelectorPointer
	return msg, nil
}

// GCRoots implements memory.Roots so synthesizeMessage's allocation
// calls can trigger a GC mid-send without losing the interpreter's own
// live registers.
func (ic *Interpreter) GCRoots() []oop.OOP {
	roots := []oop.OOP{ic.activeContext, ic.homeContext, ic.method, ic.receiver, ic.messageSelector, ic.newMethod}
	if ic.Sched != nil {
		roots = append(roots, ic.Sched.ActiveProcess())
	}
	return roots
}

// executeNewMethod implements §4.2 step 3: try the primitive, and
// only activate the bytecoded method body if it fails or there is
// none.
func (ic *Interpreter) executeNewMethod(method oop.OOP, primitive int) error {
	ic.newMethod = method
	ic.primitiveIndex = primitive
	if primitive != 0 && ic.Prims != nil {
		handled, err := ic.Prims.Dispatch(primitive, ic)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
		ic.PrimitiveFailures++
	}
	return ic.activateMethod(method)
}

// activateMethod implements §4.2 "Method activation".
func (ic *Interpreter) activateMethod(method oop.OOP) error {
	flag := MethodFlag(ic.Memory, method)
	switch flag {
	case FlagReturnSelf:
		result := ic.StackValue(ic.argumentCount)
		ic.PopN(ic.argumentCount + 1)
		ic.Push(result)
		return nil
	case FlagReturnInstVar:
		// The header's primitive-index field doubles as the fixed
		// instance-variable index when flag==6 (a flag-5/6 method
		// never has a real primitive to dispatch).
		index := MethodPrimitiveIndex(ic.Memory, method)
		result := ic.Memory.FetchPointer(index, ic.StackValue(ic.argumentCount))
		ic.PopN(ic.argumentCount + 1)
		ic.Push(result)
		return nil
	}

	argCount := ic.argumentCount
	large := MethodIsLargeContext(ic.Memory, method)
	size := NewContextSize(large)

	newCtx, err := ic.Memory.InstantiateClassWithPointers(oop.ClassMethodContextPointer, size, func() { ic.Memory.CollectGarbage(ic) })
	if err != nil {
		return errors.Wrap(err, "interp: method context allocation failed")
	}

	ic.flushRegisters()
	SetSender(ic.Memory, newCtx, ic.activeContext)
	SetMethod(ic.Memory, newCtx, method)
	SetIP(ic.Memory, newCtx, InitialIPOf(ic.Memory, method))
	SetSP(ic.Memory, newCtx, MethodTempCountOf(ic.Memory, method)-1)

	// Caller's stack currently holds [..., receiver, arg1, ..., argN]
	// with receiver at depth argCount; copy in order receiver..argN
	// into the receiver field and the temp frame that follows it.
	base := ic.sp - argCount
	for i := 0; i <= argCount; i++ {
		v := Temp(ic.Memory, ic.activeContext, base+i)
		ic.Memory.StorePointer(fieldReceiverOrHome+i, newCtx, v)
	}
	PopN(ic.Memory, ic.activeContext, argCount+1)

	ic.ActivateContext(newCtx)
	return nil
}

// ActivateBlock implements `value`/`value:`/... activation: the
// receiver block (with its declared argument count already validated
// by the caller, normally internal/primitive's primitiveValue) takes
// over as the active context. argCount values plus the block itself
// are popped from the current stack; args are copied into the block
// context's temp frame starting at temp 0.
func (ic *Interpreter) ActivateBlock(block oop.OOP, argCount int) error {
	caller := ic.activeContext
	SetSender(ic.Memory, block, caller)
	SetIP(ic.Memory, block, InitialIP(ic.Memory, block))
	SetSP(ic.Memory, block, argCount-1)

	base := ic.sp - argCount + 1
	for i := 0; i < argCount; i++ {
		v := Temp(ic.Memory, caller, base+i)
		SetTemp(ic.Memory, block, i, v)
	}
	ic.flushRegisters()
	PopN(ic.Memory, ic.activeContext, argCount+1)

	ic.ActivateContext(block)
	return nil
}

// doReturn implements §4.2 "Returns". fromBlock selects whether the
// target is the sender (method return) or the block's home's sender
// (non-local block return, which targets the home method's sender,
// not the block's immediate caller).
func (ic *Interpreter) doReturn(result oop.OOP, fromBlock bool) error {
	var target oop.OOP
	var dying oop.OOP
	if fromBlock {
		dying = ic.homeContext
		target = Sender(ic.Memory, ic.homeContext)
	} else {
		dying = ic.activeContext
		target = Sender(ic.Memory, ic.activeContext)
	}

	if target == oop.NilPointer || IP(ic.Memory, target) < 0 {
		return ic.sendUnary(oop.CannotReturnSelectorPointer, result)
	}

	ic.flushRegisters()
	SetSender(ic.Memory, dying, oop.NilPointer)
	SetIP(ic.Memory, dying, -1)

	ic.ActivateContext(target)
	ic.Push(result)
	return nil
}

// specialArithmetic implements the 176-191 fast path: try the inline
// numeric primitive when both operands are small integers, else fall
// back to a normal send via the SpecialSelectors table (§4.2, §8
// scenarios 1-2).
func (ic *Interpreter) specialArithmetic(i int) error {
	selector, argCount := SpecialSelector(ic.Memory, i)
	if argCount != 1 {
		return ic.sendSelector(selector, argCount)
	}

	arg := ic.Top()
	recv := ic.StackValue(1)
	if ic.Memory.IsIntegerObject(recv) && ic.Memory.IsIntegerObject(arg) {
		a := ic.Memory.IntegerValueOf(recv)
		b := ic.Memory.IntegerValueOf(arg)
		if result, ok := inlineArithmetic(ic.Memory, i, a, b); ok {
			ic.PopN(2)
			ic.Push(result)
			return nil
		}
	}
	return ic.sendSelector(selector, argCount)
}

// inlineArithmetic evaluates arithmetic-group op i on (a, b) when
// representable as an in-range small integer, reporting ok=false on
// overflow, non-applicability (e.g. @ needs to build a Point, left to
// the normal send), or division by zero.
func inlineArithmetic(m *memory.Manager, i, a, b int) (oop.OOP, bool) {
	switch i {
	case ArithAdd:
		r := a + b
		if !m.IsIntegerValue(r) {
			return 0, false
		}
		return m.IntegerObjectOf(r), true
	case ArithSub:
		r := a - b
		if !m.IsIntegerValue(r) {
			return 0, false
		}
		return m.IntegerObjectOf(r), true
	case ArithLess:
		return boolOOP(a < b), true
	case ArithGreater:
		return boolOOP(a > b), true
	case ArithLessEq:
		return boolOOP(a <= b), true
	case ArithGreaterEq:
		return boolOOP(a >= b), true
	case ArithEqual:
		return boolOOP(a == b), true
	case ArithNotEqual:
		return boolOOP(a != b), true
	case ArithMul:
		r := a * b
		if !m.IsIntegerValue(r) || (a != 0 && r/a != b) {
			return 0, false
		}
		return m.IntegerObjectOf(r), true
	case ArithMod:
		if b == 0 {
			return 0, false
		}
		r := a % b
		if (r != 0) && ((r < 0) != (b < 0)) {
			r += b
		}
		if !m.IsIntegerValue(r) {
			return 0, false
		}
		return m.IntegerObjectOf(r), true
	case ArithIntDivide:
		if b == 0 {
			return 0, false
		}
		q := a / b
		if (a%b != 0) && ((a < 0) != (b < 0)) {
			q--
		}
		if !m.IsIntegerValue(q) {
			return 0, false
		}
		return m.IntegerObjectOf(q), true
	case ArithBitAnd:
		r := a & b
		if !m.IsIntegerValue(r) {
			return 0, false
		}
		return m.IntegerObjectOf(r), true
	case ArithBitOr:
		r := a | b
		if !m.IsIntegerValue(r) {
			return 0, false
		}
		return m.IntegerObjectOf(r), true
	case ArithBitShift:
		var r int
		if b >= 0 {
			r = a << uint(b)
		} else {
			r = a >> uint(-b)
		}
		if !m.IsIntegerValue(r) {
			return 0, false
		}
		return m.IntegerObjectOf(r), true
	default:
		// ArithDivide (needs Fraction on non-exact results) and
		// ArithMakePoint (needs a Point object) are never inlined.
		return 0, false
	}
}

func boolOOP(v bool) oop.OOP {
	if v {
		return oop.TruePointer
	}
	return oop.FalsePointer
}

// specialSend implements bytecodes 192-207: table-driven sends with no
// arithmetic fast path (==, class, blockCopy:, value, value:, ...).
func (ic *Interpreter) specialSend(i int) error {
	selector, argCount := SpecialSelector(ic.Memory, FirstSpecialSendBytecode-FirstArithmeticSelectorBytecode+i)
	return ic.sendSelector(selector, argCount)
}

// literalSelectorSend implements bytecodes 208-255: the literal at the
// decoded index is the selector; the sub-range picks the arg count.
func (ic *Interpreter) literalSelectorSend(i int) error {
	var literalIndex, argCount int
	switch {
	case i < 16:
		literalIndex, argCount = i, 0
	case i < 32:
		literalIndex, argCount = i-16, 1
	default:
		literalIndex, argCount = i-32, 2
	}
	selector := Literal(ic.Memory, ic.method, literalIndex)
	return ic.sendSelector(selector, argCount)
}

func (ic *Interpreter) extendedPushStore(b byte) {
	ext := FetchBytecode(ic.Memory, ic.method, ic.ip)
	ic.ip++
	kind := int(ext >> 6)
	index := int(ext & 0x3F)

	switch b {
	case ExtendedPush:
		switch kind {
		case ExtendedReceiverVariable:
			ic.Push(ic.Memory.FetchPointer(index, ic.receiver))
		case ExtendedTemporary:
			ic.Push(Temp(ic.Memory, ic.activeContext, index))
		case ExtendedLiteralConstant:
			ic.Push(Literal(ic.Memory, ic.method, index))
		case ExtendedLiteralVariable:
			assoc := Literal(ic.Memory, ic.method, index)
			ic.Push(ic.Memory.FetchPointer(associationValueIndex, assoc))
		}
	case ExtendedStore, ExtendedStoreAndPop:
		v := ic.Top()
		switch kind {
		case ExtendedReceiverVariable:
			ic.Memory.StorePointer(index, ic.receiver, v)
		case ExtendedTemporary:
			SetTemp(ic.Memory, ic.activeContext, index, v)
		case ExtendedLiteralVariable:
			assoc := Literal(ic.Memory, ic.method, index)
			ic.Memory.StorePointer(associationValueIndex, assoc, v)
		}
		if b == ExtendedStoreAndPop {
			ic.PopN(1)
		}
	}
}

func (ic *Interpreter) singleExtendedSend() error {
	ext := FetchBytecode(ic.Memory, ic.method, ic.ip)
	ic.ip++
	argCount := int(ext >> 5)
	literalIndex := int(ext & 0x1F)
	selector := Literal(ic.Memory, ic.method, literalIndex)
	return ic.sendSelector(selector, argCount)
}

func (ic *Interpreter) doubleExtendedSend() error {
	argCount := int(FetchBytecode(ic.Memory, ic.method, ic.ip))
	ic.ip++
	literalIndex := int(FetchBytecode(ic.Memory, ic.method, ic.ip))
	ic.ip++
	selector := Literal(ic.Memory, ic.method, literalIndex)
	return ic.sendSelector(selector, argCount)
}

func (ic *Interpreter) singleExtendedSuper() error {
	ext := FetchBytecode(ic.Memory, ic.method, ic.ip)
	ic.ip++
	argCount := int(ext >> 5)
	literalIndex := int(ext & 0x1F)
	selector := Literal(ic.Memory, ic.method, literalIndex)
	return ic.sendSuper(selector, argCount)
}

func (ic *Interpreter) doubleExtendedSuper() error {
	argCount := int(FetchBytecode(ic.Memory, ic.method, ic.ip))
	ic.ip++
	literalIndex := int(FetchBytecode(ic.Memory, ic.method, ic.ip))
	ic.ip++
	selector := Literal(ic.Memory, ic.method, literalIndex)
	return ic.sendSuper(selector, argCount)
}
