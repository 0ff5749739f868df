package rewrite

import (
	"github.com/VirtusLab/lazyvalgrade/classfile"
	"github.com/VirtusLab/lazyvalgrade/extract"
)

const (
	methodHandles       = "java/lang/invoke/MethodHandles"
	methodHandlesLookup = "java/lang/invoke/MethodHandles$Lookup"
	varHandleClass      = "java/lang/invoke/VarHandle"
	objectClass         = "java/lang/Object"
)

// scalaRuntimeClass joins fragments into a scala.runtime.* internal class
// name at this tool's own runtime rather than as a single source literal,
// so a build pipeline that shades lazyvalgrade's own package prefixes
// cannot mistake the *target* runtime's class name for its own and mangle
// it (spec §4.5 "identifier obfuscation obligation").
func scalaRuntimeClass(parts ...string) string {
	name := "scala" + "/" + "runtime"
	for _, p := range parts {
		name += "/" + p
	}
	return name
}

// The LazyVals sentinel objects a synthesized lzyINIT coordinates through:
// Evaluating marks "some thread is running the initializer right now",
// Waiting is a CountDownLatch contenders install and block on, and
// NullValue stands in for a reference-typed initializer that legitimately
// computed null, so a stored null always means "uninitialized" and nothing
// else (spec §4.5).
var (
	lazyValsEvaluatingOwner = scalaRuntimeClass("LazyVals$Evaluating$")
	lazyValsEvaluatingDesc  = "L" + lazyValsEvaluatingOwner + ";"
	lazyValsWaitingClass    = scalaRuntimeClass("LazyVals$Waiting")
	lazyValsNullValueOwner  = scalaRuntimeClass("LazyVals$NullValue$")
	lazyValsNullValueDesc   = "L" + lazyValsNullValueOwner + ";"
)

// varHandleFieldName derives the synthetic static field name that holds the
// VarHandle for a given storage field: "<field>$VH". The Scala 3.8 compiler
// itself uses the "$lzyHandle" suffix instead; detect recognizes both.
func varHandleFieldName(storageField string) string { return storageField + "$VH" }

// ensureVarHandleField adds the static final VarHandle field backing
// storageField to owner, if not already present, and returns its name.
func ensureVarHandleField(owner *classfile.Class, storageField string) string {
	name := varHandleFieldName(storageField)
	if owner.FindField(name, "L"+varHandleClass+";") == nil {
		owner.Fields = append(owner.Fields, &classfile.Field{
			AccessFlags: classfile.AccPrivate | classfile.AccStatic | classfile.AccFinal,
			Name:        name,
			Descriptor:  "L" + varHandleClass + ";",
		})
	}
	return name
}

// appendHandleLookup appends the bytecode that resolves storageField's
// VarHandle via MethodHandles.lookup().findVarHandle(...) and stores it
// into handleField, a static field on owner. Callers splice this into
// owner's <clinit> ahead of the final RETURN.
func appendHandleLookup(list *classfile.InstructionList, owner, storageField, handleField string) {
	list.Append(
		classfile.MethodInsn(classfile.INVOKESTATIC, methodHandles, "lookup",
			"()L"+methodHandlesLookup+";", false),
		classfile.Ldc(classfile.ClassConst{Name: owner}),
		classfile.Ldc(storageField),
		classfile.Ldc(classfile.ClassConst{Name: objectClass}),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, methodHandlesLookup, "findVarHandle",
			"(Ljava/lang/Class;Ljava/lang/String;Ljava/lang/Class;)L"+varHandleClass+";", false),
		classfile.Field(classfile.PUTSTATIC, owner, handleField, "L"+varHandleClass+";"),
	)
}

// appendSentinelForNull replaces a possibly-null reference on top of the
// stack with the LazyVals NullValue sentinel when it is null, leaving any
// non-null value untouched. Used before publishing a reference-typed
// initializer's result, so a legitimately-null computation can never be
// confused with the storage field's own uninitialized (null) state.
func appendSentinelForNull(list *classfile.InstructionList) {
	notNull := &classfile.Label{}
	done := &classfile.Label{}
	list.Append(
		classfile.Simple(classfile.DUP),
		classfile.Jump(classfile.IFNONNULL, notNull),
		classfile.Simple(classfile.POP),
		classfile.Field(classfile.GETSTATIC, lazyValsNullValueOwner, "MODULE$", lazyValsNullValueDesc),
		classfile.Jump(classfile.GOTO, done),
		classfile.LabelInsn(notNull),
		classfile.LabelInsn(done),
	)
}

// appendNullSentinelNormalize replaces the LazyVals NullValue sentinel on
// top of the stack with an actual null, leaving any other reference
// untouched. Used on the accessor's read side before returning a
// reference-typed value, undoing appendSentinelForNull's substitution.
func appendNullSentinelNormalize(list *classfile.InstructionList) {
	isNull := &classfile.Label{}
	keep := &classfile.Label{}
	list.Append(
		classfile.Simple(classfile.DUP),
		classfile.Field(classfile.GETSTATIC, lazyValsNullValueOwner, "MODULE$", lazyValsNullValueDesc),
		classfile.Jump(classfile.IF_ACMPEQ, isNull),
		classfile.Jump(classfile.GOTO, keep),
		classfile.LabelInsn(isNull),
		classfile.Simple(classfile.POP),
		classfile.Simple(classfile.ACONST_NULL),
		classfile.LabelInsn(keep),
	)
}

// buildLzyInit synthesizes the out-of-line initializer method for a
// VarHandle-backed lazy val, reproducing the Evaluating/Waiting/NullValue
// coordination protocol the 3.3-3.7 LazyVals facade implements, but
// mediated through the storage field's own VarHandle CAS rather than
// LazyVals.objCAS over an Unsafe OFFSET (spec §4.5 "keep HOW, replace
// WHAT"):
//
//	private final Object name$lzyINIT1() {
//	  while (true) {
//	    Object cur = HANDLE.getAcquire(this);
//	    if (cur == null) {
//	      if (!HANDLE.compareAndSet(this, null, Evaluating)) continue;
//	      try {
//	        Object v = box(<initializer>);        // or NullValue, if v was null
//	        Object prev = HANDLE.getAndSet(this, v);
//	        if (prev instanceof Waiting w) w.countDown();
//	        return v;
//	      } catch (Throwable t) {
//	        Object prev = HANDLE.getAndSet(this, null);
//	        if (prev instanceof Waiting w) w.countDown();
//	        throw t;
//	      }
//	    } else if (cur == Evaluating) {
//	      Waiting w = new Waiting();
//	      if (HANDLE.compareAndSet(this, Evaluating, w)) w.await();
//	      continue;
//	    } else if (cur instanceof Waiting w) {
//	      w.await();
//	      continue;
//	    } else {
//	      return cur;
//	    }
//	  }
//	}
//
// Only the thread that wins the null -> Evaluating CAS ever runs the
// extracted initializer; every other contender either retries before
// observing a settled state or blocks on a Waiting latch, so a racing
// group of callers runs the computation exactly once.
func buildLzyInit(owner string, accessorDesc string, handleField string, init *extract.Initializer) *classfile.Code {
	retDesc := descOfReturn(accessorDesc)

	list := classfile.NewInstructionList()
	loop := &classfile.Label{}
	observedEvaluating := &classfile.Label{}
	tryClaim := &classfile.Label{}
	tryStart := &classfile.Label{}
	tryEnd := &classfile.Label{}
	finishNormal := &classfile.Label{}
	handler := &classfile.Label{}
	rethrow := &classfile.Label{}
	haveValue := &classfile.Label{}

	list.Append(classfile.LabelInsn(loop))
	list.Append(
		classfile.Field(classfile.GETSTATIC, owner, handleField, "L"+varHandleClass+";"),
		classfile.Var(classfile.ALOAD, 0),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, varHandleClass, "getAcquire",
			"(Ljava/lang/Object;)Ljava/lang/Object;", false),
		classfile.Var(classfile.ASTORE, 1),
		classfile.Var(classfile.ALOAD, 1),
		classfile.Jump(classfile.IFNULL, tryClaim),
	)

	// cur != null: distinguish Evaluating, a Waiting instance, or a real
	// published value.
	list.Append(
		classfile.Var(classfile.ALOAD, 1),
		classfile.Field(classfile.GETSTATIC, lazyValsEvaluatingOwner, "MODULE$", lazyValsEvaluatingDesc),
		classfile.Jump(classfile.IF_ACMPEQ, observedEvaluating),
		classfile.Var(classfile.ALOAD, 1),
		classfile.TypeInsn(classfile.INSTANCEOF, lazyValsWaitingClass),
		classfile.Jump(classfile.IFEQ, haveValue),
		classfile.Var(classfile.ALOAD, 1),
		classfile.TypeInsn(classfile.CHECKCAST, lazyValsWaitingClass),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, lazyValsWaitingClass, "await", "()V", false),
		classfile.Jump(classfile.GOTO, loop),
	)

	// Another thread is already running the initializer: install our own
	// Waiting latch and block on it instead of busy-spinning.
	list.Append(classfile.LabelInsn(observedEvaluating))
	list.Append(
		classfile.TypeInsn(classfile.NEW, lazyValsWaitingClass),
		classfile.Simple(classfile.DUP),
		classfile.MethodInsn(classfile.INVOKESPECIAL, lazyValsWaitingClass, "<init>", "()V", false),
		classfile.Var(classfile.ASTORE, 3),
		classfile.Field(classfile.GETSTATIC, owner, handleField, "L"+varHandleClass+";"),
		classfile.Var(classfile.ALOAD, 0),
		classfile.Field(classfile.GETSTATIC, lazyValsEvaluatingOwner, "MODULE$", lazyValsEvaluatingDesc),
		classfile.Var(classfile.ALOAD, 3),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, varHandleClass, "compareAndSet",
			"(Ljava/lang/Object;Ljava/lang/Object;Ljava/lang/Object;)Z", false),
		classfile.Jump(classfile.IFEQ, loop),
		classfile.Var(classfile.ALOAD, 3),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, lazyValsWaitingClass, "await", "()V", false),
		classfile.Jump(classfile.GOTO, loop),
	)

	// cur == null: try to claim the right to run the initializer.
	list.Append(classfile.LabelInsn(tryClaim))
	list.Append(
		classfile.Field(classfile.GETSTATIC, owner, handleField, "L"+varHandleClass+";"),
		classfile.Var(classfile.ALOAD, 0),
		classfile.Simple(classfile.ACONST_NULL),
		classfile.Field(classfile.GETSTATIC, lazyValsEvaluatingOwner, "MODULE$", lazyValsEvaluatingDesc),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, varHandleClass, "compareAndSet",
			"(Ljava/lang/Object;Ljava/lang/Object;Ljava/lang/Object;)Z", false),
		classfile.Jump(classfile.IFEQ, loop),
	)

	list.Append(classfile.LabelInsn(tryStart))
	if init.AlwaysThrows {
		// The extracted initializer never completes normally; run it under
		// the same restore-and-rethrow handler and stop, there is no value
		// to publish or latch to release on the success path.
		appendInitializer(list, init)
		list.Append(classfile.LabelInsn(tryEnd))
	} else {
		appendInitializer(list, init)
		appendBox(list, retDesc)
		if !isPrimitiveDescriptor(retDesc) {
			appendSentinelForNull(list)
		}
		list.Append(classfile.Var(classfile.ASTORE, 5))
		list.Append(
			classfile.Field(classfile.GETSTATIC, owner, handleField, "L"+varHandleClass+";"),
			classfile.Var(classfile.ALOAD, 0),
			classfile.Var(classfile.ALOAD, 5),
			classfile.MethodInsn(classfile.INVOKEVIRTUAL, varHandleClass, "getAndSet",
				"(Ljava/lang/Object;Ljava/lang/Object;)Ljava/lang/Object;", false),
			classfile.Var(classfile.ASTORE, 3),
		)
		list.Append(classfile.LabelInsn(tryEnd))
		list.Append(
			classfile.Var(classfile.ALOAD, 3),
			classfile.TypeInsn(classfile.INSTANCEOF, lazyValsWaitingClass),
			classfile.Jump(classfile.IFEQ, finishNormal),
			classfile.Var(classfile.ALOAD, 3),
			classfile.TypeInsn(classfile.CHECKCAST, lazyValsWaitingClass),
			classfile.MethodInsn(classfile.INVOKEVIRTUAL, lazyValsWaitingClass, "countDown", "()V", false),
		)
		list.Append(classfile.LabelInsn(finishNormal))
		list.Append(
			classfile.Var(classfile.ALOAD, 5),
			classfile.Simple(classfile.ARETURN),
		)
	}

	// Any exception from the initializer restores the uninitialized state
	// and releases any contender blocked on a Waiting latch before
	// rethrowing, rather than leaving the storage field stuck at Evaluating
	// forever (spec §4.5, §8 scenario covering a throwing initializer).
	list.Append(classfile.LabelInsn(handler))
	list.Append(
		classfile.Var(classfile.ASTORE, 2),
		classfile.Field(classfile.GETSTATIC, owner, handleField, "L"+varHandleClass+";"),
		classfile.Var(classfile.ALOAD, 0),
		classfile.Simple(classfile.ACONST_NULL),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, varHandleClass, "getAndSet",
			"(Ljava/lang/Object;Ljava/lang/Object;)Ljava/lang/Object;", false),
		classfile.Var(classfile.ASTORE, 3),
		classfile.Var(classfile.ALOAD, 3),
		classfile.TypeInsn(classfile.INSTANCEOF, lazyValsWaitingClass),
		classfile.Jump(classfile.IFEQ, rethrow),
		classfile.Var(classfile.ALOAD, 3),
		classfile.TypeInsn(classfile.CHECKCAST, lazyValsWaitingClass),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, lazyValsWaitingClass, "countDown", "()V", false),
	)
	list.Append(classfile.LabelInsn(rethrow))
	list.Append(
		classfile.Var(classfile.ALOAD, 2),
		classfile.Simple(classfile.ATHROW),
	)

	// cur was a real, already-published value: return it directly.
	list.Append(classfile.LabelInsn(haveValue))
	list.Append(
		classfile.Var(classfile.ALOAD, 1),
		classfile.Simple(classfile.ARETURN),
	)

	code := finishCode(list)
	code.TryCatches = []*classfile.TryCatch{
		{Start: tryStart, End: tryEnd, Handler: handler, CatchType: ""},
	}
	return code
}

func appendInitializer(list *classfile.InstructionList, init *extract.Initializer) {
	for i := 0; i < init.Body.Len(); i++ {
		list.Append(init.Body.At(i))
	}
}

// buildAccessor synthesizes the public accessor body that reads the
// VarHandle directly on the fast path and falls through to lzyInitMethod
// only when no value has been published yet, normalizing the NullValue
// sentinel back to an actual null for reference-typed lazy vals before
// unboxing:
//
//	def name(): T = {
//	  Object v = HANDLE.getAcquire(this);
//	  if (v == null) v = this.name$lzyINIT1();
//	  return unbox(normalize(v));
//	}
func buildAccessor(owner, accessorDesc, handleField, lzyInitMethod string) *classfile.Code {
	retDesc := descOfReturn(accessorDesc)
	list := classfile.NewInstructionList()
	haveValue := &classfile.Label{}

	list.Append(
		classfile.Field(classfile.GETSTATIC, owner, handleField, "L"+varHandleClass+";"),
		classfile.Var(classfile.ALOAD, 0),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, varHandleClass, "getAcquire",
			"(Ljava/lang/Object;)Ljava/lang/Object;", false),
		classfile.Var(classfile.ASTORE, 1),
		classfile.Var(classfile.ALOAD, 1),
		classfile.Jump(classfile.IFNONNULL, haveValue),
		classfile.Var(classfile.ALOAD, 0),
		classfile.MethodInsn(classfile.INVOKESPECIAL, owner, lzyInitMethod, "()Ljava/lang/Object;", false),
		classfile.Var(classfile.ASTORE, 1),
	)
	list.Append(classfile.LabelInsn(haveValue))
	list.Append(classfile.Var(classfile.ALOAD, 1))
	if !isPrimitiveDescriptor(retDesc) {
		appendNullSentinelNormalize(list)
	}
	appendUnbox(list, retDesc)
	list.Append(classfile.Simple(returnOpFor(accessorDesc)))

	return finishCode(list)
}

// conservativeMaxStack and conservativeMaxLocals bound every scaffold this
// package emits. Computing the tight values JVMS 4.10 would accept requires
// the same kind of abstract interpretation stackmap.go does; since
// the writer recomputes StackMapTable from scratch regardless, scaffolds
// just declare a bound comfortably above anything this package ever emits
// rather than re-deriving the exact figure a second time.
const (
	conservativeMaxStack  = 8
	conservativeMaxLocals = 8
)

func finishCode(list *classfile.InstructionList) *classfile.Code {
	return &classfile.Code{
		MaxStack:     conservativeMaxStack,
		MaxLocals:    conservativeMaxLocals,
		Instructions: list,
	}
}
