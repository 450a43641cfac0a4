package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad        Phase = "load"        // reading module bytes
	PhaseDecode      Phase = "decode"      // binary to module descriptor
	PhaseValidate    Phase = "validate"    // structural validation
	PhaseInstantiate Phase = "instantiate" // import resolution and segment init
	PhaseRegister    Phase = "register"    // static tracer registration
	PhaseExecute     Phase = "execute"     // execution-time trace append
	PhaseConfig      Phase = "config"      // configuration file
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch      Kind = "type_mismatch"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindInvalidData       Kind = "invalid_data"
	KindUnsupported       Kind = "unsupported"
	KindMissingImport     Kind = "missing_import"
	KindNotFound          Kind = "not_found"
	KindInvalidInput      Kind = "invalid_input"
	KindInstantiation     Kind = "instantiation"
	KindMissingHostDesc   Kind = "missing_host_desc"
	KindInvalidPattern    Kind = "invalid_pattern"
	KindMissingHostInput  Kind = "missing_host_input"
	KindNotRegistered     Kind = "not_registered"
	KindAlreadyRegistered Kind = "already_registered"
	KindDuplicateEntry    Kind = "duplicate_entry"
	KindFrameUnderflow    Kind = "frame_underflow"
	KindTrap              Kind = "trap"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the location path, e.g. "func[3]", "iid[7]"
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		Detail: fmt.Sprintf("expected %s, got %s", want, got),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Instantiation creates an instantiation error
func Instantiation(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInstantiation,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// Tracer constructors. Configuration errors come first, internal
// consistency errors after.

// MissingHostDesc reports a host-backed function whose slot has no descriptor.
func MissingHostDesc(slot int, name string) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindMissingHostDesc,
		Path:   []string{name},
		Detail: fmt.Sprintf("no host function descriptor for slot %d", slot),
		Value:  slot,
	}
}

// InvalidPattern reports a phantom pattern that does not compile.
func InvalidPattern(pattern string, cause error) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidPattern,
		Detail: fmt.Sprintf("phantom pattern %q", pattern),
		Value:  pattern,
		Cause:  cause,
	}
}

// MissingHostInput reports phantom functions configured without a resolved host input function.
func MissingHostInput(phantoms int) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindMissingHostInput,
		Detail: fmt.Sprintf("%d phantom function(s) need a host input function", phantoms),
		Value:  phantoms,
	}
}

// NotRegistered reports a lookup of something the tracer never registered.
func NotRegistered(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotRegistered,
		Detail: fmt.Sprintf("%s was never registered", what),
	}
}

// AlreadyRegistered reports a second registration attempt.
func AlreadyRegistered() *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindAlreadyRegistered,
		Detail: "module instance already registered",
	}
}

// DuplicateEntry reports a second row for an already populated table key.
func DuplicateEntry(table string, fid, iid uint32) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindDuplicateEntry,
		Path:   []string{table, fmt.Sprintf("fid[%d]", fid), fmt.Sprintf("iid[%d]", iid)},
		Detail: "row already present",
	}
}

// FrameUnderflow reports a frame stack access with no frame pushed.
func FrameUnderflow(op string) *Error {
	return &Error{
		Phase:  PhaseExecute,
		Kind:   KindFrameUnderflow,
		Detail: fmt.Sprintf("%s on empty frame stack", op),
	}
}

// Trap reports a guest call that ended abnormally.
func Trap(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseExecute,
		Kind:   KindTrap,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingImport represents a single unresolved import
type MissingImport struct {
	Module string // e.g., "env"
	Name   string // e.g., "wasm_input"
}

// MissingImportsError is returned when instantiation cannot resolve one or more imports
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "module#name" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		mod, name := parseImportKey(imp)
		result.Imports = append(result.Imports, MissingImport{
			Module: mod,
			Name:   name,
		})
	}
	return result
}

// ImportKey joins an import's module and field name the way NewMissingImportsError expects.
func ImportKey(module, name string) string {
	return module + "#" + name
}

func parseImportKey(key string) (module, name string) {
	mod, n, found := strings.Cut(key, "#")
	if found {
		return mod, n
	}
	return key, ""
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[instantiate] missing_import: no imports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("missing %d import(s):\n", len(e.Imports)))

	// Group by module for cleaner output
	byMod := make(map[string][]string)
	var modOrder []string
	for _, imp := range e.Imports {
		if _, exists := byMod[imp.Module]; !exists {
			modOrder = append(modOrder, imp.Module)
		}
		byMod[imp.Module] = append(byMod[imp.Module], imp.Name)
	}

	for _, mod := range modOrder {
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, name := range byMod[mod] {
			b.WriteString("    - ")
			b.WriteString(name)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	_, ok := target.(*MissingImportsError)
	return ok
}
