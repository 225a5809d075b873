package compiler

// Delimiters holds the byte-string tokens the scanner looks for. All
// defaults match spec.md §6.
type Delimiters struct {
	Escape byte

	Start string
	End   string

	BodyEnd string

	VoidStart string

	CommentStart string
	CommentEnd   string

	ConditionalStart     string
	ElseStart            string
	ElseConditionalStart string

	LoopStart     string
	LoopSeparator string
	LoopReverse   string

	ComponentStart     string
	ComponentSeparator string
	ComponentSelf      string
}

// DefaultDelimiters returns the spec.md §6 default delimiter set.
func DefaultDelimiters() Delimiters {
	return Delimiters{
		Escape: '\\',

		Start: "[|",
		End:   "|]",

		BodyEnd: "end",

		VoidStart: "#",

		CommentStart: "//",
		CommentEnd:   "//|]",

		ConditionalStart:     "?",
		ElseStart:            ":",
		ElseConditionalStart: ":?",

		LoopStart:     "@",
		LoopSeparator: ":",
		LoopReverse:   "~",

		ComponentStart:     "%",
		ComponentSeparator: ":",
		ComponentSelf:      "/",
	}
}

// FilterKind identifies which emission a compileHook call is filtering.
type FilterKind int

const (
	FilterPlaintext FilterKind = iota
	FilterTemplate
	FilterVoidTemplate
	FilterConditional
	FilterLoopIterable
	FilterComponentContext
	FilterComment
)

// CompileHook, if set, is invoked with every emitted plaintext run or
// expression snippet before it is written to the OSH stream; it may
// return a replacement or nil to keep the input unchanged.
type CompileHook func(kind FilterKind, data []byte, origin string) ([]byte, error)

// Options configures a single compilation. Zero-value non-bool fields are
// meaningless; use NewOptions for the spec.md §6 defaults.
type Options struct {
	Templates Delimiters

	IgnoreBlankPlaintext bool
	WorkingDir           string

	CompileHook CompileHook
}

// NewOptions returns the default Options (spec.md §6 table).
func NewOptions() Options {
	return Options{
		Templates:            DefaultDelimiters(),
		IgnoreBlankPlaintext: false,
		WorkingDir:           ".",
	}
}
