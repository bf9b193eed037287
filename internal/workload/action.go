package workload

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Op is a workload action verb.
type Op string

const (
	OpCompute  Op = "compute"
	OpSleep    Op = "sleep"
	OpAcquire  Op = "acquire"
	OpRelease  Op = "release"
	OpYield    Op = "yield"
	OpPriority Op = "priority"
	OpNice     Op = "nice"
	OpDown     Op = "down"
	OpUp       Op = "up"
	OpLog      Op = "log"
)

// argKind says what an op's argument is.
type argKind int

const (
	argNone argKind = iota
	argInt
	argName
	argText
)

var opArgs = map[Op]argKind{
	OpCompute:  argInt,
	OpSleep:    argInt,
	OpAcquire:  argName,
	OpRelease:  argName,
	OpYield:    argNone,
	OpPriority: argInt,
	OpNice:     argInt,
	OpDown:     argName,
	OpUp:       argName,
	OpLog:      argText,
}

// Action is one step of a thread body, written in YAML as "op [arg]",
// e.g. "compute 10" or "acquire a".
type Action struct {
	Op  Op
	N   int64  // compute, sleep, priority, nice
	Arg string // lock or semaphore name, log text
}

// ParseAction parses "op [arg]".
func ParseAction(s string) (Action, error) {
	verb, rest, _ := strings.Cut(strings.TrimSpace(s), " ")
	rest = strings.TrimSpace(rest)
	op := Op(strings.ToLower(verb))

	kind, ok := opArgs[op]
	if !ok {
		return Action{}, fmt.Errorf("unknown action %q", verb)
	}
	a := Action{Op: op}
	switch kind {
	case argNone:
		if rest != "" {
			return Action{}, fmt.Errorf("%s takes no argument", op)
		}
	case argInt:
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return Action{}, fmt.Errorf("%s: want an integer, got %q", op, rest)
		}
		a.N = n
	case argName:
		if rest == "" || strings.ContainsAny(rest, " \t") {
			return Action{}, fmt.Errorf("%s: want one name, got %q", op, rest)
		}
		a.Arg = rest
	case argText:
		a.Arg = rest
	}
	return a, nil
}

func (a Action) String() string {
	switch opArgs[a.Op] {
	case argInt:
		return fmt.Sprintf("%s %d", a.Op, a.N)
	case argName, argText:
		if a.Arg == "" {
			return string(a.Op)
		}
		return string(a.Op) + " " + a.Arg
	}
	return string(a.Op)
}

// UnmarshalYAML decodes the scalar form.
func (a *Action) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: action must be a string", value.Line)
	}
	parsed, err := ParseAction(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*a = parsed
	return nil
}

// MarshalYAML encodes the scalar form.
func (a Action) MarshalYAML() (any, error) {
	return a.String(), nil
}
