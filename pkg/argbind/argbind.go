// Package argbind models the ordered parameter-name→argument-value mapping
// of a call. Jobs that want a resource id derived from their arguments build
// an Args value explicitly at the call site; selectors pick one argument by
// name or position.
package argbind

import (
	"errors"
	"fmt"
)

// Arg is one bound argument: the declared parameter name and the value it
// was called with.
type Arg struct {
	Name  string
	Value any
}

// A is shorthand for constructing a single bound argument.
func A(name string, value any) Arg { return Arg{Name: name, Value: value} }

// Args is the ordered bound-argument list of a single call. Order matters:
// positional selectors index into it.
type Args []Arg

// Bind builds an Args value. It exists for call-site readability:
//
//	argbind.Bind(argbind.A("guild_id", gid), argbind.A("user_id", uid))
func Bind(args ...Arg) Args { return Args(args) }

var (
	// ErrNoSuchArg reports a name selector that matches no bound argument.
	ErrNoSuchArg = errors.New("argument doesn't exist")
	// ErrPosOutOfBounds reports a positional selector past the end of the list.
	ErrPosOutOfBounds = errors.New("argument position is out of bounds")
)

// ByName returns the value bound to the given parameter name.
func (a Args) ByName(name string) (any, error) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, nil
		}
	}
	return nil, fmt.Errorf("argument %q: %w", name, ErrNoSuchArg)
}

// ByPos returns the value at the given position.
func (a Args) ByPos(pos int) (any, error) {
	if pos < 0 || pos >= len(a) {
		return nil, fmt.Errorf("argument position %d: %w", pos, ErrPosOutOfBounds)
	}
	return a[pos].Value, nil
}

// Selector picks one argument out of an Args list.
type Selector interface {
	Pick(args Args) (any, error)
	String() string
}

type nameSelector string

func (s nameSelector) Pick(args Args) (any, error) { return args.ByName(string(s)) }
func (s nameSelector) String() string              { return string(s) }

type posSelector int

func (s posSelector) Pick(args Args) (any, error) { return args.ByPos(int(s)) }
func (s posSelector) String() string              { return fmt.Sprintf("#%d", int(s)) }

// Name selects an argument by parameter name.
func Name(name string) Selector { return nameSelector(name) }

// Pos selects an argument by position.
func Pos(pos int) Selector { return posSelector(pos) }
