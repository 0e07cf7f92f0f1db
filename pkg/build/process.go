// SPDX-License-Identifier: MPL-2.0

package build

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrUnterminatedReference is returned when a %{ has no closing brace.
var ErrUnterminatedReference = errors.New("unterminated variable reference")

// unresolvedValue is substituted for unknown variables.
const unresolvedValue = "None"

// Vars resolves variable names.
type Vars interface {
	Var(name string) (string, bool)
}

// Process replaces every %{name} in src with the value of name. Unknown names
// are reported through unresolved and render as "None".
func Process(src []byte, vars Vars, unresolved func(name string)) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(len(src))

	for {
		start := bytes.Index(src, []byte("%{"))
		if start < 0 {
			out.Write(src)
			return out.Bytes(), nil
		}
		out.Write(src[:start])
		src = src[start+2:]

		end := bytes.IndexByte(src, '}')
		if end < 0 {
			preview := src
			if len(preview) > 10 {
				preview = preview[:10]
			}
			return nil, fmt.Errorf("%w: '%%{%s ...'", ErrUnterminatedReference, preview)
		}

		name := string(src[:end])
		value, ok := vars.Var(name)
		if !ok {
			if unresolved != nil {
				unresolved(name)
			}
			value = unresolvedValue
		}
		out.WriteString(value)
		src = src[end+1:]
	}
}
