// Package match implements the subscription pattern language (spec §6
// "Subscription pattern language"): a glob-like grammar restricted enough
// to run in linear time with a small constant bound on stack depth.
//
//	x        any byte other than a metachar matches itself. Metachars: ( | ) * ? \
//	?        matches exactly one UTF-8 code point.
//	*x       matches the shortest span up to (and not including) the next
//	         occurrence of code point x; at the end of the pattern, or before | or ),
//	         it greedily matches the rest of the input. *? is equivalent to
//	         ?. ** and *( are invalid.
//	(a|b|c)  alternation: the first matching branch wins. Branches can
//	         nest up to 4 deep.
//	\x       escapes x, permitting a metachar to match itself literally.
package match

import (
	"errors"
	"unicode/utf8"
)

const maxParen = 4

// frame tracks one open '(' ... ')' group.
type frame struct {
	start   string // input position when '(' was entered, for '|' restart
	failed  bool   // current branch has mismatched since the last '(' or '|'
	success string // input position at which a branch first fully matched
	hasSucc bool
}

// Match reports whether str matches pattern in its entirety. An invalid
// pattern never matches anything.
func Match(pattern, str string) bool {
	ok, err := run(pattern, str, false)
	return err == nil && ok
}

// Valid reports whether pattern is well-formed (balanced parens, no
// dangling escapes, no "**" or "*(").
func Valid(pattern string) bool {
	_, err := run(pattern, "", true)
	return err == nil
}

var errInvalid = errors.New("match: invalid pattern")

// run is the shared engine behind Match and Valid. When checkOnly is true,
// str is never consulted and the function only validates the grammar.
func run(pattern, str string, checkOnly bool) (bool, error) {
	var stack [maxParen]frame
	depth := -1 // -1 means "no open paren"

	p := pattern

	for len(p) > 0 {
		c := p[0]
		p = p[1:]

		switch c {
		case '*':
			if len(p) == 0 || p[0] == '|' || p[0] == ')' {
				if !checkOnly {
					str = ""
				}
				continue
			}
			if p[0] == '*' || p[0] == '(' {
				return false, errInvalid
			}
			if p[0] == '?' {
				// "*?" is equivalent to "?": leave it for the next
				// iteration to process as a plain anychar token.
				continue
			}

			searchFrom := p
			if p[0] == '\\' {
				if len(p) < 2 {
					return false, errInvalid // trailing backslash
				}
				searchFrom = p[1:]
			}
			target, _ := utf8.DecodeRuneInString(searchFrom)

			if !checkOnly {
				for len(str) > 0 {
					r, size := utf8.DecodeRuneInString(str)
					if r == target {
						break
					}
					str = str[size:]
				}
			}
			continue

		case '(':
			depth++
			if depth >= maxParen {
				return false, errInvalid
			}
			stack[depth] = frame{start: str}
			continue

		case '|':
			if depth < 0 {
				return false, errInvalid
			}
			f := &stack[depth]
			if !f.failed && !f.hasSucc {
				f.success, f.hasSucc = str, true
			}
			if !checkOnly {
				str = f.start
			}
			f.failed = false
			continue

		case ')':
			if depth < 0 {
				return false, errInvalid
			}
			f := &stack[depth]
			if !f.failed && !f.hasSucc {
				f.success, f.hasSucc = str, true
			}
			if depth == 0 {
				if !checkOnly {
					if !f.hasSucc {
						return false, nil // mismatch at outer ')'
					}
					str = f.success
				}
				depth = -1
			} else {
				if f.hasSucc {
					if !checkOnly {
						str = f.success
					}
				} else {
					stack[depth-1].failed = true
				}
				depth--
			}
			continue
		}

		// Plain literal, escape, or '?' anychar.
		literal := c
		any := c == '?'
		if c == '\\' {
			if len(p) == 0 {
				return false, errInvalid // trailing backslash
			}
			literal = p[0]
			p = p[1:]
			any = false
		}

		if checkOnly {
			continue
		}

		var matched bool
		if any {
			matched = len(str) > 0
		} else {
			matched = len(str) > 0 && str[0] == literal
		}

		if matched {
			if any {
				_, size := utf8.DecodeRuneInString(str)
				str = str[size:]
			} else {
				str = str[1:]
			}
		} else if depth >= 0 {
			stack[depth].failed = true
		} else {
			return false, nil // mismatch outside any paren
		}
	}

	if depth >= 0 {
		return false, errInvalid // unclosed '('
	}
	if checkOnly {
		return true, nil
	}
	return len(str) == 0, nil
}
