package testutil

import "strings"

// SplitArgs turns a command line into an argv slice for command tests.
// Single- and double-quoted words keep their spaces; everything else
// splits on spaces. Escape sequences are not interpreted, which is all
// the flag-parsing tests here need.
func SplitArgs(input string) []string {
	var args []string
	var word strings.Builder
	var quote byte

	flush := func() {
		if word.Len() > 0 {
			args = append(args, word.String())
			word.Reset()
		}
	}

	for i := 0; i < len(input); i++ {
		c := input[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				word.WriteByte(c)
			}
		case c == '"' || c == '\'':
			quote = c
		case c == ' ':
			flush()
		default:
			word.WriteByte(c)
		}
	}
	flush()
	return args
}
