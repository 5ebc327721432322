package rules

import (
	"strings"
	"unicode"
)

// wordOperators are spelled-out logical operators accepted in expressions
var wordOperators = map[string]string{
	"and": "&&",
	"or":  "||",
	"not": "!",
}

// literalWords are identifiers that are never variables
var literalWords = map[string]bool{
	"true":  true,
	"false": true,
	"null":  true,
}

// Normalize rewrites an expression into the CEL dialect used by the
// evaluator and returns the free identifiers in order of first use.
//
// Integer literals become doubles so arithmetic stays in float64,
// `if(` becomes the `cond(` function, `and`/`or`/`not` become their
// symbolic operators, a single `=` becomes `==` and `a^b` becomes
// `pow(a, b)`. String literals are copied untouched.
func Normalize(expr string) (string, []string) {
	var (
		out     strings.Builder
		idents  []string
		seen    = make(map[string]bool)
		runes   = []rune(expr)
		n       = len(runes)
		lastSig rune // last non-space rune written
	)
	out.Grow(len(expr) + 16)

	write := func(s string) {
		out.WriteString(s)
		for _, r := range s {
			if !unicode.IsSpace(r) {
				lastSig = r
			}
		}
	}

	for i := 0; i < n; {
		r := runes[i]

		switch {
		case r == '"' || r == '\'':
			j := i + 1
			for j < n && runes[j] != r {
				if runes[j] == '\\' {
					j++
				}
				j++
			}
			if j < n {
				j++
			}
			if j > n {
				j = n
			}
			write(string(runes[i:j]))
			i = j

		case isIdentStart(r):
			j := i + 1
			for j < n && isIdentPart(runes[j]) {
				j++
			}
			word := string(runes[i:j])
			memberAccess := lastSig == '.'
			call := nextNonSpace(runes, j) == '('

			switch {
			case memberAccess:
				write(word)
			case word == "if" && call:
				write("cond")
			case wordOperators[word] != "":
				write(wordOperators[word])
			case call || literalWords[word]:
				write(word)
			default:
				write(word)
				if !seen[word] && !isConstant(word) {
					seen[word] = true
					idents = append(idents, word)
				}
			}
			i = j

		case unicode.IsDigit(r) || (r == '.' && i+1 < n && unicode.IsDigit(runes[i+1]) && !isOperandEnd(lastSig)):
			j, literal := scanNumber(runes, i)
			write(literal)
			i = j

		case r == '=':
			if i+1 < n && runes[i+1] == '=' {
				write("==")
				i += 2
				continue
			}
			if strings.ContainsRune("!<>=", lastSig) && i > 0 && !unicode.IsSpace(runes[i-1]) {
				write("=")
			} else {
				write("==")
			}
			i++

		default:
			write(string(r))
			i++
		}
	}

	return rewritePower(strings.TrimSpace(out.String())), idents
}

// rewritePower turns every `lhs ^ rhs` into `pow(lhs, rhs)`. The rightmost
// operator is rewritten first so chains associate to the right. Operands
// are a number, a name, a call or a bracketed group; the right operand may
// carry a sign. An operator without operands is left for the parser.
func rewritePower(expr string) string {
	runes := []rune(expr)
	for {
		op := lastPowerOperator(runes)
		if op < 0 {
			return string(runes)
		}

		start := operandStart(runes, op)
		end := operandEnd(runes, op+1)
		if start < 0 || end < 0 {
			return string(runes)
		}

		lhs := strings.TrimSpace(string(runes[start:op]))
		rhs := strings.TrimSpace(string(runes[op+1 : end]))
		rewritten := "pow(" + lhs + ", " + rhs + ")"

		next := make([]rune, 0, len(runes)+8)
		next = append(next, runes[:start]...)
		next = append(next, []rune(rewritten)...)
		next = append(next, runes[end:]...)
		runes = next
	}
}

func lastPowerOperator(runes []rune) int {
	last := -1
	var quote rune
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == '\\' {
				i++
			} else if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '^':
			last = i
		}
	}
	return last
}

// operandStart returns where the operand ending just before op begins, or -1
func operandStart(runes []rune, op int) int {
	i := op - 1
	for i >= 0 && unicode.IsSpace(runes[i]) {
		i--
	}
	if i < 0 {
		return -1
	}

	if runes[i] == ')' || runes[i] == ']' {
		depth := 0
		for ; i >= 0; i-- {
			switch runes[i] {
			case ')', ']':
				depth++
			case '(', '[':
				depth--
			}
			if depth == 0 {
				break
			}
		}
		if i < 0 {
			return -1
		}
		// name of a call
		for i > 0 && (isIdentPart(runes[i-1]) || runes[i-1] == '.') {
			i--
		}
		return i
	}

	if !isIdentPart(runes[i]) && runes[i] != '.' {
		return -1
	}
	for i > 0 && (isIdentPart(runes[i-1]) || runes[i-1] == '.') {
		i--
	}
	// signed exponent of a literal such as 1e-3
	if i >= 3 && (runes[i-1] == '-' || runes[i-1] == '+') && (runes[i-2] == 'e' || runes[i-2] == 'E') && unicode.IsDigit(runes[i-3]) {
		j := i - 2
		for j > 0 && (isIdentPart(runes[j-1]) || runes[j-1] == '.') {
			j--
		}
		if unicode.IsDigit(runes[j]) || runes[j] == '.' {
			i = j
		}
	}
	return i
}

// operandEnd returns the index just after the operand starting at i, or -1
func operandEnd(runes []rune, i int) int {
	n := len(runes)
	skipSpace := func() {
		for i < n && unicode.IsSpace(runes[i]) {
			i++
		}
	}

	skipSpace()
	if i < n && (runes[i] == '-' || runes[i] == '+') {
		i++
		skipSpace()
	}
	if i >= n {
		return -1
	}

	if runes[i] != '(' {
		begin := i
		for i < n && (isIdentPart(runes[i]) || runes[i] == '.') {
			i++
			if unicode.IsDigit(runes[begin]) && i+1 < n && (runes[i-1] == 'e' || runes[i-1] == 'E') && (runes[i] == '-' || runes[i] == '+') {
				i++
			}
		}
		if i == begin {
			return -1
		}
		if nextNonSpace(runes, i) != '(' {
			return i
		}
		skipSpace()
	}

	depth := 0
	for ; i < n; i++ {
		switch runes[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		}
		if depth == 0 {
			return i + 1
		}
	}
	return -1
}

// scanNumber reads a numeric literal starting at i and returns the index
// after it together with its double spelling
func scanNumber(runes []rune, i int) (int, string) {
	n := len(runes)
	j := i

	// hex and unsigned literals are left to the CEL parser
	if runes[j] == '0' && j+1 < n && (runes[j+1] == 'x' || runes[j+1] == 'X') {
		j += 2
		for j < n && isIdentPart(runes[j]) {
			j++
		}
		return j, string(runes[i:j])
	}

	for j < n && unicode.IsDigit(runes[j]) {
		j++
	}
	isFloat := false
	if j < n && runes[j] == '.' {
		isFloat = true
		j++
		for j < n && unicode.IsDigit(runes[j]) {
			j++
		}
	}
	if j < n && (runes[j] == 'e' || runes[j] == 'E') {
		k := j + 1
		if k < n && (runes[k] == '+' || runes[k] == '-') {
			k++
		}
		if k < n && unicode.IsDigit(runes[k]) {
			isFloat = true
			j = k
			for j < n && unicode.IsDigit(runes[j]) {
				j++
			}
		}
	}
	if j < n && (runes[j] == 'u' || runes[j] == 'U') {
		return j + 1, string(runes[i : j+1])
	}

	literal := string(runes[i:j])
	switch {
	case strings.HasPrefix(literal, "."):
		literal = "0" + literal
	case strings.HasSuffix(literal, "."):
		literal += "0"
	case !isFloat:
		literal += ".0"
	}
	return j, literal
}

func nextNonSpace(runes []rune, i int) rune {
	for ; i < len(runes); i++ {
		if !unicode.IsSpace(runes[i]) {
			return runes[i]
		}
	}
	return 0
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}

func isOperandEnd(r rune) bool {
	return isIdentPart(r) || r == ')' || r == ']'
}
