package codestep

import (
	"fmt"
	"strings"
)

// blockedTokens is a conservative denylist of substrings that must never
// appear in a code step's source, checked before the statement is even
// parsed. This is defense in depth: the walker below only ever executes
// allowlisted calls, but rejecting these tokens up front gives a cheap,
// readable first failure message instead of a parse or walk error.
var blockedTokens = []string{
	"go ", "go\t", "go(",
	"chan ", "chan(",
	"select ", "select{",
	"unsafe.",
	"import ", "import(",
	"func ", "func(",
	"interface ", "interface{",
	"struct ", "struct{",
	"defer ",
	"goto ",
	"package ",
	"os.", "exec.", "syscall.", "reflect.", "plugin.", "net.",
	"range ",
}

// blockedTokenError is returned when a statement contains a denylisted
// substring.
type blockedTokenError struct {
	token string
}

func (e *blockedTokenError) Error() string {
	return fmt.Sprintf("codestep: statement contains blocked token %q", e.token)
}

func checkBlockedTokens(statement string) error {
	for _, tok := range blockedTokens {
		if strings.Contains(statement, tok) {
			return &blockedTokenError{token: strings.TrimSpace(tok)}
		}
	}
	return nil
}
