package cli

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// CommandKind identifies which interactive command a Lexer line named.
type CommandKind int

const (
	CmdUnknown CommandKind = iota
	CmdJoin
	CmdLeave
	CmdFind
	CmdConnect
	CmdDisconnect
	CmdMessage
	CmdMessageRaw
	CmdExit
	CmdVerbose
	CmdList
	CmdStatus
	CmdHelp
	CmdRickroll
)

// Line is one parsed interactive command.
type Line struct {
	Kind CommandKind
	// Arg holds the target name for find/connect, the text for
	// message/mraw, or the verbosity level for verbose.
	Arg string
	// Raw is the original, untrimmed input line, kept for diagnostics.
	Raw string
}

var commandWords = map[string]CommandKind{
	"join":       CmdJoin,
	"leave":      CmdLeave,
	"find":       CmdFind,
	"connect":    CmdConnect,
	"disconnect": CmdDisconnect,
	"message":    CmdMessage,
	"m":          CmdMessage,
	"mraw":       CmdMessageRaw,
	"exit":       CmdExit,
	"quit":       CmdExit,
	"verbose":    CmdVerbose,
	"list":       CmdList,
	"status":     CmdStatus,
	"help":       CmdHelp,
	"rickroll":   CmdRickroll,
}

// Lexer reads interactive command lines from an io.Reader (stdin in
// production), lower-casing and dispatching the first word.
type Lexer struct {
	scanner *bufio.Scanner
}

// NewLexer wraps r for line-at-a-time command reading.
func NewLexer(r io.Reader) *Lexer {
	return &Lexer{scanner: bufio.NewScanner(r)}
}

// Next reads and parses the next command line. It returns false once
// the input is exhausted (EOF behaves like an `exit` command from the
// caller's point of view, but Next itself just stops).
func (l *Lexer) Next() (Line, bool) {
	if !l.scanner.Scan() {
		return Line{}, false
	}
	raw := l.scanner.Text()
	return parseLine(raw), true
}

// parseLine lower-cases the first whitespace-delimited word and keeps
// the remainder, verbatim-cased, as the argument. Unrecognized input
// yields CmdUnknown; printing the hint is left to the caller.
func parseLine(raw string) Line {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Line{Kind: CmdUnknown, Raw: raw}
	}
	word, rest := trimmed, ""
	if i := strings.IndexFunc(trimmed, unicode.IsSpace); i >= 0 {
		word, rest = trimmed[:i], trimmed[i+1:]
	}
	kind, ok := commandWords[strings.ToLower(word)]
	if !ok {
		return Line{Kind: CmdUnknown, Raw: raw}
	}
	return Line{Kind: kind, Arg: strings.TrimSpace(rest), Raw: raw}
}

// VerboseLevel parses the `verbose <n>` command's argument; a malformed
// or missing argument is treated as 0 (INFO).
func (l Line) VerboseLevel() int {
	n, err := strconv.Atoi(l.Arg)
	if err != nil {
		return 0
	}
	return n
}

// Err reports a read error from the underlying reader, if any.
func (l *Lexer) Err() error { return l.scanner.Err() }
