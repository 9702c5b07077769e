// Package command tokenizes control lines into verbs and arguments.
//
// Tokens are separated by runs of whitespace. Only the last positional
// argument of a verb may contain spaces: Rest rejoins the remaining tokens with
// single spaces. Aliases and filenames are therefore single tokens, and runs of
// whitespace inside a chat message collapse to one space.
package command

import "strings"

type Verb int

const (
	// VerbNone is a blank line.
	VerbNone Verb = iota
	VerbUnknown
	VerbRegister
	VerbStore
	VerbGet
	VerbDir
	VerbChat
	VerbChatUni
	VerbList
	VerbLeave
	VerbHelp
)

type verbInfo struct {
	verb  Verb
	usage string
	about string
}

// table is ordered as the help listing shows it.
var table = []struct {
	name string
	verbInfo
}{
	{"/leave", verbInfo{VerbLeave, "/leave", "To leave the server"}},
	{"/register", verbInfo{VerbRegister, "/register <alias>", "To register or change your alias"}},
	{"/store", verbInfo{VerbStore, "/store <filename>", "To send a file to the server"}},
	{"/dir", verbInfo{VerbDir, "/dir", "To list the files stored on the server"}},
	{"/get", verbInfo{VerbGet, "/get <filename>", "To fetch a file from the server"}},
	{"/chat", verbInfo{VerbChat, "/chat <message>", "To send a message to everyone"}},
	{"/chatuni", verbInfo{VerbChatUni, "/chatuni <alias> <message>", "To send a message to one user"}},
	{"/list", verbInfo{VerbList, "/list", "To list the users online"}},
	{"/?", verbInfo{VerbHelp, "/?", "To see this again"}},
}

var byName = func() map[string]verbInfo {
	m := make(map[string]verbInfo, len(table))
	for _, entry := range table {
		m[entry.name] = entry.verbInfo
	}
	return m
}()

// Command is one parsed control line.
type Command struct {
	Verb Verb
	Name string // first token exactly as sent
	Args []string
}

// Parse never fails; unrecognized verbs come back as VerbUnknown.
func Parse(line string) Command {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{Verb: VerbNone}
	}

	cmd := Command{Verb: VerbUnknown, Name: fields[0], Args: fields[1:]}
	if s, ok := byName[fields[0]]; ok {
		cmd.Verb = s.verb
	}
	return cmd
}

// Arg returns the i-th argument, if present.
func (c Command) Arg(i int) (string, bool) {
	if i < 0 || i >= len(c.Args) {
		return "", false
	}
	return c.Args[i], true
}

// Rest joins the arguments from i onwards with single spaces.
func (c Command) Rest(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return strings.Join(c.Args[i:], " ")
}

// Usage returns the syntax line for v, or "" for VerbNone and VerbUnknown.
func Usage(v Verb) string {
	for _, entry := range table {
		if entry.verb == v {
			return entry.usage
		}
	}
	return ""
}

func (v Verb) String() string {
	for _, entry := range table {
		if entry.verb == v {
			return entry.name
		}
	}
	if v == VerbNone {
		return "none"
	}
	return "unknown"
}

// AllowedUnregistered reports whether v may be used before /register.
func (v Verb) AllowedUnregistered() bool {
	switch v {
	case VerbRegister, VerbHelp, VerbLeave:
		return true
	}
	return false
}

// Help returns the static command listing, one line per entry.
func Help() []string {
	lines := make([]string, 0, len(table)+1)
	lines = append(lines, "Here are the list of commands you can request to the server:")
	for _, entry := range table {
		lines = append(lines, entry.about+": \""+entry.usage+"\"")
	}
	return lines
}
