package command

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		line string
		verb Verb
		args []string
	}{
		{"/register alice", VerbRegister, []string{"alice"}},
		{"  /store   report.txt  ", VerbStore, []string{"report.txt"}},
		{"/get report.txt", VerbGet, []string{"report.txt"}},
		{"/dir", VerbDir, []string{}},
		{"/chat hello\tthere", VerbChat, []string{"hello", "there"}},
		{"/chatuni bob hi bob", VerbChatUni, []string{"bob", "hi", "bob"}},
		{"/list", VerbList, []string{}},
		{"/leave", VerbLeave, []string{}},
		{"/?", VerbHelp, []string{}},
		{"/REGISTER alice", VerbUnknown, []string{"alice"}},
		{"hello everyone", VerbUnknown, []string{"everyone"}},
		{"/registeralice", VerbUnknown, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd := Parse(tt.line)
			assert.Equal(t, tt.verb, cmd.Verb)
			assert.Equal(t, tt.args, cmd.Args)
		})
	}
}

func TestParseBlank(t *testing.T) {
	for _, line := range []string{"", "   ", "\t"} {
		cmd := Parse(line)
		assert.Equal(t, VerbNone, cmd.Verb)
		assert.Empty(t, cmd.Name)
	}
}

func TestArgAndRest(t *testing.T) {
	cmd := Parse("/chatuni bob   see  you later")

	alias, ok := cmd.Arg(0)
	assert.True(t, ok)
	assert.Equal(t, "bob", alias)

	_, ok = cmd.Arg(9)
	assert.False(t, ok)
	_, ok = cmd.Arg(-1)
	assert.False(t, ok)

	// inner whitespace runs collapse
	assert.Equal(t, "see you later", cmd.Rest(1))
	assert.Equal(t, "", cmd.Rest(4))
}

// A filename containing a space is split into two tokens; only the first is
// the filename.
func TestFilenameWithSpaceIsNotRoundTrippable(t *testing.T) {
	cmd := Parse("/store my report.txt")

	name, _ := cmd.Arg(0)
	assert.Equal(t, "my", name)
	assert.Equal(t, "my report.txt", cmd.Rest(0))
}

func TestAllowedUnregistered(t *testing.T) {
	allowed := map[Verb]bool{VerbRegister: true, VerbHelp: true, VerbLeave: true}
	for _, v := range []Verb{VerbRegister, VerbStore, VerbGet, VerbDir, VerbChat, VerbChatUni, VerbList, VerbLeave, VerbHelp, VerbUnknown} {
		assert.Equal(t, allowed[v], v.AllowedUnregistered(), v.String())
	}
}

func TestUsageAndString(t *testing.T) {
	assert.Equal(t, "/chatuni <alias> <message>", Usage(VerbChatUni))
	assert.Equal(t, "", Usage(VerbUnknown))
	assert.Equal(t, "/store", VerbStore.String())
	assert.Equal(t, "unknown", VerbUnknown.String())
	assert.Equal(t, "none", VerbNone.String())
}

func TestHelpListsEveryVerb(t *testing.T) {
	help := strings.Join(Help(), "\n")
	for _, name := range []string{"/register", "/store", "/get", "/dir", "/chat", "/chatuni", "/list", "/leave", "/?"} {
		assert.Contains(t, help, name)
	}
}
