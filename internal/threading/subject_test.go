package threading

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/mlist/internal/model"
)

func TestSimplifySubject(t *testing.T) {
	tests := []struct {
		in         string
		removeList bool
		want       string
		reply      bool
	}{
		{"Test", false, "Test", false},
		{"Re: Test", false, "Test", true},
		{"RE: re: Test", false, "Test", true},
		{"Re[2]: Test", false, "Test", true},
		{"re(12):Test", false, "Test", true},
		{"Re[]: Test", false, "Re[]: Test", false},
		{"Really: Test", false, "Really: Test", false},
		{"  Re:  Test  ", false, "Test", true},
		{"[list] Re: Test", false, "[list] Test", true},
		{"Re: [list] Test", false, "[list] Test", true},
		{"Re: [list] Test", true, "Test", true},
		{"[list] Test", true, "Test", false},
		{"Re: [list] Re: [list] Test", false, "[list] Test", true},
		{"[a b] Test", true, "[a b] Test", false},
		{"", false, "", false},
		{"Re:", false, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, reply := SimplifySubject(tt.in, tt.removeList)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.reply, reply)
		})
	}
}

func TestSimplifySubjectIsStable(t *testing.T) {
	subjects := []string{
		"Re: Re: [dev] Re[3]: patch",
		"[dev] [ann] release",
		"re(2): [x]",
		"Re: Re",
		"  spaced  out  ",
	}
	for _, s := range subjects {
		once, _ := SimplifySubject(s, false)
		twice, _ := SimplifySubject(once, false)
		assert.Equal(t, once, twice, s)
	}
}

func TestSimplifierRegexFirstMatchOnly(t *testing.T) {
	s := NewSimplifier(model.ThreadParams{
		SimplifyingRegex:  `(?i)(re|fwd): `,
		ReplacementString: "",
	})

	got, reply := s.Simplify("Fwd: Re: hello")
	assert.Equal(t, "Re: hello", got)
	assert.True(t, reply)

	got, reply = s.Simplify("hello")
	assert.Equal(t, "hello", got)
	assert.False(t, reply)
}

func TestSimplifierBadRegexFallsBack(t *testing.T) {
	s := NewSimplifier(model.ThreadParams{SimplifyingRegex: "(", RemoveListPrefix: true})

	got, reply := s.Simplify("Re: [l] hello")
	assert.Equal(t, "hello", got)
	assert.True(t, reply)
}

func TestMessageID(t *testing.T) {
	assert.Equal(t, "<a@b>", MessageID("  <a@b> <c@d>"))
	assert.Equal(t, "<c@d>", MessageID("<nope> <c@d>"))
	assert.Equal(t, "<x@y>", MessageID("<<x@y>"))
	assert.Equal(t, "", MessageID("garbage"))
	assert.Equal(t, "", MessageID(""))
}

func TestReferences(t *testing.T) {
	got := References("<1@x> <2@x>\r\n <1@x> junk <3@x>", "<2@x>")
	assert.Equal(t, []string{"<1@x>", "<3@x>", "<2@x>"}, got)

	assert.Equal(t, []string{"<9@x>"}, References("", "<9@x>"))
	assert.Empty(t, References("no ids here", ""))
}
