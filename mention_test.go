package agentworld

import (
	"reflect"
	"testing"
)

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"@Alice hello", []string{"alice"}},
		{"hello @alice and @Bob", []string{"alice", "bob"}},
		{"no mentions here", nil},
		{"@a-gent_2 go", []string{"a-gent_2"}},
		{"email@example.com", []string{"example"}}, // token match, routing filters by registry
	}
	for _, tt := range tests {
		if got := ExtractMentions(tt.text); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ExtractMentions(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestParagraphBeginMentions(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"single leading", "@alice do the thing", []string{"alice"}},
		{"comma separator", "@Alice, please review", []string{"alice"}},
		{"consecutive leading", "@alice @bob both of you", []string{"alice", "bob"}},
		{"mid-text only", "ping @alice later", nil},
		{"multiline", "@alice first\nplain line\n@bob second", []string{"alice", "bob"}},
		{"stops at non-mention", "@alice hello @bob", []string{"alice"}},
		{"leading whitespace", "  @alice indented", []string{"alice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParagraphBeginMentions(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParagraphBeginMentions(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestStripMentionsAtParagraphBeginnings(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		target string
		want   string
	}{
		{"strip all", "@alice @bob hello", "", "hello"},
		{"strip target only", "@alice @bob hello", "alice", "@bob hello"},
		{"target not leading", "@bob @alice hello", "alice", "@bob @alice hello"},
		{"mid-text untouched", "keep @alice here", "", "keep @alice here"},
		{"multiline", "@alice one\n@alice two", "alice", "one\ntwo"},
		{"preserves indent", "  @alice hi", "", "  hi"},
		{"case insensitive", "@Alice hi", "alice", "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMentionsAtParagraphBeginnings(tt.text, tt.target); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShouldAutoMention(t *testing.T) {
	tests := []struct {
		name     string
		response string
		sender   string
		agentID  string
		want     bool
	}{
		{"plain reply", "sure, done", "human", "coder", true},
		{"already addressed", "@reviewer take a look", "human", "coder", false},
		{"self mention only", "@coder noted", "human", "coder", true},
		{"unknown sender", "hello", "", "coder", false},
		{"sender is self", "hello", "coder", "coder", false},
		{"mid-text mention", "ask @reviewer about it", "human", "coder", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldAutoMention(tt.response, tt.sender, tt.agentID); got != tt.want {
				t.Errorf("ShouldAutoMention(%q, %q, %q) = %v, want %v",
					tt.response, tt.sender, tt.agentID, got, tt.want)
			}
		})
	}
}

func TestAddAutoMention(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		sender string
		want   string
	}{
		{"prepends sender", "done", "human", "@human done"},
		{"keeps existing leading", "@bob over to you", "human", "@bob over to you"},
		{"idempotent", "@human done", "human", "@human done"},
		{"stop tag strips routing", "@bob <world>STOP</world> finished", "human", "finished"},
		{"done tag", "<world>done</world> all set", "human", "all set"},
		{"pass tag", "<world>PASS</world> your turn", "human", "your turn"},
		{"to tag redirects", "@human <world>TO: @bob, carol</world> handle this", "human", "@bob\n@carol\nhandle this"},
		{"to tag empty falls through", "<world>TO:</world> anyone", "human", "@human anyone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AddAutoMention(tt.text, tt.sender); got != tt.want {
				t.Errorf("AddAutoMention(%q, %q) = %q, want %q", tt.text, tt.sender, got, tt.want)
			}
		})
	}
}

func TestParseWorldTag(t *testing.T) {
	kind, recipients, rest := ParseWorldTag("before <world> TO: @a, b </world> after")
	if kind != WorldTagTo {
		t.Fatalf("kind = %q, want TO", kind)
	}
	if !reflect.DeepEqual(recipients, []string{"a", "b"}) {
		t.Errorf("recipients = %v, want [a b]", recipients)
	}
	if rest != "before  after" {
		t.Errorf("rest = %q", rest)
	}

	kind, _, rest = ParseWorldTag("no tag at all")
	if kind != WorldTagNone || rest != "no tag at all" {
		t.Errorf("untagged text changed: kind=%q rest=%q", kind, rest)
	}

	kind, _, rest = ParseWorldTag("x <world>garbage</world> y")
	if kind != WorldTagNone {
		t.Errorf("unknown body should map to none, got %q", kind)
	}
	if rest != "x  y" {
		t.Errorf("unknown tag should still be removed, rest = %q", rest)
	}
}
