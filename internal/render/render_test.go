package render

import "testing"

func TestStripMarkdown(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"**Bold** and *italic* and _under_", "Bold and italic and under"},
		{"no markers here", "no markers here"},
		{"***", ""},
		{"snake_case_name", "snakecasename"},
	}
	for _, tc := range cases {
		if got := StripMarkdown(tc.in); got != tc.want {
			t.Fatalf("StripMarkdown(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStripMarkdownIsIdempotent(t *testing.T) {
	for _, in := range []string{"**a** *b* _c_", "a**b", "plain", "_*_**__"} {
		once := StripMarkdown(in)
		if twice := StripMarkdown(once); twice != once {
			t.Fatalf("StripMarkdown(StripMarkdown(%q)) = %q, want %q", in, twice, once)
		}
	}
}

func TestLinkify(t *testing.T) {
	got := Linkify("See https://shop.test/a?b=1&c=2 now <b>")
	want := `See <a href="https://shop.test/a?b=1&amp;c=2" target="_blank" rel="noopener">https://shop.test/a?b=1&amp;c=2</a> now &lt;b&gt;`
	if got != want {
		t.Fatalf("Linkify() = %q, want %q", got, want)
	}
}

func TestLinkifyWithoutURLs(t *testing.T) {
	if got := Linkify("a & b"); got != "a &amp; b" {
		t.Fatalf("Linkify() = %q", got)
	}
}

func TestBotStripsBeforeLinking(t *testing.T) {
	got := Bot("**Visit** http://x.test")
	if got.Plain != "Visit http://x.test" {
		t.Fatalf("Plain = %q", got.Plain)
	}
	want := `Visit <a href="http://x.test" target="_blank" rel="noopener">http://x.test</a>`
	if got.HTML != want {
		t.Fatalf("HTML = %q, want %q", got.HTML, want)
	}
}

func TestLocalKeepsUnderscores(t *testing.T) {
	got := Local("https://shop.test/my_cart")
	if got.Plain != "https://shop.test/my_cart" {
		t.Fatalf("Plain = %q", got.Plain)
	}
	want := `<a href="https://shop.test/my_cart" target="_blank" rel="noopener">https://shop.test/my_cart</a>`
	if got.HTML != want {
		t.Fatalf("HTML = %q, want %q", got.HTML, want)
	}
}
