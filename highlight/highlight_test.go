package highlight

import (
	"bytes"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const kw = DefaultKeyword

func parse(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func render(t *testing.T, n *html.Node) string {
	t.Helper()
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func markers(doc *html.Node) *goquery.Selection {
	return goquery.NewDocumentFromNode(doc).Find("." + DefaultMarkerClass)
}

func TestHighlight_Paragraph(t *testing.T) {
	doc := parse(t, `<p id="x">please check 個人番号出力設定 before continuing</p>`)
	h := New(kw, DefaultMarkerClass)

	if got := h.Highlight(doc); got != 1 {
		t.Fatalf("Highlight: got %d markers, want 1", got)
	}

	p := goquery.NewDocumentFromNode(doc).Find("#x").Nodes[0]
	var kids []*html.Node
	for c := p.FirstChild; c != nil; c = c.NextSibling {
		kids = append(kids, c)
	}
	if len(kids) != 3 {
		t.Fatalf("children: got %d, want 3", len(kids))
	}
	if kids[0].Type != html.TextNode || kids[0].Data != "please check " {
		t.Errorf("child[0]: got %q", kids[0].Data)
	}
	if kids[1].Type != html.ElementNode || !HasClass(kids[1], DefaultMarkerClass) {
		t.Errorf("child[1]: want marker element, got %v %q", kids[1].Type, kids[1].Data)
	}
	if kids[1].FirstChild == nil || kids[1].FirstChild.Data != kw {
		t.Errorf("marker text: want %q", kw)
	}
	if kids[2].Type != html.TextNode || kids[2].Data != " before continuing" {
		t.Errorf("child[2]: got %q", kids[2].Data)
	}
}

func TestHighlight_Counts(t *testing.T) {
	cases := []struct {
		name string
		text string
		want int
	}{
		{"none", "nothing to see", 0},
		{"one", "a" + kw + "b", 1},
		{"three", kw + " x " + kw + " y " + kw, 3},
		{"adjacent", kw + kw, 2},
		{"only", kw, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			doc := parse(t, "<div>"+c.text+"</div>")
			h := New(kw, DefaultMarkerClass)
			if got := h.Highlight(doc); got != c.want {
				t.Errorf("Highlight: got %d, want %d", got, c.want)
			}
			if got := markers(doc).Length(); got != c.want {
				t.Errorf("markers in tree: got %d, want %d", got, c.want)
			}
			if got := goquery.NewDocumentFromNode(doc).Find("div").Text(); got != c.text {
				t.Errorf("text content: got %q, want %q", got, c.text)
			}
		})
	}
}

func TestHighlight_NoEmptyTextNodes(t *testing.T) {
	doc := parse(t, "<div>"+kw+kw+"</div>")
	New(kw, DefaultMarkerClass).Highlight(doc)

	div := goquery.NewDocumentFromNode(doc).Find("div").Nodes[0]
	for c := div.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode && c.Data == "" {
			t.Fatal("empty text node inserted")
		}
		if c.Type != html.ElementNode {
			t.Errorf("unexpected child type %v", c.Type)
		}
	}
}

func TestHighlight_Idempotent(t *testing.T) {
	doc := parse(t, `<main><p>`+kw+`</p><ul><li>x `+kw+` y</li></ul></main>`)
	h := New(kw, DefaultMarkerClass)

	first := h.Highlight(doc)
	before := render(t, doc)
	second := h.Highlight(doc)

	if first != 2 {
		t.Errorf("first pass: got %d, want 2", first)
	}
	if second != 0 {
		t.Errorf("second pass: got %d, want 0", second)
	}
	if after := render(t, doc); after != before {
		t.Errorf("second pass changed the tree:\n%s\n%s", before, after)
	}
}

func TestHighlight_SkipTags(t *testing.T) {
	doc := parse(t, `<html><head><style>/* `+kw+` */</style></head><body>`+
		`<script>var s = "`+kw+`";</script>`+
		`<textarea>`+kw+`</textarea>`+
		`<select><option>`+kw+`</option></select>`+
		`<input value="`+kw+`">`+
		`<noscript>`+kw+`</noscript>`+
		`</body></html>`)
	before := render(t, doc)

	if got := New(kw, DefaultMarkerClass).Highlight(doc); got != 0 {
		t.Errorf("Highlight: got %d, want 0", got)
	}
	if after := render(t, doc); after != before {
		t.Error("denylisted content was rewritten")
	}
}

func TestHighlight_InsideExistingMarker(t *testing.T) {
	doc := parse(t, `<p><span class="other `+DefaultMarkerClass+`"><b>`+kw+`</b></span></p>`)
	if got := New(kw, DefaultMarkerClass).Highlight(doc); got != 0 {
		t.Errorf("Highlight inside marker: got %d, want 0", got)
	}
}

func TestHighlight_AttributesUntouched(t *testing.T) {
	doc := parse(t, `<a title="`+kw+`" href="/`+kw+`">link</a>`)
	before := render(t, doc)
	if got := New(kw, DefaultMarkerClass).Highlight(doc); got != 0 {
		t.Errorf("Highlight: got %d, want 0", got)
	}
	if render(t, doc) != before {
		t.Error("attribute values were rewritten")
	}
}

func TestHighlight_NoOccurrencesUnchanged(t *testing.T) {
	src := `<!DOCTYPE html><html><head><title>t</title></head><body><p>a</p><p>b <i>c</i></p></body></html>`
	doc := parse(t, src)
	before := render(t, doc)
	if got := New(kw, DefaultMarkerClass).Highlight(doc); got != 0 {
		t.Errorf("Highlight: got %d, want 0", got)
	}
	if render(t, doc) != before {
		t.Error("tree changed without occurrences")
	}
}

func TestPlan_DoesNotMutate(t *testing.T) {
	doc := parse(t, `<p>`+kw+`</p>`)
	before := render(t, doc)
	targets := New(kw, DefaultMarkerClass).Plan(doc)
	if len(targets) != 1 {
		t.Fatalf("Plan: got %d targets, want 1", len(targets))
	}
	if render(t, doc) != before {
		t.Error("Plan mutated the tree")
	}
}

func TestApply_SkipsStaleTargets(t *testing.T) {
	doc := parse(t, `<p>`+kw+`</p><p>x`+kw+`</p>`)
	h := New(kw, DefaultMarkerClass)
	targets := h.Plan(doc)
	if len(targets) != 2 {
		t.Fatalf("Plan: got %d targets, want 2", len(targets))
	}

	// Detach the first, edit the second.
	targets[0].Node.Parent.RemoveChild(targets[0].Node)
	targets[1].Node.Data = "edited"

	if got := h.Apply(targets); got != 0 {
		t.Errorf("Apply on stale targets: got %d, want 0", got)
	}
}

func TestHighlight_ScopedRoot(t *testing.T) {
	doc := parse(t, `<div id="a">`+kw+`</div><div id="b">`+kw+`</div>`)
	h := New(kw, DefaultMarkerClass)
	b := goquery.NewDocumentFromNode(doc).Find("#b").Nodes[0]

	if got := h.Highlight(b); got != 1 {
		t.Errorf("scoped Highlight: got %d, want 1", got)
	}
	if got := goquery.NewDocumentFromNode(doc).Find("#a ." + DefaultMarkerClass).Length(); got != 0 {
		t.Errorf("sibling outside scope was marked")
	}
	if got := h.Count(doc); got != 1 {
		t.Errorf("Count: got %d, want 1", got)
	}
}

func TestSplit(t *testing.T) {
	cases := []struct {
		text string
		want []Segment
	}{
		{"", nil},
		{"abc", []Segment{{Text: "abc"}}},
		{"aKb", []Segment{{Text: "a"}, {Text: "K", Marker: true}, {Text: "b"}}},
		{"KK", []Segment{{Text: "K", Marker: true}, {Text: "K", Marker: true}}},
		{"K", []Segment{{Text: "K", Marker: true}}},
	}
	for _, c := range cases {
		got := Split(c.text, "K")
		if len(got) != len(c.want) {
			t.Errorf("Split(%q): got %v, want %v", c.text, got, c.want)
			continue
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("Split(%q)[%d]: got %v, want %v", c.text, i, got[i], c.want[i])
			}
		}
	}
}

func TestWithSkipTags(t *testing.T) {
	doc := parse(t, `<code>`+kw+`</code><p>`+kw+`</p>`)
	h := New(kw, DefaultMarkerClass, WithSkipTags("code"))
	if got := h.Highlight(doc); got != 1 {
		t.Errorf("Highlight: got %d, want 1", got)
	}
}

func TestWithMarkerTag(t *testing.T) {
	doc := parse(t, `<p>`+kw+`</p>`)
	h := New(kw, DefaultMarkerClass, WithMarkerTag("MARK"))
	h.Highlight(doc)
	if got := goquery.NewDocumentFromNode(doc).Find("mark." + DefaultMarkerClass).Length(); got != 1 {
		t.Errorf("mark markers: got %d, want 1", got)
	}
}
