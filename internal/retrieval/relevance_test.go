package retrieval

import (
	"reflect"
	"strings"
	"testing"

	"github.com/kalambet/msgforge/internal/storage"
)

func ids(docs []storage.ReferenceDoc) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestExtractKeywords(t *testing.T) {
	p := storage.PainPoint{
		Title:    "Why does Terraform drift keep breaking our staging?",
		Keywords: []string{"IaC", "terraform"},
		Metadata: storage.PainPointMetadata{Tools: []string{"Terraform"}, Roles: []string{"SRE"}},
	}
	got := ExtractKeywords(p)
	want := []string{"terraform", "sre", "iac", "drift", "keep", "breaking", "staging"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractKeywords = %v, want %v", got, want)
	}
}

func TestScoreWeights(t *testing.T) {
	doc := storage.ReferenceDoc{
		Name:        "kafka guide",
		Description: "kafka operations",
		Content:     "kafka " + strings.Repeat("x", 2000) + " zookeeper",
		Tags:        []string{"kafka"},
	}
	if got := Score(doc, []string{"kafka"}); got != weightTag+weightDescription+weightContent+weightName {
		t.Errorf("Score(kafka) = %d, want 7", got)
	}
	if got := Score(doc, []string{"zookeeper"}); got != 0 {
		t.Errorf("content past the first 1000 chars should not count, got %d", got)
	}

	// 900 two-byte runes put the keyword past byte 1000 but inside the first
	// 1000 characters.
	accented := storage.ReferenceDoc{Content: strings.Repeat("é", 900) + " kubernetes"}
	if got := Score(accented, []string{"kubernetes"}); got != weightContent {
		t.Errorf("Score(multibyte prefix) = %d, want %d", got, weightContent)
	}
	cut := storage.ReferenceDoc{Content: strings.Repeat("é", 995) + " kubernetes"}
	if got := Score(cut, []string{"kubernetes"}); got != 0 {
		t.Errorf("keyword past the first 1000 characters matched, got %d", got)
	}
}

func TestSelectRelevant_NonzeroFirst(t *testing.T) {
	docs := []storage.ReferenceDoc{
		{ID: "a", Name: "hiring"},
		{ID: "b", Name: "pricing"},
		{ID: "c", Name: "k8s", Tags: []string{"kubernetes"}},
		{ID: "d", Name: "office"},
		{ID: "e", Name: "upgrade notes", Description: "kubernetes upgrades"},
	}
	got := SelectRelevant(docs, []string{"kubernetes"}, 3)

	if len(got) != 3 {
		t.Fatalf("got %d docs, want 3", len(got))
	}
	// c scores 3 (tag), e scores 2 (description); filler keeps original order.
	if want := []string{"c", "e", "a"}; !reflect.DeepEqual(ids(got), want) {
		t.Errorf("SelectRelevant = %v, want %v", ids(got), want)
	}
}

func TestSelectRelevant_AllZeroUnchanged(t *testing.T) {
	docs := []storage.ReferenceDoc{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"}}
	got := SelectRelevant(docs, []string{"nothing"}, 3)
	if !reflect.DeepEqual(ids(got), []string{"a", "b", "c", "d", "e"}) {
		t.Errorf("all-zero corpus should be returned unchanged, got %v", ids(got))
	}
}

func TestSelectRelevant_SmallCorpusUnchanged(t *testing.T) {
	docs := []storage.ReferenceDoc{{ID: "a"}, {ID: "b", Tags: []string{"go"}}}
	got := SelectRelevant(docs, []string{"go"}, 3)
	if !reflect.DeepEqual(ids(got), []string{"a", "b"}) {
		t.Errorf("corpus <= topK should be unchanged, got %v", ids(got))
	}
}

func TestExtractText_HTML(t *testing.T) {
	page := `<html><head><title>t</title><style>p{}</style></head><body>
		<h1>Runbook</h1><script>alert(1)</script>
		<p>Restart the   broker.</p><ul><li>Check lag</li></ul></body></html>`
	got, err := ExtractText("runbook.html", []byte(page))
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	want := "Runbook\nRestart the broker.\nCheck lag"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractText_PlainAndBadPDF(t *testing.T) {
	got, err := ExtractText("notes.txt", []byte("  hello  \n"))
	if err != nil || got != "hello" {
		t.Errorf("plain text = %q, %v", got, err)
	}
	if _, err := ExtractText("broken.pdf", []byte("not a pdf")); err == nil {
		t.Error("expected error for invalid pdf")
	}
}
