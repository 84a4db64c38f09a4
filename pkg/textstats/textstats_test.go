package textstats

import "testing"

func TestAnalyzeBaseForms(t *testing.T) {
	a, err := NewAnalyzer()
	if err != nil {
		t.Fatalf("Failed to create analyzer: %v", err)
	}
	tokens := a.Analyze("患者さんに説明した。")
	if len(tokens) == 0 {
		t.Fatal("No tokens found")
	}
	found := false
	for _, tok := range tokens {
		if tok.Surface == "し" && tok.BaseForm == "する" {
			found = true
		}
		if tok.PrimaryPOS == "" {
			t.Errorf("token %q has no primary POS", tok.Surface)
		}
	}
	if !found {
		t.Errorf("expected し to carry base form する, got %+v", tokens)
	}
}

func TestKeywordsRanksNouns(t *testing.T) {
	a, err := NewAnalyzer()
	if err != nil {
		t.Fatalf("Failed to create analyzer: %v", err)
	}
	text := "服薬指導を見学した。服薬状況を確認し、患者の残薬も確認した。患者は3人だった。"
	got := a.Keywords(text, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 keywords, got %v", got)
	}
	if got[0] != "服薬" && got[0] != "患者" && got[0] != "確認" {
		t.Errorf("expected a repeated noun first, got %v", got)
	}
	for _, k := range got {
		if k == "3" || k == "人" {
			t.Errorf("numeric or suffix noun in keywords: %v", got)
		}
	}
	if a.Keywords("", 3) != nil || a.Keywords(text, 0) != nil {
		t.Errorf("expected nil for empty input or n=0")
	}
}
