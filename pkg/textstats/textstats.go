// Package textstats derives lightweight statistics from Japanese journal text.
package textstats

import (
	"sort"
	"strings"
	"unicode"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

// Token represents a single analyzed unit of text.
type Token struct {
	Surface       string   // The text as it appears (e.g. "行っ")
	BaseForm      string   // The dictionary form (e.g. "行く")
	PartsOfSpeech []string // Kagome IPA features, e.g. ["名詞", "サ変接続", "*", "*", ...]
	PrimaryPOS    string
}

// Analyzer wraps a kagome tokenizer. It is safe for concurrent use.
type Analyzer struct {
	t *tokenizer.Tokenizer
}

// NewAnalyzer creates a tokenizer backed by the IPA dictionary.
func NewAnalyzer() (*Analyzer, error) {
	t, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, err
	}
	return &Analyzer{t: t}, nil
}

// Analyze breaks text into tokens with base forms.
func (a *Analyzer) Analyze(text string) []Token {
	var result []Token
	for _, token := range a.t.Tokenize(text) {
		if token.Class == tokenizer.DUMMY {
			continue
		}
		if strings.TrimSpace(token.Surface) == "" {
			continue
		}

		// IPA features: 0 POS, 1-3 sub-POS, 4-5 conjugation, 6 base form, 7-8 reading.
		features := token.Features()
		base := token.Surface
		if len(features) > 6 && features[6] != "*" {
			base = features[6]
		}
		primaryPOS := ""
		if len(features) > 0 {
			primaryPOS = features[0]
		}

		result = append(result, Token{
			Surface:       token.Surface,
			BaseForm:      base,
			PartsOfSpeech: features,
			PrimaryPOS:    primaryPOS,
		})
	}
	return result
}

// skippedNounKinds are IPA noun subcategories that make poor keywords.
var skippedNounKinds = map[string]bool{
	"数":   true,
	"非自立": true,
	"代名詞": true,
	"接尾":  true,
	"特殊":  true,
}

// Keywords returns up to n content nouns of text, most frequent first; ties
// keep first-appearance order. Single-rune kana and ASCII tokens are dropped.
func (a *Analyzer) Keywords(text string, n int) []string {
	if n <= 0 || strings.TrimSpace(text) == "" {
		return nil
	}
	counts := map[string]int{}
	var order []string
	for _, tok := range a.Analyze(text) {
		if tok.PrimaryPOS != "名詞" {
			continue
		}
		if len(tok.PartsOfSpeech) > 1 && skippedNounKinds[tok.PartsOfSpeech[1]] {
			continue
		}
		w := tok.BaseForm
		if !meaningful(w) {
			continue
		}
		if _, ok := counts[w]; !ok {
			order = append(order, w)
		}
		counts[w]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	return order
}

func meaningful(w string) bool {
	runes := []rune(w)
	if len(runes) == 0 {
		return false
	}
	ascii := true
	for _, r := range runes {
		if r > unicode.MaxASCII {
			ascii = false
			break
		}
	}
	if ascii {
		return false
	}
	if len(runes) == 1 && (unicode.In(runes[0], unicode.Hiragana, unicode.Katakana)) {
		return false
	}
	return true
}
