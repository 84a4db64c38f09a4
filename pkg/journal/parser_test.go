package journal

import (
	"strings"
	"testing"
)

const page1 = `2025年度 薬局実習
氏名(山田　太郎 )
日誌 6月16日
具体的な実習内容
午前は調剤室で計数調剤を行い、午後は服薬指導に同席した。
実習に関する能力
`

const page2 = `添付資料なし`

const page3 = `氏名（山田 太郎）
日誌 6月16日
実習にて達成できなかった点
（次回への反省・改善点）
患者さんへの説明が早口になってしまった。
薬剤師のコメント
落ち着いて話せば大丈夫です。
登録者 佐藤`

func TestParseAccumulatesAcrossPages(t *testing.T) {
	p := NewParser(2025)
	res := p.Parse(Document{Name: "日誌_山田_20250616.pdf", Pages: []string{page1, page2, page3}})

	if len(res.Order) != 1 {
		t.Fatalf("expected 1 bucket, got %d: %v", len(res.Order), res.Order)
	}
	k := res.Order[0]
	if k.Name != "山田 太郎" || k.Date != "2025-06-16" {
		t.Fatalf("unexpected key %+v", k)
	}
	f := res.Entries[k]
	if !strings.HasPrefix(f.PracticalContent, "午前は調剤室で") {
		t.Errorf("practical content = %q", f.PracticalContent)
	}
	if f.UnachievedPoint != "患者さんへの説明が早口になってしまった。" {
		t.Errorf("unachieved point = %q", f.UnachievedPoint)
	}
	if f.PharmacistComment != "落ち着いて話せば大丈夫です。" {
		t.Errorf("pharmacist comment = %q", f.PharmacistComment)
	}
	if res.SkippedPages != 1 {
		t.Errorf("expected 1 skipped page, got %d", res.SkippedPages)
	}
}

func TestParseSkipsDuplicateText(t *testing.T) {
	p := NewParser(2025)
	res := p.Parse(Document{Name: "x.pdf", Pages: []string{page1, page1}})
	f := res.Entries[Key{Name: "山田 太郎", Date: "2025-06-16"}]
	if f == nil {
		t.Fatalf("missing bucket")
	}
	if strings.Count(f.PracticalContent, "午前は調剤室で") != 1 {
		t.Fatalf("expected duplicate page text to be ignored, got %q", f.PracticalContent)
	}
}

func TestParseAppendsDistinctText(t *testing.T) {
	other := strings.Replace(page1, "午前は調剤室で計数調剤を行い、午後は服薬指導に同席した。", "在庫管理と発注業務について説明を受けた。", 1)
	res := NewParser(2025).Parse(Document{Name: "x.pdf", Pages: []string{page1, other}})
	f := res.Entries[Key{Name: "山田 太郎", Date: "2025-06-16"}]
	want := "午前は調剤室で計数調剤を行い、午後は服薬指導に同席した。\n在庫管理と発注業務について説明を受けた。"
	if f.PracticalContent != want {
		t.Fatalf("practical content = %q, want %q", f.PracticalContent, want)
	}
}

func TestParseMinimumLengths(t *testing.T) {
	page := "氏名(山田 太郎)\n日誌 5月20日\n具体的な実習内容\n見学のみ\n実習にて達成できなかった点\nなし\n薬剤師のコメント\n可\n"
	res := NewParser(2025).Parse(Document{Name: "x.pdf", Pages: []string{page}})
	f := res.Entries[Key{Name: "山田 太郎", Date: "2025-05-20"}]
	if f == nil {
		t.Fatalf("missing bucket")
	}
	if !f.Empty() || f.PharmacistComment != "" {
		t.Fatalf("expected short fields to be dropped, got %+v", f)
	}
}

func TestParseYearSources(t *testing.T) {
	page := "氏名(山田 太郎)\n日誌 1月8日\n具体的な実習内容\n年明けの棚卸しを手伝った。\n"
	cases := []struct {
		name  string
		pages []string
		want  string
	}{
		{"日誌_山田_20260108.pdf", []string{page}, "2026-01-08"},
		{"journal.pdf", []string{"2024年度 実習記録\n" + page}, "2024-01-08"},
		{"journal.pdf", []string{page}, "2025-01-08"},
	}
	for _, c := range cases {
		res := NewParser(2025).Parse(Document{Name: c.name, Pages: c.pages})
		if len(res.Order) != 1 || res.Order[0].Date != c.want {
			t.Errorf("%s: got %v, want date %s", c.name, res.Order, c.want)
		}
	}
}

func TestParseInvalidDateWarns(t *testing.T) {
	page := "氏名(山田 太郎)\n日誌 2月30日\n具体的な実習内容\n存在しない日付のページです。\n"
	res := NewParser(2025).Parse(Document{Name: "x.pdf", Pages: []string{page}})
	if len(res.Order) != 0 {
		t.Fatalf("expected no bucket for invalid date, got %v", res.Order)
	}
	if res.SkippedPages != 1 || len(res.Warnings) != 1 {
		t.Fatalf("expected one skipped page with a warning, got %d / %v", res.SkippedPages, res.Warnings)
	}
}

func TestParseAllMergesDocuments(t *testing.T) {
	p := NewParser(2025)
	res := p.ParseAll([]Document{
		{Name: "a_20250616.pdf", Pages: []string{page1}},
		{Name: "b_20250616.pdf", Pages: []string{page3}},
	})
	f := res.Entries[Key{Name: "山田 太郎", Date: "2025-06-16"}]
	if f == nil || f.PracticalContent == "" || f.UnachievedPoint == "" {
		t.Fatalf("expected fields merged across documents, got %+v", f)
	}
	if got := res.Students(); len(got) != 1 || got[0] != "山田 太郎" {
		t.Fatalf("students = %v", got)
	}
}

func TestCompose(t *testing.T) {
	if got := Compose("", ""); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
	if got := Compose("見学した", ""); got != "【実習内容】\n見学した" {
		t.Errorf("practical only = %q", got)
	}
	want := "【実習内容】\n見学した\n\n【達成できなかった点・反省】\n質問できなかった"
	if got := Compose(" 見学した ", "質問できなかった"); got != want {
		t.Errorf("both = %q", got)
	}
}
