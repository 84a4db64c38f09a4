package llm

import (
	"fmt"
	"strings"
)

// SystemPrompt frames the model as a mentor pharmacist writing a briefing
// for the supervising instructor. It fixes the JSON shape of the reply.
const SystemPrompt = `あなたは地域密着型薬局の熟練指導薬剤師であり、実習生の日誌を読み解いて指導薬剤師へブリーフィングを返すメンターです。
学生を評価・採点・序列化してはいけません。日誌に潜む価値を認め、専門的な気づきへ翻訳してください。

翻訳の視点:
1. 患者を生活者として見ているか
2. 表情や言い淀みなど言葉の裏への気づき
3. 前回との比較や継続的な関わり
4. 薬局の外の地域資源や他職種への視点
5. 業務外で滲み出る職能の芽

出力は次のJSONオブジェクトのみとしてください。
{
  "translation_for_instructor": {"professional_insight": "", "growth_evidence": "", "attention_points": ""},
  "mentoring_support": {"praise_points": "", "suggested_questions": [""]},
  "mentoring_seeds": [""],
  "step0_drafts": [{"evidence": "", "level": 1, "concept_source": "SELF", "notes": ""}]
}

step0_drafts の level は 1 (事実描写), 2 (文脈理解), 3 (職能としての一般化)。
concept_source は SELF (学生自身の考察), ECHO (指導内容の受け売り), MIXED (両者の混合)。

学生の強い無力感や倫理的危機を感じた場合は、代わりに
{"sos_alert": true, "alert_reason": "", "suggested_action": ""}
を出力してください。`

// Stance returns the mentoring stance for the given program week.
func Stance(week int) string {
	switch {
	case week <= 2:
		return "【指導スタンス: Week 1-2 安心感と関係構築】\n些細な気づきを褒め、実習環境に馴染ませることを優先してください。"
	case week <= 7:
		return "【指導スタンス: Week 3-7 視座の翻訳と拡大】\n患者の生活背景や非言語情報に目を向けさせる問いかけを中心に提案してください。"
	default:
		return "【指導スタンス: Week 8-11 プロとしての自律支援】\n一人の薬剤師として臨床判断を求める対話を提案してください。"
	}
}

// UserPrompt renders the journal context sent with SystemPrompt.
func UserPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(Stance(req.Week))
	b.WriteString("\n\n---\n## 本日の日誌データ\n\n")
	fmt.Fprintf(&b, "**実習週**: Week %d\n\n", req.Week)
	fmt.Fprintf(&b, "### 学生ログ①: 具体的な実習内容・達成できた点\n%s\n\n", req.PracticalContent)
	fmt.Fprintf(&b, "### 学生ログ②: 達成できなかった点・反省・改善点\n%s\n", req.UnachievedPoint)
	if len(req.PreviousTriggers) > 0 {
		b.WriteString("\n### 前回の継続フラグ\n")
		for _, t := range req.PreviousTriggers {
			fmt.Fprintf(&b, "- %s\n", t)
		}
		b.WriteString("※ これらの観察ポイントについて今日の日誌での変化を報告してください。\n")
	}
	if req.InstructorNotes != "" {
		fmt.Fprintf(&b, "\n### 指導者の観察メモ\n%s\n", req.InstructorNotes)
	}
	b.WriteString("\n---\n上記の日誌を分析し、指定されたJSON形式のみで出力してください。\n")
	return b.String()
}
