package telegram

import (
	"fmt"
	"strings"

	"mistakepatch/api/internal/grading"
)

const topMistakes = 3

const startText = "풀이 사진을 보내면 채점해 드립니다.\n" +
	"문제 사진이 따로 있다면 캡션 /problem 을 붙여 먼저 보내주세요.\n" +
	"명령: /health"

var verdictLabel = map[grading.Verdict]string{
	grading.VerdictCorrect:   "정답",
	grading.VerdictIncorrect: "오답",
	grading.VerdictUnknown:   "판정 보류",
}

func formatResult(res *grading.Result, fallback bool) string {
	if res == nil {
		return "결과가 비어 있습니다."
	}
	var b strings.Builder
	if fallback {
		b.WriteString("⚠️ 모델 응답을 받지 못해 예시 결과를 보여드립니다.\n\n")
	}
	fmt.Fprintf(&b, "점수: %.1f / %.0f\n", res.ScoreTotal, grading.MaxScore)
	fmt.Fprintf(&b, "판정: %s", verdictLabel[res.AnswerVerdict])
	if reason := strings.TrimSpace(res.AnswerVerdictReason); reason != "" {
		fmt.Fprintf(&b, " (%s)", reason)
	}
	b.WriteString("\n")

	if len(res.Mistakes) == 0 {
		b.WriteString("\n감점 항목이 없습니다.")
	} else {
		b.WriteString("\n주요 실수:\n")
		for i, m := range res.Mistakes {
			if i == topMistakes {
				fmt.Fprintf(&b, "… 외 %d건\n", len(res.Mistakes)-topMistakes)
				break
			}
			fmt.Fprintf(&b, "%d. [%s] -%.1f %s\n   → %s\n", i+1, m.Type, m.PointsDeducted, m.Evidence, m.FixInstruction)
		}
	}

	if len(res.NextChecklist) > 0 {
		b.WriteString("\n다음 체크리스트:\n")
		for _, item := range res.NextChecklist {
			b.WriteString("• " + item + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
