package llm

import (
	"fmt"
	"strings"

	"github.com/cognicore/repairtag/pkg/repairtag/extract"
)

const systemTemplate = `당신은 사무용 가구의 하자보수 데이터를 분석하는 전문가입니다.
주어진 하자보수 텍스트에서 핵심 하자 원인 키워드를 추출해주세요.

규칙:
1. 하나의 케이스에서 1~3개의 원인 태그를 추출합니다.
2. 가능한 한 아래 기존 태그 사전의 표현을 그대로 사용하세요.
3. 기존 태그에 정확히 맞는 것이 없으면, 가장 유사한 기존 태그와 새로 제안하는 표현을 모두 반환하세요.
4. 각 태그에 대해 확신도(0.0~1.0)를 함께 반환하세요.
5. 태그는 간결한 명사구로 작성하세요 (예: "상판 휨", "서랍 레일 불량", "도장 벗겨짐").

기존 태그 사전:
%s
`

// jsonInstruction is appended for backends without tool calling.
const jsonInstruction = `
응답은 다른 설명 없이 아래 형식의 JSON 객체 하나로만 작성하세요:
{"cases": [{"case_index": 1, "tags": [{"tag_text": "상판 휨", "confidence": 0.9, "matched_existing": "상판 휨", "is_new": false}], "summary": "한줄 요약"}]}
`

const toolDescription = "하자보수 케이스에서 추출한 원인 태그를 제출합니다."

func systemPrompt(dictionary []string) string {
	list := "(태그 사전 비어있음)"
	if len(dictionary) > 0 {
		var b strings.Builder
		for i, t := range dictionary {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString("- ")
			b.WriteString(t)
		}
		list = b.String()
	}
	return fmt.Sprintf(systemTemplate, list)
}

func userPrompt(cases []extract.CaseInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "다음 %d건의 하자보수 케이스를 분석해주세요.\n각 케이스별로 핵심 하자 원인 태그를 추출해주세요.\n\n", len(cases))
	for i, c := range cases {
		fmt.Fprintf(&b, "[케이스 %d]\n", i+1)
		fmt.Fprintf(&b, "품목: %s / %s\n", orDefault(c.ProductGroup, "(미분류)"), orDefault(c.Product, "(미분류)"))
		fmt.Fprintf(&b, "조치결과특이사항: %s\n", orDefault(c.ActionNotes, "(없음)"))
		fmt.Fprintf(&b, "요구내역: %s\n", orDefault(c.RequestDetails, "(없음)"))
	}
	return b.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// casesSchema describes the "cases" property of the submit_cause_tags input.
var casesSchema = map[string]any{
	"type":        "array",
	"description": "각 케이스별 추출 결과",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"case_index": map[string]any{"type": "integer", "description": "케이스 번호 (1부터 시작)"},
			"tags": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"tag_text":         map[string]any{"type": "string", "description": "추출한 원인 태그"},
						"confidence":       map[string]any{"type": "number", "description": "확신도 (0.0~1.0)"},
						"matched_existing": map[string]any{"type": "string", "description": "매칭된 기존 사전 태그 (없으면 빈 문자열)"},
						"is_new":           map[string]any{"type": "boolean", "description": "기존 사전에 없는 신규 태그 여부"},
					},
					"required": []string{"tag_text", "confidence", "is_new"},
				},
			},
			"summary": map[string]any{"type": "string", "description": "하자 내용 한줄 요약"},
		},
		"required": []string{"case_index", "tags", "summary"},
	},
}

// stripFences removes a markdown code fence around a JSON reply.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
