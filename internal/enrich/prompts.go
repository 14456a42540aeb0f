// Package enrich consumes crawled announcements from the job queue and
// enriches them with an LLM-generated summary, category labels, and
// target-identity labels before persisting.
package enrich

import (
	"fmt"
	"strings"

	"github.com/cherites0610/welfare-pipeline/internal/models"
)

// summaryPrompt asks for a compact Traditional Chinese summary of one
// announcement.
func summaryPrompt(content string) string {
	return fmt.Sprintf(`你是一位社會福利資訊編輯。請閱讀以下政府福利公告內容，用繁體中文寫出一段50到150字的摘要，說明這項福利的對象、內容與申請方式。只輸出摘要本文，不要加任何前言、標題或換行。

公告內容：
%s`, content)
}

// categoryPrompt asks for pipe-delimited labels from the closed category
// set.
func categoryPrompt(content string) string {
	return fmt.Sprintf(`請閱讀以下政府福利公告內容，從下列固定分類中選出所有適用的分類：%s。只輸出分類名稱，多個分類之間用「|」分隔，不要輸出其他文字。

公告內容：
%s`, strings.Join(models.CategoryNames(), "、"), content)
}

// identityPrompt asks for pipe-delimited labels from the closed identity
// set, allowing the none sentinel.
func identityPrompt(content string, maxLabels int) string {
	return fmt.Sprintf(`請閱讀以下政府福利公告內容，從下列身分標籤中選出適用的對象（最多%d個）：%s。若無法判斷適用對象，輸出「%s」。只輸出標籤名稱，多個標籤之間用「|」分隔，不要輸出其他文字。

公告內容：
%s`, maxLabels, strings.Join(models.IdentityNames(), "、"), models.NoneSentinel, content)
}

// splitLabels splits a pipe-delimited LLM answer into trimmed labels.
func splitLabels(raw string) []string {
	parts := strings.Split(raw, "|")
	labels := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			labels = append(labels, trimmed)
		}
	}
	return labels
}
