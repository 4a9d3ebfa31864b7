// internal/services/classifier.go
package services

import (
	"strings"

	"github.com/Corphon/TubeAgentMCP/internal/models"
)

// ScriptTokenThreshold 超过该词数的输入按成品脚本处理
const ScriptTokenThreshold = 50

// ClassifySource 将用户输入归类为来源类型。
// 规则按顺序匹配，首个命中生效：
//  1. 包含 "github.com/" 子串 → github
//  2. 空白分隔的词数超过阈值 → script（长输入视为已写好的脚本）
//  3. 其余 → topic
//
// 空输入应在调用前被校验拦截，这里不做处理。
func ClassifySource(input string) models.SourceType {
	if strings.Contains(input, "github.com/") {
		return models.SourceGithub
	}
	if CountTokens(input) > ScriptTokenThreshold {
		return models.SourceScript
	}
	return models.SourceTopic
}

// CountTokens 按空白串切分统计词数，不做标点归一化
func CountTokens(input string) int {
	return len(strings.Fields(input))
}

// PreviewClassification 返回分类预览（来源类型 + 词数）
func PreviewClassification(input string) models.ClassifyPreview {
	return models.ClassifyPreview{
		SourceType: ClassifySource(input),
		Tokens:     CountTokens(input),
	}
}
