package council

import (
	"math"
	"regexp"
	"strings"
)

// 排名解析的关键标记与模式
const rankingMarker = "FINAL RANKING:"

var (
	numberedEntryPattern = regexp.MustCompile(`\d+\.\s*Response [A-Z]`)
	labelPattern         = regexp.MustCompile(`Response [A-Z]`)
)

// ParseRanking 从评审的自由文本中提取有序标签列表。
// 优先解析 "FINAL RANKING:" 之后的编号列表，退而求其次扫描
// 任意 "Response X" 出现顺序。这里不做去重与校验，
// 重复或无法识别的标签原样透传，由聚合阶段决定取舍。
func ParseRanking(text string) []string {
	section := text
	if idx := strings.Index(text, rankingMarker); idx >= 0 {
		section = text[idx+len(rankingMarker):]

		numbered := numberedEntryPattern.FindAllString(section, -1)
		if len(numbered) > 0 {
			labels := make([]string, 0, len(numbered))
			for _, entry := range numbered {
				labels = append(labels, labelPattern.FindString(entry))
			}
			return labels
		}
	}

	return labelPattern.FindAllString(section, -1)
}

// Aggregate 把各评审的解析结果聚合为平均排名统计。
// 每个评审按出现顺序记位置 1..k；无法通过 labelToModel 解析的
// 标签被静默丢弃，以容忍残缺或混乱的排名输出。
// 输出按平均排名升序排列，并列保持首次出现顺序；
// 零票成员直接缺席，缺席只代表"未被排名"，绝不代表"最佳"。
func Aggregate(rankings []RankingResult, labelToModel LabelMap) []AggregateRanking {
	positions := make(map[string][]int)
	var order []string

	for _, ranking := range rankings {
		parsed := ranking.ParsedOrder
		if parsed == nil {
			parsed = ParseRanking(ranking.RawText)
		}
		for idx, label := range parsed {
			model, ok := labelToModel[label]
			if !ok {
				continue
			}
			if _, seen := positions[model]; !seen {
				order = append(order, model)
			}
			positions[model] = append(positions[model], idx+1)
		}
	}

	aggregate := make([]AggregateRanking, 0, len(order))
	for _, model := range order {
		ranks := positions[model]
		sum := 0
		for _, rank := range ranks {
			sum += rank
		}
		avg := float64(sum) / float64(len(ranks))
		aggregate = append(aggregate, AggregateRanking{
			Model:       model,
			AverageRank: math.Round(avg*100) / 100,
			Votes:       len(ranks),
		})
	}

	// 稳定排序，保持首次出现顺序的并列关系
	for i := 1; i < len(aggregate); i++ {
		for j := i; j > 0 && aggregate[j].AverageRank < aggregate[j-1].AverageRank; j-- {
			aggregate[j], aggregate[j-1] = aggregate[j-1], aggregate[j]
		}
	}
	return aggregate
}
