// internal/services/query_normalizer.go
package services

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Corphon/StoryboardMCP/internal/config"
)

// 镜头景别标记，中英文
const shotTypePattern = `\[(?:[特近中全远]景?|特写|(?i:extreme close-up|close-up|closeup|medium(?: shot)?|wide(?: shot)?|full(?: shot)?|long(?: shot)?|establishing(?: shot)?))\]`

var (
	shotTypeTagRe   = regexp.MustCompile(shotTypePattern + `\s*`)
	durationTagRe   = regexp.MustCompile(`(?i)\|\s*[\d.]+\s*(?:seconds|secs|sec|s|秒)?`)
	pipeSeparatorRe = regexp.MustCompile(`\s*\|\s*`)
	spaceRunRe      = regexp.MustCompile(`\s+`)
)

// QueryNormalizer 从分镜文本生成检索查询
type QueryNormalizer struct {
	emotionTagRe *regexp.Regexp
	neutral      map[string]bool
	minRunes     int
	cjkSuffix    string
	latinSuffix  string
}

func NewQueryNormalizer(p config.QueryProfile) *QueryNormalizer {
	n := &QueryNormalizer{
		neutral:     make(map[string]bool, len(p.NeutralEmotions)),
		minRunes:    p.MinResidueRunes,
		cjkSuffix:   p.CJKSuffix,
		latinSuffix: p.LatinSuffix,
	}
	for _, e := range p.NeutralEmotions {
		n.neutral[strings.ToLower(e)] = true
	}

	if len(p.Emotions) > 0 {
		words := append([]string(nil), p.Emotions...)
		// 长词优先，避免 "sad" 截断 "sadness"
		sort.Slice(words, func(i, j int) bool { return len(words[i]) > len(words[j]) })
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		n.emotionTagRe = regexp.MustCompile(`(?i)\|\s*(?:` + strings.Join(words, "|") + `)`)
	}
	return n
}

// BuildSearchQuery 去掉景别、时长、情绪标记；剩余过短时退回原文；非中性情绪追加氛围提示
func (n *QueryNormalizer) BuildSearchQuery(text, emotion string) string {
	query := shotTypeTagRe.ReplaceAllString(text, "")
	query = durationTagRe.ReplaceAllString(query, "")
	if n.emotionTagRe != nil {
		query = n.emotionTagRe.ReplaceAllString(query, "")
	}
	query = pipeSeparatorRe.ReplaceAllString(query, " ")
	query = strings.TrimSpace(spaceRunRe.ReplaceAllString(query, " "))

	if utf8.RuneCountInString(query) < n.minRunes {
		query = text
	}

	emotion = strings.TrimSpace(emotion)
	if emotion != "" && !n.IsNeutral(emotion) {
		query = query + " " + n.emotionHint(emotion)
	}
	return query
}

// IsNeutral 是否为中性情绪
func (n *QueryNormalizer) IsNeutral(emotion string) bool {
	return n.neutral[strings.ToLower(strings.TrimSpace(emotion))]
}

func (n *QueryNormalizer) emotionHint(emotion string) string {
	if containsHan(emotion) {
		return emotion + n.cjkSuffix
	}
	if n.latinSuffix == "" {
		return emotion
	}
	return emotion + " " + n.latinSuffix
}

func containsHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}
