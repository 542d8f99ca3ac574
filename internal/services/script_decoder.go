// internal/services/script_decoder.go
package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/Corphon/StoryboardMCP/internal/config"
	apperrors "github.com/Corphon/StoryboardMCP/internal/errors"
	"github.com/Corphon/StoryboardMCP/internal/models"
	"github.com/Corphon/StoryboardMCP/internal/utils"
)

// DecodeTier 成功解码时使用的恢复层级
type DecodeTier string

const (
	TierDirect    DecodeTier = "direct"
	TierRepaired  DecodeTier = "repaired"
	TierExtracted DecodeTier = "extracted"
)

const extractedSceneName = "提取的场景"

var (
	fenceRe = regexp.MustCompile("(?i)```(?:json)?[ \t]*")

	missingCommaBracketRes = []*regexp.Regexp{
		regexp.MustCompile(`\}(\s*)\{`),
		regexp.MustCompile(`\](\s*)\[`),
		regexp.MustCompile(`\}(\s*)\[`),
		regexp.MustCompile(`\](\s*)\{`),
	}
	missingCommaBracketReplacements = []string{"},${1}{", "],${1}[", "},${1}[", "],${1}{"}

	bareValueQuoteRe  = regexp.MustCompile(`([0-9]|true|false|null)(\s+)"`)
	adjacentStringsRe = regexp.MustCompile(`"(\s+)"`)
	trailingCommaRe   = regexp.MustCompile(`,(\s*[}\]])`)

	// [景别] 描述 | 情绪 | 时长
	shotMarkerRe = regexp.MustCompile(shotTypePattern + `[^\[]+`)

	leadingNumberRe = regexp.MustCompile(`^\s*([0-9]+(?:\.[0-9]+)?)`)
)

// ScriptDecoder 从语言模型的原始回复中恢复场景/镜头结构
type ScriptDecoder struct {
	profile config.DecoderProfile
	logger  *utils.Logger
}

func NewScriptDecoder(profile config.DecoderProfile) *ScriptDecoder {
	return &ScriptDecoder{profile: profile, logger: utils.GetLogger()}
}

// Decode 逐级尝试恢复；不会返回空的成功结果
func (d *ScriptDecoder) Decode(raw string) (*models.ScriptDocument, DecodeTier, error) {
	parsed, tier, err := d.recover(raw)
	if err != nil {
		return nil, "", err
	}

	doc := d.normalize(parsed)
	if err := d.validate(doc); err != nil {
		d.logger.Warn("decoded script failed validation", map[string]interface{}{
			"tier":  string(tier),
			"error": err.Error(),
		})
		return nil, tier, err
	}

	d.logger.Info("script decoded", map[string]interface{}{
		"tier":   string(tier),
		"scenes": len(doc.Scenes),
		"blocks": len(doc.Blocks()),
	})
	return doc, tier, nil
}

func (d *ScriptDecoder) recover(raw string) (map[string]interface{}, DecodeTier, error) {
	slice, ok := extractObject(raw)
	if ok {
		if parsed, err := parseObject(slice); err == nil {
			return parsed, TierDirect, nil
		}

		repaired := balanceBrackets(repairStructure(rewriteStringLiterals(slice)))
		parsed, err := parseObject(repaired)
		if err == nil {
			return parsed, TierRepaired, nil
		}
		d.logger.Debug("repaired text still unparsable", map[string]interface{}{"error": err.Error()})
	}

	if blocks := d.extractShotMarkers(raw); len(blocks) > 0 {
		return map[string]interface{}{
			"scenes": []interface{}{map[string]interface{}{
				"id":     "scene_1",
				"name":   extractedSceneName,
				"blocks": blocks,
			}},
		}, TierExtracted, nil
	}

	return nil, "", apperrors.NewDecodeSyntaxError("no recoverable scene structure in model output", nil)
}

// extractObject 去掉代码围栏，截取第一个 { 到最后一个 }
func extractObject(raw string) (string, bool) {
	s := fenceRe.ReplaceAllString(raw, "")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return s[start : end+1], true
}

func parseObject(s string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("not an object")
	}
	return out, nil
}

type scanState int

const (
	scanOutside scanState = iota
	scanInString
	scanEscape // 字符串内，上一个字符是未消费的反斜杠
)

const validEscapes = `"\/bfnrtu`

// rewriteStringLiterals 规范化字符串字面量内的控制字符与非法转义
//
//	state      input        output            next
//	outside    "            "                 inString
//	outside    any          same              outside
//	inString   "            "                 outside
//	inString   \            (held)            escape
//	inString   \n / \t      \\n / \\t         inString
//	inString   \r           (dropped)         inString
//	inString   other < 32   space             inString
//	escape     valid target \ + char          inString
//	escape     other        char (as above)   inString
func rewriteStringLiterals(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	state := scanOutside
	for _, r := range s {
		switch state {
		case scanOutside:
			b.WriteRune(r)
			if r == '"' {
				state = scanInString
			}
		case scanInString:
			switch r {
			case '"':
				b.WriteRune(r)
				state = scanOutside
			case '\\':
				state = scanEscape
			default:
				writeStringRune(&b, r)
			}
		case scanEscape:
			if strings.ContainsRune(validEscapes, r) {
				b.WriteRune('\\')
				b.WriteRune(r)
			} else {
				writeStringRune(&b, r)
			}
			state = scanInString
		}
	}
	return b.String()
}

func writeStringRune(b *strings.Builder, r rune) {
	switch {
	case r == '\n':
		b.WriteString(`\n`)
	case r == '\r':
	case r == '\t':
		b.WriteString(`\t`)
	case r < 32:
		b.WriteByte(' ')
	default:
		b.WriteRune(r)
	}
}

// repairStructure 补逗号、去尾随逗号，顺序固定
func repairStructure(s string) string {
	for i, re := range missingCommaBracketRes {
		s = re.ReplaceAllString(s, missingCommaBracketReplacements[i])
	}
	s = bareValueQuoteRe.ReplaceAllString(s, "${1},${2}\"")
	s = adjacentStringsRe.ReplaceAllString(s, "\",${1}\"")
	s = trailingCommaRe.ReplaceAllString(s, "${1}")
	return s
}

// balanceBrackets 末尾补 }，缺少的 ] 插在最后一个 } 之前
func balanceBrackets(s string) string {
	braces, brackets := bracketDebt(s)
	if braces > 0 {
		s += strings.Repeat("}", braces)
	}
	if brackets > 0 {
		closers := strings.Repeat("]", brackets)
		if last := strings.LastIndex(s, "}"); last > 0 {
			s = s[:last] + closers + s[last:]
		} else {
			s += closers
		}
	}
	return s
}

// bracketDebt 统计字符串字面量之外未闭合的 { 与 [ 数量
func bracketDebt(s string) (braces, brackets int) {
	state := scanOutside
	for _, r := range s {
		switch state {
		case scanOutside:
			switch r {
			case '"':
				state = scanInString
			case '{':
				braces++
			case '}':
				braces--
			case '[':
				brackets++
			case ']':
				brackets--
			}
		case scanInString:
			if r == '"' {
				state = scanOutside
			} else if r == '\\' {
				state = scanEscape
			}
		case scanEscape:
			state = scanInString
		}
	}
	return braces, brackets
}

// extractShotMarkers 在原始文本中按镜头标记逐段提取
func (d *ScriptDecoder) extractShotMarkers(raw string) []interface{} {
	matches := shotMarkerRe.FindAllString(raw, -1)
	blocks := make([]interface{}, 0, len(matches))
	for i, m := range matches {
		m = joinWrappedFields(m)
		if cut := strings.IndexByte(m, '"'); cut > 0 {
			m = m[:cut]
		}
		parts := strings.Split(m, "|")
		for j := range parts {
			parts[j] = strings.TrimSpace(parts[j])
		}

		block := map[string]interface{}{
			"id":                fmt.Sprintf("block_extracted_%d", i),
			"scene_id":          "scene_1",
			"scene":             extractedSceneName,
			"text":              parts[0],
			"emotion":           d.profile.DefaultEmotion,
			"expected_duration": d.profile.ExtractedDuration,
		}
		if len(parts) > 1 && parts[1] != "" {
			block["emotion"] = parts[1]
		}
		if len(parts) > 2 {
			if secs := parseSeconds(parts[2]); secs > 0 {
				block["expected_duration"] = secs
			}
		}
		blocks = append(blocks, block)
	}
	return blocks
}

// joinWrappedFields 保留换行到下一行的 "| 情绪 | 时长" 字段，其余后续行丢弃
func joinWrappedFields(segment string) string {
	lines := strings.Split(segment, "\n")
	out := strings.TrimSpace(lines[0])
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "|") && !strings.HasSuffix(out, "|") {
			break
		}
		out += " " + line
	}
	return out
}

// parseSeconds 接受数字或 "2.5s"、"3秒" 这类字符串，无法识别时返回 0
func parseSeconds(v interface{}) float64 {
	if v == nil {
		return 0
	}
	if f, err := cast.ToFloat64E(v); err == nil {
		return f
	}
	if m := leadingNumberRe.FindStringSubmatch(cast.ToString(v)); m != nil {
		f, _ := strconv.ParseFloat(m[1], 64)
		return f
	}
	return 0
}

func (d *ScriptDecoder) normalize(parsed map[string]interface{}) *models.ScriptDocument {
	doc := &models.ScriptDocument{}
	rawScenes, _ := parsed["scenes"].([]interface{})
	seen := make(map[string]int)

	for si, rs := range rawScenes {
		sceneMap, ok := rs.(map[string]interface{})
		if !ok {
			continue
		}
		scene := models.ScriptScene{
			ID:   strings.TrimSpace(cast.ToString(sceneMap["id"])),
			Name: strings.TrimSpace(cast.ToString(sceneMap["name"])),
		}
		if scene.ID == "" {
			scene.ID = fmt.Sprintf("scene_%d", si+1)
		}
		if scene.Name == "" {
			scene.Name = "未命名场景"
		}

		rawBlocks, _ := sceneMap["blocks"].([]interface{})
		for bi, rb := range rawBlocks {
			blockMap, ok := rb.(map[string]interface{})
			if !ok {
				continue
			}
			block := models.ScriptBlock{
				ID:      strings.TrimSpace(cast.ToString(blockMap["id"])),
				SceneID: scene.ID,
				Scene:   strings.TrimSpace(cast.ToString(blockMap["scene"])),
				Text:    strings.TrimSpace(cast.ToString(blockMap["text"])),
				Emotion: strings.TrimSpace(cast.ToString(blockMap["emotion"])),
			}
			if block.ID == "" {
				block.ID = fmt.Sprintf("block_%s_%d", scene.ID, bi)
			}
			if n := seen[block.ID]; n > 0 {
				seen[block.ID] = n + 1
				block.ID = fmt.Sprintf("%s_%d", block.ID, n)
			} else {
				seen[block.ID] = 1
			}
			if block.Scene == "" {
				block.Scene = scene.Name
			}
			if block.Emotion == "" {
				block.Emotion = d.profile.DefaultEmotion
			}

			dur := parseSeconds(blockMap["expected_duration"])
			if dur <= 0 {
				dur = parseSeconds(blockMap["duration"])
			}
			if dur <= 0 {
				dur = d.profile.DefaultDuration
			}
			block.ExpectedDuration = dur

			scene.Blocks = append(scene.Blocks, block)
		}
		doc.Scenes = append(doc.Scenes, scene)
	}
	return doc
}

func (d *ScriptDecoder) validate(doc *models.ScriptDocument) error {
	if len(doc.Scenes) == 0 {
		return apperrors.NewDecodeValidationError("model output contains no scenes", nil)
	}
	if len(doc.Blocks()) == 0 {
		return apperrors.NewDecodeValidationError("model output contains no shots", nil)
	}

	var short []apperrors.SceneShortfall
	for _, s := range doc.Scenes {
		if len(s.Blocks) < d.profile.MinShotsPerScene {
			short = append(short, apperrors.SceneShortfall{Name: s.Name, Count: len(s.Blocks)})
		}
	}
	if len(short) > 0 {
		return apperrors.NewDecodeValidationError(
			fmt.Sprintf("scenes need at least %d shots", d.profile.MinShotsPerScene), short)
	}
	return nil
}
