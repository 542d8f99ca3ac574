package services

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/Corphon/StoryboardMCP/internal/config"
	apperrors "github.com/Corphon/StoryboardMCP/internal/errors"
	"github.com/Corphon/StoryboardMCP/internal/models"
)

func newTestDecoder() *ScriptDecoder {
	return NewScriptDecoder(config.DefaultProfile().Decoder)
}

const wellFormedScript = `{"scenes":[{"id":"scene_1","name":"INT. 办公室 - 夜","blocks":[
{"id":"b1","scene_id":"scene_1","scene":"INT. 办公室 - 夜","text":"[全景] 办公室内 | 平静 | 3.0s","emotion":"平静","expected_duration":3},
{"id":"b2","scene_id":"scene_1","scene":"INT. 办公室 - 夜","text":"[特写] 手指敲击键盘","emotion":"紧张","expected_duration":2},
{"id":"b3","scene_id":"scene_1","scene":"INT. 办公室 - 夜","text":"[近景] 额头渗出汗珠","emotion":"焦虑","expected_duration":2.5}]}]}`

func TestDecodeWellFormedMatchesStandardParser(t *testing.T) {
	doc, tier, err := newTestDecoder().Decode(wellFormedScript)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if tier != TierDirect {
		t.Fatalf("tier = %s, want direct", tier)
	}

	var want models.ScriptDocument
	if err := json.Unmarshal([]byte(wellFormedScript), &want); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(*doc, want) {
		t.Fatalf("decoded document differs from encoding/json:\n got %+v\nwant %+v", *doc, want)
	}
}

func TestDecodeStripsFencesAndCommentary(t *testing.T) {
	raw := "好的，以下是分镜：\n```json\n" + wellFormedScript + "\n```\n希望有帮助。"
	doc, tier, err := newTestDecoder().Decode(raw)
	if err != nil || tier != TierDirect {
		t.Fatalf("Decode: tier=%s err=%v", tier, err)
	}
	if len(doc.Blocks()) != 3 {
		t.Fatalf("blocks = %d", len(doc.Blocks()))
	}
}

func TestDecodeRawNewlinesInsideStrings(t *testing.T) {
	raw := `{"scenes":[{"id":"s","name":"雨夜","blocks":[
{"id":"a","text":"[全景] 街道
雨水倾盆","emotion":"紧张","expected_duration":3},
{"id":"b","text":"[中景]	路灯","emotion":"紧张","expected_duration":2},
{"id":"c","text":"[特写] 水坑\q倒影","emotion":"平静","expected_duration":2}]}]}`

	if _, err := parseObject(raw); err == nil {
		t.Fatalf("direct parse unexpectedly succeeded")
	}

	doc, tier, err := newTestDecoder().Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if tier != TierRepaired {
		t.Fatalf("tier = %s, want repaired", tier)
	}
	blocks := doc.Blocks()
	if blocks[0].Text != "[全景] 街道\n雨水倾盆" {
		t.Fatalf("newline not preserved as content: %q", blocks[0].Text)
	}
	if blocks[1].Text != "[中景]\t路灯" {
		t.Fatalf("tab not preserved: %q", blocks[1].Text)
	}
	if blocks[2].Text != "[特写] 水坑q倒影" {
		t.Fatalf("invalid escape not repaired: %q", blocks[2].Text)
	}
}

func TestRewriteStringLiteralsTransitions(t *testing.T) {
	cases := []struct{ in, want string }{
		{"{\"a\":\"x\ny\"}", `{"a":"x\ny"}`},
		{"{\"a\":\"x\r\ny\"}", `{"a":"x\ny"}`},
		{"{\"a\":\"x\x01y\"}", `{"a":"x y"}`},
		{`{"a":"x\"y"}`, `{"a":"x\"y"}`},
		{`{"a":"x\dy"}`, `{"a":"xdy"}`},
		{"{\n\"a\":1}", "{\n\"a\":1}"},
	}
	for _, c := range cases {
		if got := rewriteStringLiterals(c.in); got != c.want {
			t.Fatalf("rewrite(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRepairStructure(t *testing.T) {
	in := `{"scenes":[{"id":"a" "name":"n","n":1 "x":true "y":null "z":[1,2,],}{"k":[]}[]]}`
	got := repairStructure(in)
	want := `{"scenes":[{"id":"a", "name":"n","n":1, "x":true, "y":null, "z":[1,2]},{"k":[]},[]]}`
	if got != want {
		t.Fatalf("repairStructure:\n got %s\nwant %s", got, want)
	}
}

func TestBalanceBrackets(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"balanced", `{"a":[1]}`},
		{"missing one bracket", `{"a":[1}`},
		{"missing brace and brackets", `{"a":[{"b":[1}`},
		{"missing braces only", `{"a":{"b":1`},
		{"brackets in strings ignored", `{"a":"[[{","b":[1}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, missingBrackets := bracketDebt(c.in)
			out := balanceBrackets(c.in)
			braces, brackets := bracketDebt(out)
			if braces != 0 || brackets != 0 {
				t.Fatalf("imbalance after balancing %q: braces=%d brackets=%d", out, braces, brackets)
			}
			if missingBrackets > 0 {
				lastBrace := strings.LastIndex(out, "}")
				inserted := strings.Repeat("]", missingBrackets)
				if !strings.HasSuffix(out[:lastBrace], inserted) {
					t.Fatalf("inserted brackets must precede the final brace: %q", out)
				}
			}
		})
	}
}

func TestDecodeTruncatedWithoutMarkersFails(t *testing.T) {
	raw := `{"scenes":[{"id":"s1","name":"开场","blocks":[{"id":"a","text":"x","emotion":"平静","expected_duration":1},{"id":"b","text":"y","emotion":"平静","expected_duration":1},{"id":"c","text":"z","emotion":"平静","expected_duration":1}`
	_, _, err := newTestDecoder().Decode(raw)
	// 截断在数组中间：计数补齐后仍无法解析，且没有镜头标记
	if !apperrors.IsDecodeSyntaxError(err) {
		t.Fatalf("want syntax failure, got %v", err)
	}
}

func TestDecodeFallsBackToShotMarkers(t *testing.T) {
	raw := `分镜如下（格式有误）：
1. [全景] 办公室内，人来人往 | 平静 | 3.0s
2. [中景] 王晓盯着屏幕 | 焦虑 | 3.5秒
3. [特写] 手指快速敲打键盘 | 紧张
4. [close-up] the screen flickers | fear | 2s`

	doc, tier, err := newTestDecoder().Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if tier != TierExtracted {
		t.Fatalf("tier = %s", tier)
	}
	if len(doc.Scenes) != 1 || doc.Scenes[0].Name != extractedSceneName {
		t.Fatalf("want one synthetic scene, got %+v", doc.Scenes)
	}
	blocks := doc.Blocks()
	if len(blocks) != 4 {
		t.Fatalf("blocks = %d", len(blocks))
	}
	if blocks[0].Text != "[全景] 办公室内，人来人往" || blocks[0].Emotion != "平静" || blocks[0].ExpectedDuration != 3.0 {
		t.Fatalf("block 0 = %+v", blocks[0])
	}
	if blocks[1].ExpectedDuration != 3.5 {
		t.Fatalf("duration with 秒 suffix = %v", blocks[1].ExpectedDuration)
	}
	if blocks[2].ExpectedDuration != 3.0 {
		t.Fatalf("missing duration should default to 3.0, got %v", blocks[2].ExpectedDuration)
	}
	if blocks[3].Emotion != "fear" || blocks[3].ExpectedDuration != 2 {
		t.Fatalf("english marker = %+v", blocks[3])
	}
	if blocks[0].ID != "block_extracted_0" || blocks[0].SceneID != "scene_1" {
		t.Fatalf("ids = %s/%s", blocks[0].ID, blocks[0].SceneID)
	}
}

func TestDecodeShotMarkersWithWrappedFields(t *testing.T) {
	raw := `分镜：
[特写] 手指敲击键盘
  | 紧张 | 2s
[全景] 城市天际线 |
  平静 | 4秒
[中景] 她转身离开
以上是全部镜头。`

	doc, tier, err := newTestDecoder().Decode(raw)
	if err != nil || tier != TierExtracted {
		t.Fatalf("Decode: tier=%s err=%v", tier, err)
	}
	blocks := doc.Blocks()
	if len(blocks) != 3 {
		t.Fatalf("blocks = %d", len(blocks))
	}
	if blocks[0].Text != "[特写] 手指敲击键盘" || blocks[0].Emotion != "紧张" || blocks[0].ExpectedDuration != 2 {
		t.Fatalf("block 0 = %+v", blocks[0])
	}
	if blocks[1].Emotion != "平静" || blocks[1].ExpectedDuration != 4 {
		t.Fatalf("block 1 = %+v", blocks[1])
	}
	if blocks[2].Text != "[中景] 她转身离开" || blocks[2].ExpectedDuration != 3.0 {
		t.Fatalf("trailing prose leaked into block 2: %+v", blocks[2])
	}
}

func TestDecodeNoMarkersIsSyntaxFailure(t *testing.T) {
	for _, raw := range []string{
		"",
		"抱歉，我无法完成这个请求。",
		`{"scenes": [ {"name": "broken" "blocks": [ {"text": 'x'`,
	} {
		doc, _, err := newTestDecoder().Decode(raw)
		if doc != nil {
			t.Fatalf("Decode(%q) returned a document", raw)
		}
		if !apperrors.IsDecodeSyntaxError(err) {
			t.Fatalf("Decode(%q) err = %v, want syntax failure", raw, err)
		}
	}
}

func TestDecodeValidationFailures(t *testing.T) {
	twoShots := `{"scenes":[{"id":"s","name":"天台","blocks":[{"text":"[全景] a"},{"text":"[特写] b"}]}]}`
	_, _, err := newTestDecoder().Decode(twoShots)
	if !apperrors.IsDecodeValidationError(err) {
		t.Fatalf("want validation failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "天台") || !strings.Contains(err.Error(), "2") {
		t.Fatalf("error should name the scene and count: %v", err)
	}

	for _, raw := range []string{`{"scenes":[]}`, `{"result":"ok"}`, `{"scenes":[{"name":"空","blocks":[]}]}`} {
		_, _, err := newTestDecoder().Decode(raw)
		if !apperrors.IsDecodeValidationError(err) {
			t.Fatalf("Decode(%s) err = %v, want validation failure", raw, err)
		}
	}
}

func TestDecodeFieldDefaults(t *testing.T) {
	raw := `{"scenes":[{"name":"走廊","blocks":[
{"text":"[全景] a","expected_duration":"2.5s"},
{"id":"x","text":"[中景] b","emotion":"","expected_duration":0},
{"id":"x","text":"[特写] c","duration":"4秒"}]}]}`

	doc, _, err := newTestDecoder().Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	scene := doc.Scenes[0]
	if scene.ID != "scene_1" {
		t.Fatalf("scene id = %q", scene.ID)
	}
	b := scene.Blocks
	if b[0].ID != "block_scene_1_0" || b[0].Scene != "走廊" || b[0].SceneID != "scene_1" {
		t.Fatalf("block 0 defaults = %+v", b[0])
	}
	if b[0].ExpectedDuration != 2.5 || b[0].Emotion != "平静" {
		t.Fatalf("block 0 coercion = %+v", b[0])
	}
	if b[1].ExpectedDuration != 5.0 {
		t.Fatalf("non-positive duration should default to 5.0, got %v", b[1].ExpectedDuration)
	}
	if b[2].ID == b[1].ID {
		t.Fatalf("duplicate block ids not disambiguated")
	}
	if b[2].ExpectedDuration != 4 {
		t.Fatalf("duration alias = %v", b[2].ExpectedDuration)
	}
}
