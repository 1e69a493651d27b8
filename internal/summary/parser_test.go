package summary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelOutputReadsFencedJSON(t *testing.T) {
	text := "前置きの説明\n```json\n{\"summary_long\": \"首相が新政策を発表した。\", \"diff_points\": [\"首相\", \"新政策\"]}\n```\n後書き"

	result := ParseModelOutput(text)
	assert.Equal(t, "首相が新政策を発表した。", result.SummaryLong)
	assert.Equal(t, []string{"首相", "新政策"}, result.DiffPoints)
}

func TestParseModelOutputScansBalancedBraces(t *testing.T) {
	text := `The model says: {"summary_long": "経済指標が予想を上回った。", "diff_points": []} done.`

	result := ParseModelOutput(text)
	assert.Equal(t, "経済指標が予想を上回った。", result.SummaryLong)
	assert.Empty(t, result.DiffPoints)
}

func TestParseModelOutputAcceptsSummaryAlias(t *testing.T) {
	result := ParseModelOutput(`{"summary": "会談が行われた。"}`)
	assert.Equal(t, "会談が行われた。", result.SummaryLong)
	assert.Empty(t, result.DiffPoints)
}

func TestParseModelOutputDiffPointsAsString(t *testing.T) {
	result := ParseModelOutput(`{"summary_long": "要約文。", "diff_points": "- 東京\n- 2026"}`)
	assert.Equal(t, []string{"東京", "2026"}, result.DiffPoints)
}

func TestParseModelOutputRejectsBadDiffPointsType(t *testing.T) {
	// The only JSON candidate has an invalid schema, so parsing falls through
	// to the heuristic recovery.
	result := ParseModelOutput(`{"summary_long": "要約文。", "diff_points": 42}`)
	assert.NotEqual(t, []string{"42"}, result.DiffPoints)
}

func TestParseModelOutputRecoversMarkdownSections(t *testing.T) {
	text := strings.Join([]string{
		"**Summary_long**: 大統領が関税の引き上げを発表した。",
		"議会は来週採決を行う見通し。",
		"",
		"**diff_points**:",
		"- 関税",
		"- 来週",
	}, "\n")

	result := ParseModelOutput(text)
	assert.Contains(t, result.SummaryLong, "大統領が関税の引き上げを発表した。")
	assert.Contains(t, result.SummaryLong, "議会は来週採決を行う見通し。")
	assert.Equal(t, []string{"関税", "来週"}, result.DiffPoints)
}

func TestParseModelOutputRecoversPlainSections(t *testing.T) {
	text := "summary_long: 各国の首脳が停戦合意に署名した。\ndiff_points: \n- 停戦合意\n"

	result := ParseModelOutput(text)
	assert.Equal(t, "各国の首脳が停戦合意に署名した。", result.SummaryLong)
	assert.Equal(t, []string{"停戦合意"}, result.DiffPoints)
}

func TestParseModelOutputDropsNonJapaneseLines(t *testing.T) {
	text := `{"summary_long": "Here is the summary.\n首脳会談が開催された。\nEnd of output."}`

	result := ParseModelOutput(text)
	assert.Equal(t, "首脳会談が開催された。", result.SummaryLong)
}

func TestParseModelOutputDedupesRepeatedLines(t *testing.T) {
	text := `{"summary_long": "同じ行が続く。\n同じ行が続く。\n別の行もある。"}`

	result := ParseModelOutput(text)
	assert.Equal(t, "同じ行が続く。\n別の行もある。", result.SummaryLong)
}

func TestParseModelOutputPlainProseFallsBackToHead(t *testing.T) {
	prose := "記者会見で詳細が説明された。"
	result := ParseModelOutput(prose)
	assert.Equal(t, prose, result.SummaryLong)
	assert.Empty(t, result.DiffPoints)
}

func TestParseModelOutputEmptyInput(t *testing.T) {
	result := ParseModelOutput("")
	assert.Equal(t, "", result.SummaryLong)
	assert.Equal(t, []string{}, result.DiffPoints)
}

func TestExtractJapaneseTextTrimsLeadingForeignChars(t *testing.T) {
	assert.Equal(t, "要約本文です。", ExtractJapaneseText("Answer: 要約本文です。"))
	assert.Equal(t, "", ExtractJapaneseText("english only text"))
	assert.Equal(t, "一行目です。\n二行目です。", ExtractJapaneseText("note 一行目です。\nskip me\nprefix 二行目です。"))
}

func TestFinalizeForStoreRewritesForeignSummary(t *testing.T) {
	finalized := FinalizeForStore(Result{SummaryLong: "An English-only summary."})
	assert.Equal(t, FallbackMessage, finalized.SummaryLong)
	require.NotNil(t, finalized.DiffPoints)
}

func TestFinalizeForStoreKeepsJapaneseSummary(t *testing.T) {
	finalized := FinalizeForStore(Result{SummaryLong: "Intro: 日本語の要約。", DiffPoints: []string{"要約"}})
	assert.Equal(t, "日本語の要約。", finalized.SummaryLong)
	assert.Equal(t, []string{"要約"}, finalized.DiffPoints)
}

func TestFinalizeForStoreLeavesEmptySummaryEmpty(t *testing.T) {
	finalized := FinalizeForStore(Result{})
	assert.Equal(t, "", finalized.SummaryLong)
}
