// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService は上流の計算結果に由来するテキスト
// （モーメントのinsight_text、ナッジのタイトル・本文）をサニタイズし、
// マークアップ混入によるXSSリスクからUIを保護する。
// これらのフィールドはプレーンテキスト契約のため、
// bluemondayのStrictPolicyで全タグを除去する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はテキストサニタイズ機能のインターフェースを定義する。
// モーメント・ナッジの永続化前に使用される。
type TextSanitizerService interface {
	// Sanitize は入力から全HTMLタグを除去したプレーンテキストを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicy（全タグ除去）を使用する。insight_textやナッジ本文は
// プレーンテキストであり、許可すべきマークアップは存在しない。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力から全HTMLタグを除去したプレーンテキストを返す。
// タグ除去後の前後空白もトリムする。
func (s *textSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}

// compile-time interface check
var _ TextSanitizerService = (*textSanitizer)(nil)
