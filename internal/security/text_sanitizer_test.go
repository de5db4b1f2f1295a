package security

import "testing"

func TestSanitize_RemovesAllTags(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストは不変", "今月の外食費は15%増えました", "今月の外食費は15%増えました"},
		{"scriptタグ除去", `<script>alert("x")</script>支出が増加`, "支出が増加"},
		{"装飾タグも除去", "支出が<strong>大幅に</strong>増加", "支出が大幅に増加"},
		{"イベント属性付きタグ除去", `<img src=x onerror="alert(1)">増加傾向`, "増加傾向"},
		{"空文字列", "", ""},
		{"前後空白のトリム", "  増加傾向  ", "増加傾向"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	s := NewTextSanitizer()

	input := `<p>外食費が<em>増加</em>しています</p>`
	once := s.Sanitize(input)
	twice := s.Sanitize(once)

	if once != twice {
		t.Errorf("サニタイズは冪等であるべきです: once=%q twice=%q", once, twice)
	}
}
