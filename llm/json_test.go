package llm

import "testing"

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "fenced block",
			raw:  "好的，更新如下：\n```json\n{\"a\": 1}\n```\n希望有帮助",
			want: `{"a": 1}`,
		},
		{
			name: "unterminated fence",
			raw:  "```json\n{\"a\": 1}",
			want: `{"a": 1}`,
		},
		{
			name: "bare object with prose around it",
			raw:  "这是结果 {\"a\": {\"b\": 2}} 请查收",
			want: `{"a": {"b": 2}}`,
		},
		{
			name: "plain object",
			raw:  `{"a": 1}`,
			want: `{"a": 1}`,
		},
		{
			name:    "no object at all",
			raw:     "抱歉，我无法完成这个请求",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ExtractJSON(%q) = %q, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
