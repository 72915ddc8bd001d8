package bilibili

import "testing"

func TestExtractRoomID(t *testing.T) {
	tests := []struct {
		input string
		want  int64
		ok    bool
	}{
		{"13355", 13355, true},
		{" 13355 ", 13355, true},
		{"https://live.bilibili.com/13355", 13355, true},
		{"https://live.bilibili.com/13355?spm_id_from=333", 13355, true},
		{"https://live.bilibili.com/13355#live", 13355, true},
		{"live.bilibili.com/13355/", 13355, true},
		{"直播间 13355 快来", 13355, true},
		{"房间1号其实是13355", 13355, true}, // last number wins
		{"no digits here", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, err := ExtractRoomID(tt.input)
		if tt.ok && (err != nil || got != tt.want) {
			t.Errorf("ExtractRoomID(%q) = (%d, %v), want %d", tt.input, got, err, tt.want)
		}
		if !tt.ok && err == nil {
			t.Errorf("ExtractRoomID(%q) = %d, want error", tt.input, got)
		}
	}
}

func TestIsTestModeInput(t *testing.T) {
	for _, s := range []string{"test", "TEST", " Testing ", "测试", "本地测试"} {
		if !IsTestModeInput(s) {
			t.Errorf("IsTestModeInput(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"13355", "testroom", "测试一下", ""} {
		if IsTestModeInput(s) {
			t.Errorf("IsTestModeInput(%q) = true, want false", s)
		}
	}
}
