package main

import (
	"testing"

	"github.com/bilibili-xiayun/bililive-queue/clients/go/liveq"
)

func TestGuardName(t *testing.T) {
	tests := []struct {
		level int
		want  string
	}{
		{1, "总督"},
		{2, "提督"},
		{3, "舰长"},
		{7, "等级7"},
	}
	for _, tt := range tests {
		if got := guardName(tt.level); got != tt.want {
			t.Errorf("guardName(%d) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := "感谢大家支持这个排队工具的开发"
	got := truncate(s, 8)
	if got != "感谢大家支..." {
		t.Errorf("truncate = %q", got)
	}
	if short := truncate("短", 8); short != "短" {
		t.Errorf("short string changed: %q", short)
	}
}

func TestEventDetail(t *testing.T) {
	tests := []struct {
		name string
		e    liveq.Event
		want string
	}{
		{"danmaku", liveq.Event{Kind: "danmaku", Body: "排队"}, "排队"},
		{"gift", liveq.Event{Kind: "gift", GiftName: "小心心", Num: 5}, "小心心 ×5"},
		{"guard", liveq.Event{Kind: "guard", GuardLevel: 3, Num: 1}, "舰长 ×1月"},
		{"super chat", liveq.Event{Kind: "super_chat", Price: 50, Body: "加油"}, "¥50 加油"},
	}
	for _, tt := range tests {
		if got := eventDetail(tt.e); got != tt.want {
			t.Errorf("%s: eventDetail = %q, want %q", tt.name, got, tt.want)
		}
	}
}
