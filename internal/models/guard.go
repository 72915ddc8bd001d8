package models

import "fmt"

// Guard levels as carried in GUARD_BUY events. Lower numbers outrank
// higher ones.
const (
	GuardGovernor = 1 // 总督
	GuardAdmiral  = 2 // 提督
	GuardCaptain  = 3 // 舰长
)

var guardLevelNames = map[int]string{
	GuardGovernor: "总督",
	GuardAdmiral:  "提督",
	GuardCaptain:  "舰长",
}

// GuardLevelName returns the Chinese title for a guard level, or 等级N for
// levels outside the known set.
func GuardLevelName(level int) string {
	if name, ok := guardLevelNames[level]; ok {
		return name
	}
	return fmt.Sprintf("等级%d", level)
}
