package bilibili

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var (
	roomURLPattern  = regexp.MustCompile(`live\.bilibili\.com/(\d+)`)
	trailingPattern = regexp.MustCompile(`/(\d+)(?:[?#].*)?$`)
	anyNumber       = regexp.MustCompile(`(\d+)`)
)

// ErrNoRoomID means the input carried no recognizable room number.
var ErrNoRoomID = errors.New("no room id in input")

// ExtractRoomID pulls a room number out of whatever the operator pasted: a
// bare number, a live.bilibili.com URL with or without query and fragment,
// or failing that the last number anywhere in the string.
func ExtractRoomID(input string) (int64, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, ErrNoRoomID
	}

	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id, nil
	}
	if m := roomURLPattern.FindStringSubmatch(s); m != nil {
		return strconv.ParseInt(m[1], 10, 64)
	}
	if m := trailingPattern.FindStringSubmatch(s); m != nil {
		return strconv.ParseInt(m[1], 10, 64)
	}
	if all := anyNumber.FindAllString(s, -1); len(all) > 0 {
		return strconv.ParseInt(all[len(all)-1], 10, 64)
	}
	return 0, ErrNoRoomID
}

var testModeKeywords = map[string]struct{}{
	"test":    {},
	"testing": {},
	"测试":      {},
	"本地测试":    {},
}

// IsTestModeInput reports whether the room input asks for test mode
// instead of a live connection.
func IsTestModeInput(input string) bool {
	_, ok := testModeKeywords[strings.ToLower(strings.TrimSpace(input))]
	return ok
}
