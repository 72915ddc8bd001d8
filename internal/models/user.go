package models

// UserInfo represents the logged-in Bilibili account.
type UserInfo struct {
	Uname string `json:"uname"`
	UID   int64  `json:"uid"`
	Face  string `json:"face,omitempty"`
	Level int    `json:"level,omitempty"`
}
