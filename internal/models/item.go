package models

// RosterItem represents one row of the name list. Index is the 1-based
// position the row had when the list was loaded and is the item's identity
// for queue bookkeeping; Count is how many plays the name has left.
type RosterItem struct {
	Name       string `json:"name"`
	Count      int    `json:"count"`
	Index      int    `json:"index"`
	IsCutline  bool   `json:"is_cutline"`
	InQueue    bool   `json:"in_queue"`
	InBoarding bool   `json:"in_boarding"`
}

// Clone returns a copy of the item.
func (it *RosterItem) Clone() *RosterItem {
	c := *it
	return &c
}
