// Package roster reads and writes the name list CSV. Each row carries one
// cell in the historical format: a bare name means one play, "名字（3"
// (or "名字(3)" and friends) means three. Files are edited by hand and by
// Excel, so parsing is deliberately forgiving.
package roster

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bilibili-xiayun/bililive-queue/internal/models"
)

var bracketPairs = [][2]string{{"(", ")"}, {"（", "）"}}

// ParseNameCount splits a roster cell into name and count. Closed bracket
// forms ("名字(3)", "名字（3）") are tried first, then the open form the
// tool has always written ("名字（3"). The last opening bracket wins, so
// names containing brackets still parse. Anything unparseable is a name
// with count 1.
func ParseNameCount(cell string) (string, int) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return "", 1
	}

	for _, pair := range bracketPairs {
		open := strings.LastIndex(cell, pair[0])
		if open < 0 {
			continue
		}
		close := strings.Index(cell[open:], pair[1])
		if close < 0 {
			continue
		}
		count, err := strconv.Atoi(strings.TrimSpace(cell[open+len(pair[0]) : open+close]))
		if err != nil || count <= 0 {
			continue
		}
		if name := strings.TrimSpace(cell[:open]); name != "" {
			return name, count
		}
	}

	for _, pair := range bracketPairs {
		open := strings.LastIndex(cell, pair[0])
		if open < 0 {
			continue
		}
		count, err := strconv.Atoi(strings.TrimSpace(cell[open+len(pair[0]):]))
		if err != nil || count <= 0 {
			continue
		}
		if name := strings.TrimSpace(cell[:open]); name != "" {
			return name, count
		}
	}

	return cell, 1
}

// FormatNameCount renders a roster cell. Counts above one use the open
// Chinese bracket form the historical files carry.
func FormatNameCount(name string, count int) string {
	if count <= 1 {
		return name
	}
	return fmt.Sprintf("%s（%d", name, count)
}

// Load reads the roster file. Index is the 1-based physical row number, so
// blank rows still advance it and items keep their identity across
// reloads of an unchanged file.
func Load(path string) ([]*models.RosterItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var items []*models.RosterItem
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	row := 0
	for scanner.Scan() {
		row++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		// Rows are parsed one line at a time so the physical row number
		// survives the CSV layer skipping blanks.
		r := csv.NewReader(strings.NewReader(line))
		r.FieldsPerRecord = -1
		r.LazyQuotes = true
		record, err := r.Read()
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("roster row %d: %w", row, err)
		}
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" {
			continue
		}

		name, count := ParseNameCount(record[0])
		if name == "" {
			continue
		}
		items = append(items, &models.RosterItem{Name: name, Count: count, Index: row})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Save writes the roster, dropping items with no plays left and ordering
// by Index. The file is fsynced so a crash right after a deduction cannot
// lose the write. When backup is set and the file already exists, the old
// content is copied aside first.
func Save(path string, items []*models.RosterItem, backup bool) error {
	if backup {
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, BackupPath(path)); err != nil {
				return fmt.Errorf("backup roster: %w", err)
			}
		}
	}

	keep := make([]*models.RosterItem, 0, len(items))
	for _, it := range items {
		if it.Count > 0 {
			keep = append(keep, it)
		}
	}
	sort.SliceStable(keep, func(i, j int) bool { return keep[i].Index < keep[j].Index })

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, it := range keep {
		if err := w.Write([]string{FormatNameCount(it.Name, it.Count)}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return f.Close()
}

// AppendGuard appends a buyer row to a day's 新舰长 CSV, writing the
// 用户名 header when the file is new.
func AppendGuard(path, username string, count int) error {
	_, statErr := os.Stat(path)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if os.IsNotExist(statErr) {
		if err := w.Write([]string{"用户名"}); err != nil {
			return err
		}
	}
	if err := w.Write([]string{FormatNameCount(username, count)}); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// BackupPath returns the timestamped sibling path used for roster backups.
func BackupPath(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s_backup_%s%s", base, time.Now().Format("20060102_150405"), ext)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
