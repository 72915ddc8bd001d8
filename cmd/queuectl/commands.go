package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/pflag"

	"github.com/bilibili-xiayun/bililive-queue/clients/go/liveq"
)

func cmdStatus(c *liveq.Client, asJSON bool) error {
	health, err := c.Health()
	if err != nil {
		return err
	}
	stats, err := c.GetStats()
	if err != nil {
		return err
	}

	if asJSON {
		printJSON(map[string]any{"health": health, "stats": stats})
		return nil
	}

	fmt.Printf("Server:   %s (v%s), up %s\n", colorStatus(health.Status), health.Version, stats.Uptime)
	fmt.Printf("Monitor:  %s", colorStatus(stats.Monitor.Status))
	if stats.Monitor.Room != "" {
		fmt.Printf(", room %s", stats.Monitor.Room)
	}
	if stats.Monitor.Popularity > 0 {
		fmt.Printf(" (popularity %d)", stats.Monitor.Popularity)
	}
	fmt.Println()

	queueState := "closed"
	if stats.Queue.QueueStarted {
		queueState = text.FgGreen.Sprint("open")
	}
	fmt.Printf("Queue:    %s, %d waiting, %d cuts, %d boarding, %d of %d names available\n",
		queueState, stats.Queue.QueueCount, stats.Queue.CutlineCount,
		stats.Queue.BoardingCount, stats.Queue.AvailableCount, stats.Queue.TotalNames)
	fmt.Printf("Archive:  %d events, last activity %s\n", stats.TotalEvents, stats.LastActivity)
	if stats.VoteRunning {
		fmt.Printf("Vote:     %s\n", text.FgGreen.Sprint("running"))
	}
	return nil
}

func cmdQueue(c *liveq.Client, asJSON bool) error {
	snap, err := c.GetQueue()
	if err != nil {
		return err
	}
	if asJSON {
		printJSON(snap)
		return nil
	}

	fmt.Printf("Queue %s · Cutline %s · Boarding %s\n",
		openClosed(snap.QueueStarted), openClosed(snap.CutlineStarted), openClosed(snap.BoardingStarted))

	fmt.Println("\nQueue")
	if len(snap.Queue) == 0 {
		fmt.Println("  (empty)")
	} else {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Pos", "Name", "Count", ""})
		for i, it := range snap.Queue {
			marker := ""
			if it.IsCutline {
				marker = text.FgYellow.Sprint("cut")
			}
			t.AppendRow(table.Row{i + 1, it.Name, it.Count, marker})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	}

	if len(snap.Cutline) > 0 {
		fmt.Println("\nCutline")
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Name", "Count"})
		for _, it := range snap.Cutline {
			t.AppendRow(table.Row{it.Name, it.Count})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	}

	if len(snap.Boarding) > 0 {
		fmt.Println("\nBoarding")
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Name", "Count"})
		for _, it := range snap.Boarding {
			t.AppendRow(table.Row{it.Name, it.Count})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	}
	return nil
}

func cmdRoster(c *liveq.Client, asJSON bool) error {
	roster, err := c.GetRoster()
	if err != nil {
		return err
	}
	if asJSON {
		printJSON(roster)
		return nil
	}

	if roster.Path != "" {
		fmt.Printf("Roster: %s (%d names, %d with plays left)\n", roster.Path, roster.Total, roster.Available)
	} else {
		fmt.Printf("Roster: %d names, %d with plays left\n", roster.Total, roster.Available)
	}
	if len(roster.Items) == 0 {
		fmt.Println("  (empty)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Index", "Name", "Count", "State"})
	for _, it := range roster.Items {
		var states []string
		if it.InQueue {
			states = append(states, "queued")
		}
		if it.InBoarding {
			states = append(states, "boarding")
		}
		t.AppendRow(table.Row{it.Index, it.Name, it.Count, strings.Join(states, ", ")})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
	return nil
}

func cmdToggle(c *liveq.Client, args []string, start bool, asJSON bool) error {
	verb := "stop"
	if start {
		verb = "start"
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: queuectl %s <queue|boarding|cutline>", verb)
	}
	list := args[0]
	switch list {
	case "queue", "boarding", "cutline":
	default:
		return fmt.Errorf("unknown list %q: want queue, boarding, or cutline", list)
	}

	st, err := c.ToggleList(list, start)
	if err != nil {
		return err
	}
	if asJSON {
		printJSON(st)
		return nil
	}
	if start {
		fmt.Printf("%s is now %s\n", list, text.FgGreen.Sprint("open"))
	} else {
		fmt.Printf("%s is now closed\n", list)
	}
	return nil
}

func cmdAdd(c *liveq.Client, args []string, asJSON bool) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: queuectl add <name>")
	}
	st, err := c.AddQueueItem(args[0])
	if err != nil {
		return err
	}
	if asJSON {
		printJSON(st)
		return nil
	}
	fmt.Printf("Added %s, %d waiting\n", args[0], st.QueueCount)
	return nil
}

func cmdComplete(c *liveq.Client, args []string, asJSON bool) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: queuectl complete <pos>")
	}
	pos, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("position must be a number, got %q", args[0])
	}
	st, err := c.CompleteQueueItem(pos)
	if err != nil {
		return err
	}
	if asJSON {
		printJSON(st)
		return nil
	}
	fmt.Printf("Completed position %d, %d waiting\n", pos, st.QueueCount)
	return nil
}

func cmdLottery(c *liveq.Client, args []string, asJSON bool) error {
	count := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("winner count must be a number, got %q", args[0])
		}
		count = n
	}

	result, err := c.DrawLottery(count)
	if err != nil {
		return err
	}
	if asJSON {
		printJSON(result)
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Pos", "Winner"})
	for i, name := range result.Winners {
		pos := 0
		if i < len(result.Positions) {
			pos = result.Positions[i]
		}
		t.AppendRow(table.Row{pos, text.FgGreen.Sprint(name)})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
	return nil
}

func cmdMonitor(c *liveq.Client, args []string, asJSON bool) error {
	var st *liveq.MonitorStatus
	var err error
	switch {
	case len(args) == 0:
		st, err = c.GetMonitor()
	case args[0] == "stop":
		st, err = c.StopMonitor()
	default:
		st, err = c.StartMonitor(args[0])
	}
	if err != nil {
		return err
	}
	if asJSON {
		printJSON(st)
		return nil
	}

	fmt.Printf("Monitor: %s", colorStatus(st.Status))
	if st.Room != "" {
		fmt.Printf(", room %s", st.Room)
	}
	if st.RealRoomID > 0 {
		fmt.Printf(" (real id %d)", st.RealRoomID)
	}
	if st.TestMode {
		fmt.Print(", test mode")
	}
	if st.Authenticated {
		fmt.Print(", authenticated")
	}
	if st.Live {
		fmt.Printf(", %s", text.FgGreen.Sprint("live"))
	}
	fmt.Println()
	return nil
}

func cmdVote(c *liveq.Client, args []string, asJSON bool) error {
	fs := pflag.NewFlagSet("vote", pflag.ContinueOnError)
	title := fs.String("title", "", "Vote title")
	options := fs.StringArray("option", nil, "Vote option (repeat for each)")
	seconds := fs.Int("seconds", 0, "Auto-end after N seconds (0 = manual)")
	preset := fs.String("preset", "", "Start from a stored preset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("usage: queuectl vote <start|end|status|export>")
	}

	switch rest[0] {
	case "start":
		progress, err := c.StartVote(liveq.StartVoteRequest{
			Title:          *title,
			Options:        *options,
			AutoEndSeconds: *seconds,
			Preset:         *preset,
		})
		if err != nil {
			return err
		}
		if asJSON {
			printJSON(progress)
			return nil
		}
		fmt.Printf("Vote %q started, viewers vote by sending the option number\n", progress.Title)
		renderVote(progress)
		return nil

	case "end":
		progress, err := c.EndVote()
		if err != nil {
			return err
		}
		if asJSON {
			printJSON(progress)
			return nil
		}
		fmt.Println("Vote ended")
		renderVote(progress)
		return nil

	case "status":
		progress, err := c.VoteStatus()
		if err != nil {
			return err
		}
		if asJSON {
			printJSON(progress)
			return nil
		}
		if !progress.Running && progress.ID == "" {
			fmt.Println("No vote has run yet")
			return nil
		}
		renderVote(progress)
		return nil

	case "export":
		path := ""
		if len(rest) > 1 {
			path = rest[1]
		}
		written, err := c.ExportVote(path)
		if err != nil {
			return err
		}
		fmt.Printf("Result written to %s on the server\n", written)
		return nil

	default:
		return fmt.Errorf("unknown vote command %q: want start, end, status, or export", rest[0])
	}
}

func renderVote(p *liveq.VoteProgress) {
	state := "ended"
	if p.Running {
		state = text.FgGreen.Sprint("running")
	}
	fmt.Printf("%s · %s · %d votes from %d viewers\n", p.Title, state, p.TotalVotes, p.VoterCount)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"#", "Option", "Votes"})
	for i, opt := range p.Options {
		t.AppendRow(table.Row{i + 1, opt, p.Counts[i+1]})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func cmdHistory(c *liveq.Client, args []string, asJSON bool) error {
	fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
	kind := fs.String("kind", "", "Filter by event kind (danmaku, gift, guard, super_chat)")
	user := fs.String("user", "", "Filter by username")
	match := fs.String("match", "", "Filter by body substring")
	since := fs.String("since", "", "Guard purchases since (RFC 3339 or duration like 72h)")
	limit := fs.Int("limit", 20, "Number of rows")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()

	sub := "events"
	if len(rest) > 0 {
		sub = rest[0]
	}

	switch sub {
	case "events":
		events, _, err := c.HistoryEvents(liveq.EventQuery{
			Kind:     *kind,
			User:     *user,
			Contains: *match,
			Limit:    *limit,
		})
		if err != nil {
			return err
		}
		if asJSON {
			printJSON(events)
			return nil
		}
		if len(events) == 0 {
			fmt.Println("No events recorded")
			return nil
		}
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Time", "Kind", "User", "Detail"})
		for _, e := range events {
			t.AppendRow(table.Row{
				e.Time.Format("01-02 15:04:05"), e.Kind, e.Username, eventDetail(e),
			})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil

	case "deductions":
		deductions, err := c.HistoryDeductions(*user, *limit)
		if err != nil {
			return err
		}
		if asJSON {
			printJSON(deductions)
			return nil
		}
		if len(deductions) == 0 {
			fmt.Println("No deductions recorded")
			return nil
		}
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Time", "User", "Plays", "Reason"})
		for _, d := range deductions {
			t.AppendRow(table.Row{d.CreatedAt.Format("01-02 15:04:05"), d.Username, d.Amount, d.Reason})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil

	case "guards":
		purchases, err := c.HistoryGuards(*since, *limit)
		if err != nil {
			return err
		}
		if asJSON {
			printJSON(purchases)
			return nil
		}
		if len(purchases) == 0 {
			fmt.Println("No guard purchases recorded")
			return nil
		}
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Time", "User", "Level", "Months", "Reward"})
		for _, p := range purchases {
			t.AppendRow(table.Row{
				p.CreatedAt.Format("01-02 15:04:05"), p.Username, guardName(p.GuardLevel), p.Months, p.Reward,
			})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil

	default:
		return fmt.Errorf("unknown history command %q: want events, deductions, or guards", sub)
	}
}

// eventDetail compacts an event's payload into one table cell.
func eventDetail(e liveq.Event) string {
	switch e.Kind {
	case "gift":
		return fmt.Sprintf("%s ×%d", e.GiftName, e.Num)
	case "guard":
		return fmt.Sprintf("%s ×%d月", guardName(e.GuardLevel), e.Num)
	case "super_chat":
		return fmt.Sprintf("¥%.0f %s", e.Price, truncate(e.Body, 40))
	default:
		return truncate(e.Body, 50)
	}
}

func guardName(level int) string {
	switch level {
	case 1:
		return "总督"
	case 2:
		return "提督"
	case 3:
		return "舰长"
	default:
		return fmt.Sprintf("等级%d", level)
	}
}

func colorStatus(s string) string {
	switch s {
	case "healthy", "connected", "test":
		return text.FgGreen.Sprint(s)
	case "degraded", "connecting", "reconnecting":
		return text.FgYellow.Sprint(s)
	case "failed":
		return text.FgRed.Sprint(s)
	default:
		return s
	}
}

func openClosed(open bool) string {
	if open {
		return text.FgGreen.Sprint("open")
	}
	return "closed"
}

// truncate shortens s to maxLen runes; danmaku bodies are mostly CJK so
// byte slicing would split characters.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
