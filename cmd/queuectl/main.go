// queuectl is the operator CLI for a running bililive-queue server.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bilibili-xiayun/bililive-queue/clients/go/liveq"
)

func main() {
	server := pflag.StringP("server", "s", "", "Server URL (default $QUEUE_SERVER or http://127.0.0.1:8080)")
	key := pflag.StringP("key", "k", "", "Admin key for mutating commands (default $QUEUE_KEY)")
	asJSON := pflag.Bool("json", false, "Print raw JSON payloads instead of tables")
	timeout := pflag.DurationP("timeout", "t", 30*time.Second, "HTTP request timeout")
	help := pflag.BoolP("help", "h", false, "Show usage")
	pflag.Parse()

	args := pflag.Args()
	if *help || len(args) == 0 {
		usage()
		if len(args) == 0 && !*help {
			os.Exit(1)
		}
		return
	}

	client := liveq.NewClient(*server, *key)
	client.HTTPClient.Timeout = *timeout

	if err := run(client, args, *asJSON); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *liveq.Client, args []string, asJSON bool) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "status":
		return cmdStatus(c, asJSON)
	case "queue":
		return cmdQueue(c, asJSON)
	case "roster":
		return cmdRoster(c, asJSON)
	case "start":
		return cmdToggle(c, rest, true, asJSON)
	case "stop":
		return cmdToggle(c, rest, false, asJSON)
	case "add":
		return cmdAdd(c, rest, asJSON)
	case "complete":
		return cmdComplete(c, rest, asJSON)
	case "lottery":
		return cmdLottery(c, rest, asJSON)
	case "login":
		return cmdLogin(c, asJSON)
	case "logout":
		return cmdLogout(c)
	case "monitor":
		return cmdMonitor(c, rest, asJSON)
	case "vote":
		return cmdVote(c, rest, asJSON)
	case "history":
		return cmdHistory(c, rest, asJSON)
	case "help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func usage() {
	fmt.Println(`queuectl - operator CLI for bililive-queue

Usage: queuectl [flags] <command> [args]

Commands:
  status                          Server health and session summary
  queue                           Show the queue, cutline, and boarding lists
  roster                          Show the loaded roster
  start <queue|boarding|cutline>  Open a list for danmaku requests
  stop <queue|boarding|cutline>   Close a list
  add <name>                      Append a roster name to the queue
  complete <pos>                  Finish the queue entry at pos, charging plays
  lottery [n]                     Draw n random winners from the queue (default 2)
  login                           Log in to Bilibili by scanning a QR code
  logout                          Clear the stored Bilibili credential
  monitor [room|test|stop]        Connect to a live room, or show/stop the monitor
  vote <start|end|status|export>  Run digit-danmaku votes
  history [deductions|guards]     Browse archived events and ledgers

Flags:
  -s, --server    Server URL
  -k, --key       Admin key for mutating commands
      --json      Print raw JSON payloads instead of tables
  -t, --timeout   HTTP request timeout (default 30s)

Environment:
  QUEUE_SERVER    Server URL (default http://127.0.0.1:8080)
  QUEUE_KEY       Admin key`)
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
