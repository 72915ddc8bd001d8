package main

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/bilibili-xiayun/bililive-queue/clients/go/liveq"
)

const loginPollInterval = 2 * time.Second

// cmdLogin walks the Bilibili QR login: render the code in the terminal,
// then poll until the phone confirms or the code expires.
func cmdLogin(c *liveq.Client, asJSON bool) error {
	if loggedIn, user, err := c.LoginSession(); err == nil && loggedIn {
		if user != nil {
			fmt.Printf("Already logged in as %s (UID %d)\n", user.Uname, user.UID)
		} else {
			fmt.Println("Already logged in")
		}
		return nil
	}

	qr, err := c.CreateLoginQR()
	if err != nil {
		return err
	}
	if asJSON {
		printJSON(qr)
		return nil
	}

	code, err := qrcode.New(qr.URL, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("render QR code: %w", err)
	}
	fmt.Println("Scan with the Bilibili app:")
	fmt.Print(code.ToSmallString(false))

	load := spinner.New(spinner.CharSets[11], 100*time.Millisecond)
	load.Color("yellow") //nolint:errcheck
	load.Suffix = " Waiting for scan..."
	load.Start()
	defer load.Stop()

	deadline := time.Now().Add(time.Duration(qr.ExpiresIn) * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(loginPollInterval)

		state, err := c.PollLoginQR(qr.SessionID)
		if err != nil {
			return err
		}
		switch state.State {
		case "scanned":
			load.Suffix = " Scanned, confirm on your phone..."
		case "confirmed":
			load.Stop()
			if state.User != nil {
				fmt.Printf("Logged in as %s (UID %d)\n", state.User.Uname, state.User.UID)
			} else {
				fmt.Println("Logged in")
			}
			return nil
		case "expired":
			return fmt.Errorf("QR code expired, run login again")
		}
	}
	return fmt.Errorf("QR code expired, run login again")
}

func cmdLogout(c *liveq.Client) error {
	if err := c.Logout(); err != nil {
		return err
	}
	fmt.Println("Logged out, stored credential cleared")
	return nil
}
