// Command edna-sample-client is the thin sample client: it connects to
// ednad, registers a fixed AID, prints every message it receives,
// acknowledges POWER UP/POWER DOWN notifications, and answers each
// C-APDU with status word 9000. It demonstrates the wire
// protocol only — spec.md excludes a real client library's ergonomic
// API from scope.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"edna.io/edna/internal/ednaclient"
)

const defaultSocketPath = "/tmp/edna-comm"

// defaultAID is "IRMAcard", the AID used throughout spec.md's example
// scenarios.
var defaultAID = []byte{0x49, 0x52, 0x4D, 0x41, 0x63, 0x61, 0x72, 0x64}

func main() {
	app := cli.NewApp()
	app.Name = "edna-sample-client"
	app.Usage = "sample EDNA client: registers an AID and echoes status word 9000"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "socket",
			Value: defaultSocketPath,
			Usage: "path to the daemon's rendezvous socket",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	client, err := ednaclient.Dial(c.String("socket"), defaultAID)
	if err != nil {
		return fmt.Errorf("failed to connect to the edna daemon: %w", err)
	}
	defer client.Close()

	fmt.Printf("registered AID % X\n", defaultAID)

	for {
		msg, err := client.ReadNotificationOrAPDU()
		if err != nil {
			return fmt.Errorf("event loop exited with error: %w", err)
		}

		switch {
		case len(msg) == 1 && msg[0] == 0x04:
			fmt.Println("Received POWER UP")
			if err := client.Ack(); err != nil {
				return err
			}
		case len(msg) == 1 && msg[0] == 0x05:
			fmt.Println("Received POWER DOWN")
			if err := client.Ack(); err != nil {
				return err
			}
		default:
			fmt.Printf("--> % X\n", msg)
			response := []byte{0x90, 0x00}
			fmt.Printf("<-- % X\n", response)
			if err := client.SendRAPDU(response); err != nil {
				return err
			}
		}
	}
}
