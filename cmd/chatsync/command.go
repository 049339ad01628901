package main

import "github.com/urfave/cli/v2"

func (s *srv) loadApp() {
	app := cli.NewApp()
	app.Name = "chatsync"
	app.Usage = "chat synchronization client"
	app.Action = cli.ShowAppHelp
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "path to a TOML configuration file",
		},
		&cli.StringFlag{
			Name:  "room",
			Usage: "room id of the conversation",
		},
		&cli.StringFlag{
			Name:  "peer",
			Usage: "participant id of a direct conversation",
		},
	}
	app.Commands = []*cli.Command{
		{
			Action:      s.runHistory,
			Name:        "history",
			Usage:       "Print the snapshot page of a conversation",
			Category:    "Read",
			Description: `Fetches one page of history over REST and prints it oldest-first.`,
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Value: 50, Usage: "page size"},
			},
		},
		{
			Action:      s.runTail,
			Name:        "tail",
			Usage:       "Follow a conversation live",
			Category:    "Read",
			Description: `Joins the conversation, loads the snapshot and streams new messages, reactions and typing indicators.`,
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Value: 50, Usage: "snapshot page size"},
			},
		},
		{
			Action:      s.runSend,
			Name:        "send",
			Usage:       "Send one message",
			Category:    "Write",
			Description: `Sends a message and waits for the server echo to confirm it.`,
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "body", Required: true, Usage: "message text"},
				&cli.DurationFlag{Name: "wait", Value: 0, Usage: "how long to wait for the echo (0 = don't wait)"},
			},
		},
	}

	s.app = app
}
