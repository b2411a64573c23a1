package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"crosscopy/app"
	"crosscopy/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newApp loads (or creates) the config and starts an App. The caller must
// defer a.Close().
func newApp(ctx context.Context, operation string) (*app.App, error) {
	cfg, _, dataDir, err := config.LoadOrCreate()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	a, err := app.New(ctx, cfg, app.Options{DataDir: dataDir, Operation: operation})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
}

var rootCmd = &cobra.Command{
	Use:          "crosscopy",
	Short:        "Share text and files between devices using a secret phrase",
	SilenceUsage: true,
}

var sendCmd = &cobra.Command{
	Use:   "send <phrase> [text...]",
	Short: "Share text under a phrase (reads stdin when no text is given)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		if text == "" {
			if term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("no text given")
			}
			raw, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			text = strings.TrimRight(string(raw), "\n")
		}

		a, err := newApp(cmd.Context(), "send")
		if err != nil {
			return err
		}
		defer closeApp(a)

		item, err := a.Send(cmd.Context(), args[0], text)
		if err != nil {
			return err
		}
		fmt.Printf("shared %s\n", item.ID)
		return nil
	},
}

var sendFileCmd = &cobra.Command{
	Use:   "send-file <phrase> <path>",
	Short: "Upload a file and share it under a phrase",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "send-file")
		if err != nil {
			return err
		}
		defer closeApp(a)

		item, err := a.SendFile(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("shared %s as %s\n", args[1], item.Data)
		return nil
	},
}

var receiveCmd = &cobra.Command{
	Use:   "receive <phrase>",
	Short: "Fetch items shared under a phrase since the last receive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "receive")
		if err != nil {
			return err
		}
		defer closeApp(a)

		items, err := a.Receive(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("nothing new")
			return nil
		}
		for _, item := range items {
			if item.ItemPath != "" {
				fmt.Printf("%s\tfile\t%s\n", item.ID, item.ItemPath)
				continue
			}
			fmt.Printf("%s\ttext\t%s\n", item.ID, item.Data)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [phrase]",
	Short: "List known phrases, or the items of one phrase",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "history")
		if err != nil {
			return err
		}
		defer closeApp(a)

		if len(args) == 0 {
			for _, phrase := range a.Phrases() {
				secret := a.Secret(phrase)
				modified := "never"
				if !secret.LastModified().IsZero() {
					modified = secret.LastModified().Local().Format(time.DateTime)
				}
				fmt.Printf("%s\t%d items\tlast %s\n", phrase, len(secret.Items()), modified)
			}
			return nil
		}

		secret := a.Secret(args[0])
		if secret == nil {
			return app.ErrUnknownPhrase
		}
		for _, item := range secret.Items() {
			data := item.Data
			if item.ItemPath != "" {
				data = item.ItemPath
			}
			fmt.Printf("%s\t%s\t%s\t%s\n", item.Date.Local().Format(time.DateTime), item.Direction(), item.ID, data)
		}
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <phrase>",
	Short: "Remove a phrase from the history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "forget")
		if err != nil {
			return err
		}
		defer closeApp(a)

		if err := a.Forget(args[0]); err != nil {
			return err
		}
		fmt.Printf("forgot %s\n", args[0])
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, cfgPath, dataDir, err := config.LoadOrCreate()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		fmt.Printf("Config File:      %s\n", cfgPath)
		fmt.Printf("Data Directory:   %s\n", dataDir)
		fmt.Printf("Device ID:        %s\n", cfg.DeviceID)
		fmt.Printf("Server URL:       %s\n", cfg.ServerURL)
		fmt.Printf("Discover Server:  %t\n", cfg.DiscoverServer)
		fmt.Printf("Files Directory:  %s\n", cfg.FilesDir)
		fmt.Printf("Log Level:        %s\n", cfg.LogLevel)
		fmt.Printf("Watch Backoff:    %v\n", cfg.WatchErrorBackoff())
		fmt.Printf("Request Timeout:  %s\n", cfg.RequestTimeout())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, cfgPath, _, err := config.LoadOrCreate()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return err
		}
		fmt.Printf("%s updated\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(sendFileCmd)
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
}
