package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/timmy/planmail/internal/config"
	"github.com/timmy/planmail/internal/source/objectstore"
	"github.com/timmy/planmail/internal/source/sheets"
	"github.com/timmy/planmail/internal/storage"
)

// loadConfig is replaced in tests.
var loadConfig = func() (*config.Config, error) {
	return config.Load(os.Getenv("CONFIG_PATH"))
}

var openStorage = func(cfg *config.Config) (storage.ObjectStorage, error) {
	return storage.NewStorage(&cfg.Storage)
}

func dataStore() (storage.ObjectStorage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openStorage(cfg)
}

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Manage plan external data in object storage",
	Long: `Plans read external data from object storage. A plan path ending in "/~"
is split: every object under the prefix becomes one item.`,
}

var dataPutCmd = &cobra.Command{
	Use:   "put [key] [file]",
	Short: "Upload a file as an external data object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		store, err := dataStore()
		if err != nil {
			return err
		}
		contentType := "text/plain; charset=utf-8"
		if filepath.Ext(args[1]) == ".json" {
			contentType = "application/json"
		}
		if err := store.Upload(cmd.Context(), args[0], bytes.NewReader(body), int64(len(body)), contentType); err != nil {
			return err
		}
		cmd.Printf("Uploaded %s (%d bytes)\n", args[0], len(body))
		return nil
	},
}

var dataListCmd = &cobra.Command{
	Use:   "ls [prefix]",
	Short: "List external data objects",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		store, err := dataStore()
		if err != nil {
			return err
		}
		keys, err := store.List(cmd.Context(), prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			cmd.Println(k)
		}
		return nil
	},
}

var dataRemoveCmd = &cobra.Command{
	Use:   "rm [key]",
	Short: "Delete an external data object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := dataStore()
		if err != nil {
			return err
		}
		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var dataShowCmd = &cobra.Command{
	Use:   "show [plan_path]",
	Short: "Show what a plan external data path resolves to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := dataStore()
		if err != nil {
			return err
		}
		payload, err := objectstore.NewProvider(store).Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !payload.Split() {
			cmd.Println(payload.Scalar)
			return nil
		}
		cmd.Printf("%d item(s)\n", len(payload.Items))
		for _, it := range payload.Items {
			cmd.Printf("- %s (%d bytes)\n", it.Name, len(it.Payload))
		}
		return nil
	},
}

var calendarCmd = &cobra.Command{
	Use:   "calendar [spreadsheet_ref] [date]",
	Short: "Check whether a calendar sheet lists a date",
	Long:  `Read the first column of the sheet and report whether the date (YYYY-MM-DD, default today) is a send day.`,
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		day := time.Now().In(loc)
		if len(args) == 2 {
			if day, err = time.ParseInLocation("2006-01-02", args[1], loc); err != nil {
				return fmt.Errorf("invalid date %q", args[1])
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		cal := sheets.NewCalendar(&sheets.Config{APIKey: cfg.Sheets.APIKey, BaseURL: cfg.Sheets.BaseURL})
		ok, err := cal.IsScheduled(ctx, args[0], day)
		if err != nil {
			return err
		}
		cmd.Printf("%s: %s\n", day.Format("2006-01-02"), onOff(ok, "send day", "no send"))
		return nil
	},
}

func init() {
	dataCmd.AddCommand(dataPutCmd, dataListCmd, dataRemoveCmd, dataShowCmd)
	rootCmd.AddCommand(dataCmd, calendarCmd)
}
