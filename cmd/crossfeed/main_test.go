package main

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func newTestCLI() *cli.App {
	return &cli.App{
		Name:   "crossfeed",
		Before: setupLogger,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Action: ingestCommand,
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "student", Required: true},
					&cli.StringFlag{Name: "teacher", Required: true},
					&cli.StringFlag{Name: "category", Required: true},
					&cli.IntFlag{Name: "rating", Required: true},
					&cli.StringFlag{Name: "text"},
				}, storeFlags...),
			},
			{
				Name:   "search",
				Action: searchCommand,
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "text"},
					&cli.StringFlag{Name: "student"},
					&cli.StringFlag{Name: "category"},
					&cli.IntFlag{Name: "min-rating"},
					&cli.IntFlag{Name: "limit", Value: 20},
				}, storeFlags...),
			},
			{
				Name:   "report",
				Action: reportCommand,
				Flags:  storeFlags,
			},
		},
	}
}

func TestSetupLoggerRejectsUnknownLevel(t *testing.T) {
	defer slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	app := newTestCLI()
	app.Action = func(c *cli.Context) error { return nil }

	err := app.Run([]string{"crossfeed", "--log-level", "verbose"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")

	err = app.Run([]string{"crossfeed", "--log-level", "debug"})
	assert.NoError(t, err)
}

func TestStoreFlagDefaults(t *testing.T) {
	var dataDir *cli.StringFlag
	var dim *cli.IntFlag
	for _, flag := range storeFlags {
		if f, ok := flag.(*cli.StringFlag); ok && f.Name == "data-dir" {
			dataDir = f
		}
		if f, ok := flag.(*cli.IntFlag); ok && f.Name == "embedding-dim" {
			dim = f
		}
	}
	require.NotNil(t, dataDir)
	assert.Equal(t, "./crossfeed-data", dataDir.Value)
	require.NotNil(t, dim)
	assert.Equal(t, 384, dim.Value)
}

func TestIngestCommandRequiresFlags(t *testing.T) {
	app := newTestCLI()
	err := app.Run([]string{"crossfeed", "ingest", "--in-memory", "--mock-ai", "--student", "S1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teacher")
}

func TestIngestCommandEndToEnd(t *testing.T) {
	app := newTestCLI()
	err := app.Run([]string{
		"crossfeed", "ingest",
		"--in-memory", "--mock-ai",
		"--student", "S1",
		"--teacher", "T1",
		"--category", "reading",
		"--rating", "4",
		"--text", "great progress",
	})
	assert.NoError(t, err)
}

func TestIngestCommandRejectsBadRating(t *testing.T) {
	app := newTestCLI()
	err := app.Run([]string{
		"crossfeed", "ingest",
		"--in-memory", "--mock-ai",
		"--student", "S1",
		"--teacher", "T1",
		"--category", "reading",
		"--rating", "11",
	})
	require.Error(t, err)
}

func TestReportCommandOnEmptyStore(t *testing.T) {
	app := newTestCLI()
	err := app.Run([]string{"crossfeed", "report", "--in-memory", "--mock-ai"})
	assert.NoError(t, err)
}
