package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
	"github.com/urfave/cli/v2"
)

const sparkWidth = 60

func monitorCmd() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Live dashboard of a running server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: "http://localhost:8080",
				Usage: "Base URL of the server",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Value: time.Second,
				Usage: "Polling interval",
			},
		},
		Action: func(c *cli.Context) error {
			return runMonitor(c.String("addr"), c.Duration("interval"))
		},
	}
}

func fetchStats(client *http.Client, addr string) (model.HubStats, error) {
	var stats model.HubStats
	resp, err := client.Get(addr + "/api/stats")
	if err != nil {
		return stats, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("stats: %s", resp.Status)
	}
	err = json.NewDecoder(resp.Body).Decode(&stats)
	return stats, err
}

func runMonitor(addr string, interval time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("init terminal: %w", err)
	}
	defer ui.Close()

	client := &http.Client{Timeout: interval}

	summary := widgets.NewParagraph()
	summary.Title = " friend-monitor " + addr + " (q to quit) "
	summary.SetRect(0, 0, sparkWidth+2, 8)

	conns := widgets.NewSparkline()
	conns.Title = "connections"
	conns.LineColor = ui.ColorGreen
	passMs := widgets.NewSparkline()
	passMs.Title = "pass duration (ms)"
	passMs.LineColor = ui.ColorYellow

	group := widgets.NewSparklineGroup(conns, passMs)
	group.Title = " history "
	group.SetRect(0, 8, sparkWidth+2, 20)

	push := func(data []float64, v float64) []float64 {
		data = append(data, v)
		if len(data) > sparkWidth {
			data = data[len(data)-sparkWidth:]
		}
		return data
	}

	refresh := func() {
		stats, err := fetchStats(client, addr)
		if err != nil {
			summary.Text = "[unreachable](fg:red) " + err.Error()
			ui.Render(summary, group)
			return
		}
		summary.Text = fmt.Sprintf(
			"connections  %d\ntick         %d\nuptime       %s\nlast pass    tick %d, %d due, %d sent, %d dropped, %dms",
			stats.Connections, stats.Tick, stats.Uptime,
			stats.LastPass.Tick, stats.LastPass.Due, stats.LastPass.Sent, stats.LastPass.Dropped, stats.LastPass.DurationMs,
		)
		conns.Data = push(conns.Data, float64(stats.Connections))
		passMs.Data = push(passMs.Data, float64(stats.LastPass.DurationMs))
		ui.Render(summary, group)
	}

	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	events := ui.PollEvents()
	for {
		select {
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				ui.Clear()
				ui.Render(summary, group)
			}
		case <-ticker.C:
			refresh()
		}
	}
}
