package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/smcscan/smcscan/internal/risk"
)

func openCooldowns(cmd *cobra.Command) (*risk.CooldownStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return risk.NewCooldownStore(cfg.Env.CacheDir)
}

func runCooldownsList(cmd *cobra.Command, args []string) error {
	store, err := openCooldowns(cmd)
	if err != nil {
		return err
	}

	active := store.Active()
	if len(active) == 0 {
		fmt.Println("No active cooldowns.")
		return nil
	}

	symbols := make([]string, 0, len(active))
	for sym := range active {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	t := newTable("ACTIVE COOLDOWNS")
	t.AppendHeader(table.Row{"SYMBOL", "DIR", "REASON", "PRICE", "EXPIRES IN"})
	now := time.Now()
	for _, sym := range symbols {
		dirs := active[sym]
		for _, dir := range sortedDirs(dirs) {
			e := dirs[dir]
			t.AppendRow(table.Row{
				sym, dir, e.Reason, formatPrice(e.Price),
				e.ExpiresAt.Sub(now).Round(time.Second).String(),
			})
		}
	}
	t.Render()
	return nil
}

func runCooldownsClear(cmd *cobra.Command, args []string) error {
	store, err := openCooldowns(cmd)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		if err := store.ClearAll(); err != nil {
			return err
		}
		fmt.Println("Cleared all cooldowns.")
		return nil
	}

	symbol := strings.ToUpper(args[0])
	direction, _ := cmd.Flags().GetString("direction")
	direction = strings.ToUpper(direction)
	if err := store.Clear(symbol, direction); err != nil {
		return err
	}
	if direction != "" {
		fmt.Printf("Cleared %s %s cooldown.\n", symbol, direction)
	} else {
		fmt.Printf("Cleared cooldowns for %s.\n", symbol)
	}
	return nil
}

func sortedDirs(m map[string]risk.CooldownEntry) []string {
	dirs := make([]string, 0, len(m))
	for d := range m {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}
