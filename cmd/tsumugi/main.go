// Package main is the entry point for tsumugi.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nshiba/tsumugi/internal/app"
	"github.com/nshiba/tsumugi/internal/character"
	"github.com/nshiba/tsumugi/internal/engine"
	"github.com/nshiba/tsumugi/internal/save"
	"github.com/nshiba/tsumugi/internal/story"
	"github.com/nshiba/tsumugi/internal/tui"
	"github.com/nshiba/tsumugi/pkg/types"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tsumugi",
	Short: "A terminal player for branching interactive stories",
	Long: `Tsumugi plays branching visual-novel style stories in the terminal.
Stories are YAML or JSON node graphs with dialogue, scenes, choices and
conditional branches; progress can be saved and resumed at any point.`,
	Version: version,
}

// newLogger builds the diagnostic logger. The TUI owns the terminal, so
// anything above "off" goes to a log file under the data directory.
func newLogger(cfg *types.GlobalConfig) *log.Logger {
	level := strings.ToLower(cfg.Logging.Level)
	if level == "" || level == "off" || level == "none" {
		return log.New(io.Discard, "", 0)
	}
	f, err := os.OpenFile(filepath.Join(cfg.DataDir, "tsumugi.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return log.New(io.Discard, "", 0)
	}
	return log.New(f, "", log.LstdFlags)
}

var playCmd = &cobra.Command{
	Use:   "play <story>",
	Short: "Play a story from the library",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlayCmd,
}

func runPlayCmd(cmd *cobra.Command, args []string) error {
	slot, _ := cmd.Flags().GetString("save")
	seed, _ := cmd.Flags().GetInt64("seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	application, err := app.New()
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}
	defer application.Close()

	cfg, err := application.Config.LoadGlobalConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	path, err := application.FindStory(args[0])
	if err != nil {
		return err
	}
	s, err := application.LoadStory(path)
	if err != nil {
		return err
	}

	eng := engine.NewManager(logger)
	if err := eng.Load(s); err != nil {
		return err
	}
	chars := character.NewManager(logger)
	gen := character.NewGenerator(seed, logger)

	player := tui.NewPlayer(eng, chars, gen, tui.Options{
		Saves:     application.Saves,
		TextSpeed: cfg.TextSpeed,
		Autosave:  cfg.Autosave,
	})

	if slot != "" {
		data, err := application.Saves.Get(s.ID, slot)
		if err != nil {
			return err
		}
		if data == nil {
			return fmt.Errorf("save slot %q for story %q is empty", slot, s.ID)
		}
		if err := save.Restore(data, eng, chars); err != nil {
			return fmt.Errorf("failed to restore save: %w", err)
		}
	} else {
		if err := eng.Start(); err != nil {
			return err
		}
	}

	p := tea.NewProgram(player, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a story file",
	Long:  "Parse a story file, check its structure and report unreachable nodes.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		s, err := story.ParseFile(path)
		if err != nil {
			return err
		}

		fmt.Printf("✓ %s is valid (%d nodes, start: %s)\n", path, len(s.Nodes), s.StartNode)
		for _, id := range story.Reachability(s) {
			fmt.Printf("  warning: node %q is unreachable\n", id)
		}
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <story>",
	Short: "Show the structure of a story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := app.New()
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}
		defer application.Close()

		path, err := application.FindStory(args[0])
		if err != nil {
			return err
		}
		s, err := application.LoadStory(path)
		if err != nil {
			return err
		}

		fmt.Printf("%s (%s)\n", s.Title, s.ID)
		if _, synopsis, err := application.Library.Synopsis(path); err == nil && synopsis != "" {
			fmt.Printf("  %s\n", synopsis)
		}
		fmt.Printf("  start: %s\n", s.StartNode)
		fmt.Printf("  nodes: %d\n", len(s.Nodes))

		byType := make(map[types.NodeType]int)
		cast := make(map[string]bool)
		scenes := make(map[string]bool)
		ids := make([]string, 0, len(s.Nodes))
		for id, n := range s.Nodes {
			byType[n.Type]++
			ids = append(ids, id)
			if n.Character != "" {
				cast[n.Character] = true
			}
			for _, sc := range n.Characters {
				cast[sc.ID] = true
			}
			if n.SceneID != "" {
				scenes[n.SceneID] = true
			}
		}
		for _, t := range []types.NodeType{types.NodeDialogue, types.NodeScene, types.NodeChoice, types.NodeBranch, types.NodeEnd} {
			if byType[t] > 0 {
				fmt.Printf("    %-8s %d\n", t, byType[t])
			}
		}
		if len(cast) > 0 {
			fmt.Printf("  characters: %s\n", strings.Join(sortedKeys(cast), ", "))
		}
		if len(scenes) > 0 {
			fmt.Printf("  scenes: %s\n", strings.Join(sortedKeys(scenes), ", "))
		}

		showNodes, _ := cmd.Flags().GetBool("nodes")
		if showNodes {
			sort.Strings(ids)
			fmt.Println("  graph:")
			for _, id := range ids {
				n := s.Nodes[id]
				target := n.NextNode
				if n.Type == types.NodeChoice {
					targets := make([]string, len(n.Choices))
					for i, c := range n.Choices {
						targets[i] = c.NextNode
					}
					target = strings.Join(targets, ", ")
				}
				if target == "" {
					target = "-"
				}
				fmt.Printf("    %-20s %-8s -> %s\n", id, n.Type, target)
			}
		}

		if len(s.InitialState) > 0 {
			out, err := yaml.Marshal(s.InitialState)
			if err == nil {
				fmt.Println("  initial state:")
				for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
					fmt.Println("    " + line)
				}
			}
		}
		return nil
	},
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stories in the library",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := app.New()
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}
		defer application.Close()

		files, err := application.Library.ListStories()
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Printf("No stories found in %s\n", application.Library.BasePath())
			return nil
		}

		fmt.Println("Stories:")
		for _, f := range files {
			line := "  - " + f.Name
			if title, _, err := application.Library.Synopsis(f.Path); err == nil && title != "" {
				line += " — " + title
			}
			fmt.Println(line)
		}
		return nil
	},
}

var savesCmd = &cobra.Command{
	Use:   "saves [story]",
	Short: "List, delete or export save slots",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSavesCmd,
}

func runSavesCmd(cmd *cobra.Command, args []string) error {
	deleteSlot, _ := cmd.Flags().GetString("delete")
	exportPath, _ := cmd.Flags().GetString("export")
	slot, _ := cmd.Flags().GetString("slot")

	application, err := app.New()
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}
	defer application.Close()

	var storyID string
	if len(args) > 0 {
		storyID = args[0]
	}

	if deleteSlot != "" {
		if storyID == "" {
			return fmt.Errorf("--delete requires a story argument")
		}
		var confirm bool
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Delete save slot %q for %q?", deleteSlot, storyID)).
					Value(&confirm),
			),
		)
		if err := form.Run(); err != nil {
			return fmt.Errorf("confirmation failed: %w", err)
		}
		if !confirm {
			fmt.Println("Deletion cancelled.")
			return nil
		}
		if err := application.Saves.Delete(storyID, deleteSlot); err != nil {
			return err
		}
		fmt.Printf("Deleted save slot %q.\n", deleteSlot)
		return nil
	}

	if exportPath != "" {
		if storyID == "" || slot == "" {
			return fmt.Errorf("--export requires a story argument and --slot")
		}
		if err := application.Saves.Export(storyID, slot, exportPath); err != nil {
			return err
		}
		fmt.Printf("Exported %s/%s to %s\n", storyID, slot, exportPath)
		return nil
	}

	slots, err := application.Saves.List(storyID)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		fmt.Println("No saves found.")
		return nil
	}

	fmt.Println("Saves:")
	for _, s := range slots {
		label := s.Label
		if label != "" {
			label = " (" + label + ")"
		}
		fmt.Printf("  - %s/%s%s at %s, saved %s\n",
			s.StoryID, s.Slot, label, s.CurrentNodeID, s.SavedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialize the global configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		initFlag, _ := cmd.Flags().GetBool("init")

		application, err := app.New()
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}
		defer application.Close()

		cfg, err := application.Config.LoadGlobalConfig()
		if err != nil {
			return err
		}

		if initFlag {
			if err := application.Config.SaveGlobalConfig(cfg); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", application.Config.Path())
			return nil
		}

		fmt.Printf("Config file: %s\n\n", application.Config.Path())
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	playCmd.Flags().String("save", "", "Resume from a save slot")
	playCmd.Flags().Int64("seed", 0, "Staging random seed (0 = time-based)")

	inspectCmd.Flags().Bool("nodes", false, "Show the full node graph")

	savesCmd.Flags().String("delete", "", "Delete a save slot")
	savesCmd.Flags().String("export", "", "Export a save slot to a JSON file")
	savesCmd.Flags().String("slot", "", "Save slot for --export")

	configCmd.Flags().Bool("init", false, "Write the current configuration to disk")

	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(savesCmd)
	rootCmd.AddCommand(configCmd)
}
