package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/friday/internal/config"
	"github.com/ShayCichocki/friday/internal/skills"
	"github.com/ShayCichocki/friday/pkg/models"
)

var skillsType string

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect the skill library",
	Long: `Inspect the persistent skill library.

Skills are code learned from subtasks that succeeded with a high enough
judged score. They are shared across projects and reused when a subtask with
the same type and name comes up again.`,
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List learned skills",
	Args:  cobra.NoArgs,
	RunE:  runSkillsList,
}

var skillsShowCmd = &cobra.Command{
	Use:   "show <type> <name>",
	Short: "Show the code of a learned skill",
	Args:  cobra.ExactArgs(2),
	RunE:  runSkillsShow,
}

func init() {
	skillsListCmd.Flags().StringVar(&skillsType, "type", "", "Only list skills of this node type (Python, Shell, AppleScript, API)")
	skillsCmd.AddCommand(skillsListCmd)
	skillsCmd.AddCommand(skillsShowCmd)
}

// openSkillStore opens the configured skill library, or returns nil if it
// does not exist yet.
func openSkillStore() (*skills.SQLiteStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	path := cfg.SkillsDBPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return skills.OpenSQLiteStore(path)
}

func runSkillsList(cmd *cobra.Command, args []string) error {
	var typ models.NodeType
	if skillsType != "" {
		t, ok := models.ParseNodeType(skillsType, false)
		if !ok {
			return fmt.Errorf("unknown node type %q", skillsType)
		}
		typ = t
	}

	store, err := openSkillStore()
	if err != nil {
		return err
	}
	if store == nil {
		fmt.Println("No skills learned yet.")
		return nil
	}
	defer store.Close()

	entries, err := store.List(typ)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No skills learned yet.")
		return nil
	}

	fmt.Printf("Skills (%d):\n", len(entries))
	for _, e := range entries {
		fmt.Printf("  %-12s %-32s score %2d  %s\n", e.Type, e.Name, e.Score, truncateText(e.Description, 60))
	}
	return nil
}

func runSkillsShow(cmd *cobra.Command, args []string) error {
	typ, ok := models.ParseNodeType(args[0], false)
	if !ok {
		return fmt.Errorf("unknown node type %q", args[0])
	}

	store, err := openSkillStore()
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("skill %s/%s not found", typ, args[1])
	}
	defer store.Close()

	entry, err := store.Get(skills.Fingerprint(typ, args[1]))
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("skill %s/%s not found", typ, args[1])
	}

	fmt.Printf("Skill: %s\n", entry.Name)
	fmt.Printf("  Type: %s\n", entry.Type)
	fmt.Printf("  Score: %d\n", entry.Score)
	fmt.Printf("  Learned from: %s (%s)\n", entry.Provenance, entry.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Printf("  Task: %s\n", entry.Description)
	fmt.Println()
	fmt.Println(entry.Code)
	if entry.Invocation != "" {
		fmt.Println()
		fmt.Printf("Invocation: %s\n", entry.Invocation)
	}
	return nil
}
