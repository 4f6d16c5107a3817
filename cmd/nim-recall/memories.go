package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/memory"
)

var (
	memConversation int64
	memUser         int64
	memLimit        int
	memRole         string
)

var memoriesCmd = &cobra.Command{
	Use:   "memories",
	Short: "Record messages and recall conversation memories",
}

var memoriesRecallCmd = &cobra.Command{
	Use:   "recall [query]",
	Short: "Retrieve the memories of a conversation most relevant to a query",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecall,
}

var memoriesAddCmd = &cobra.Command{
	Use:   "add [message]",
	Short: "Store a conversation message and run memory processing on it",
	Args:  cobra.ExactArgs(1),
	RunE:  runAddMessage,
}

func init() {
	for _, c := range []*cobra.Command{memoriesRecallCmd, memoriesAddCmd} {
		c.Flags().Int64Var(&memConversation, "conversation", 0, "conversation id")
		c.Flags().Int64Var(&memUser, "user", 0, "user id")
		_ = c.MarkFlagRequired("conversation")
	}
	memoriesRecallCmd.Flags().IntVarP(&memLimit, "limit", "n", 0, "maximum number of memories (0 uses the configured default)")
	memoriesAddCmd.Flags().StringVar(&memRole, "role", string(core.RoleUser), "message role: user or assistant")

	memoriesCmd.AddCommand(memoriesRecallCmd, memoriesAddCmd)
	rootCmd.AddCommand(memoriesCmd)
}

func runRecall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	recalled, err := a.engine.RetrieveForUser(cmd.Context(), memory.Query{
		ConversationID: memConversation,
		UserID:         memUser,
		Text:           args[0],
		Limit:          memLimit,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd, recalled)
	}
	if len(recalled) == 0 {
		cmd.Println("No memories found.")
		return nil
	}
	cmd.Print(memory.Format(recalled, args[0], cfg.Memory.FormatBudget))
	return nil
}

func runAddMessage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	role := core.Role(memRole)
	if role != core.RoleUser && role != core.RoleAssistant {
		return fmt.Errorf("unknown role %q", memRole)
	}
	msg := &core.Message{
		ConversationID: memConversation,
		UserID:         memUser,
		Role:           role,
		Content:        args[0],
	}
	mem, err := a.engine.HandleMessage(cmd.Context(), msg)
	if err != nil {
		return err
	}
	if mem == nil {
		cmd.Printf("Stored message %d, nothing worth remembering\n", msg.ID)
		return nil
	}
	cmd.Printf("Stored message %d, created %s memory %d [%s]\n",
		msg.ID, mem.Type, mem.ID, mem.Priority)
	return nil
}
