package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"triad-node/core"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print basic chain status",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := loadNode()
		if err != nil {
			return err
		}
		defer n.Close()

		status := n.ledger.Status()
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{
			"height": status.Height,
			"head":   status.HeadHash,
		})
	},
}

var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Create a transaction",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		rawAmount, _ := cmd.Flags().GetString("amount")

		amount, err := core.ParseAmount(rawAmount)
		if err != nil {
			return err
		}
		n, err := loadNode()
		if err != nil {
			return err
		}
		defer n.Close()

		tx, err := n.ledger.AddTransaction(from, to, amount)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), tx)
	},
}

var microCmd = &cobra.Command{
	Use:   "micro",
	Short: "Create a micro block via consensus",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := loadNode()
		if err != nil {
			return err
		}
		defer n.Close()

		block, err := n.ledger.CreateBlockByVote()
		if err != nil {
			return err
		}
		return printBlock(cmd.OutOrStdout(), block)
	},
}

var powCmd = &cobra.Command{
	Use:   "pow",
	Short: "Create a proof-of-work checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := loadNode()
		if err != nil {
			return err
		}
		defer n.Close()

		difficulty := n.cfg.PowDifficulty
		if cmd.Flags().Changed("difficulty") {
			difficulty, _ = cmd.Flags().GetInt("difficulty")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		block, err := n.ledger.CreatePoWCheckpoint(ctx, difficulty)
		if err != nil {
			return err
		}
		return printBlock(cmd.OutOrStdout(), block)
	},
}

var pohCmd = &cobra.Command{
	Use:   "poh",
	Short: "Record and print a PoH event",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := loadNode()
		if err != nil {
			return err
		}
		defer n.Close()

		digest, err := n.ledger.PoHEvent()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), digest)
		return err
	},
}

var simulateForkCmd = &cobra.Command{
	Use:   "simulate-fork",
	Short: "Resolve competing proposals built from vote splits",
	Long: `Builds --prebuild vote-finalized blocks, then one competing proposal per
--split on top of the block at --parent (the head if negative), resolves them
and appends the winner. Example:

  triad simulate-fork --split v1,v2,v3 --split v1,v4 --parent 0`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rawSplits, _ := cmd.Flags().GetStringArray("split")
		parentIndex, _ := cmd.Flags().GetInt("parent")
		prebuild, _ := cmd.Flags().GetInt("prebuild")
		if len(rawSplits) == 0 {
			return fmt.Errorf("at least one --split is required")
		}

		n, err := loadNode()
		if err != nil {
			return err
		}
		defer n.Close()

		for i := 0; i < prebuild; i++ {
			if _, err := n.ledger.CreateBlockByVote(); err != nil {
				return fmt.Errorf("prebuild block %d: %w", i+1, err)
			}
		}

		head := n.ledger.Status()
		if parentIndex >= 0 {
			parent, ok := n.ledger.BlockByIndex(uint64(parentIndex))
			if !ok {
				return fmt.Errorf("no block at index %d (height %d)", parentIndex, head.Height)
			}
			head = core.Status{Height: int(parent.Index) + 1, HeadHash: parent.Hash}
		}

		proposals := n.federated.ProposeConflicting(head, n.ledger.PendingTransactions(), parseSplits(rawSplits))
		chosen, err := n.ledger.ResolveAndAppend(proposals)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{
			"chosen": chosen,
			"status": n.ledger.Status(),
		})
	},
}

func parseSplits(raw []string) [][]string {
	splits := make([][]string, 0, len(raw))
	for _, r := range raw {
		votes := []string{}
		for _, v := range strings.Split(r, ",") {
			if v = strings.TrimSpace(v); v != "" {
				votes = append(votes, v)
			}
		}
		splits = append(splits, votes)
	}
	return splits
}

func init() {
	txCmd.Flags().String("from", "", "Sender")
	txCmd.Flags().String("to", "", "Receiver")
	txCmd.Flags().String("amount", "", "Amount")
	txCmd.MarkFlagRequired("from")
	txCmd.MarkFlagRequired("to")
	txCmd.MarkFlagRequired("amount")

	powCmd.Flags().Int("difficulty", 0, "Leading zero hex digits (defaults to pow_difficulty)")

	simulateForkCmd.Flags().StringArray("split", nil, "Comma separated vote set of one proposal (repeatable)")
	simulateForkCmd.Flags().Int("parent", -1, "Index of the block the proposals build on (negative means head)")
	simulateForkCmd.Flags().Int("prebuild", 1, "Vote-finalized blocks to create before the conflict")
}
