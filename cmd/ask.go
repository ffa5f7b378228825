package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/carbonview/cbam-cli/internal/model"
)

var askSessionID string

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about CBAM rules or costs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		sessionID := askSessionID
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		turn, err := env.Orch.Handle(cmd.Context(), sessionID, strings.Join(args, " "))
		if err != nil {
			return err
		}

		printTurn(turn)
		return nil
	},
}

func printTurn(turn *model.ConversationTurn) {
	fmt.Println(turn.Answer)

	if len(turn.Citations) > 0 {
		fmt.Println("\nSources:")
		for _, c := range turn.Citations {
			fmt.Printf("  [%s] %s (relevance %.2f)\n", c.Marker, c.DocTitle, c.Score)
		}
	}
	if calc := turn.Calculation; calc != nil {
		fmt.Printf("\nCalculation %s: %.2f tCO2e, liability EUR %.2f\n",
			calc.ID, calc.TotalEmissions, calc.Liability)
	}
	if turn.Degraded {
		fmt.Printf("\n(degraded: %s)\n", turn.Error)
	}
}

func init() {
	askCmd.Flags().StringVar(&askSessionID, "session", "", "session id for multi-turn context (default new session)")
	rootCmd.AddCommand(askCmd)
}
