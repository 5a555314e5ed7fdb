// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/jaycherian/go-shot-recall/internal/core/model"
)

var (
	flagRecallContext string
	flagRecallTags    []string
	flagRecallText    string
)

var recallCmd = &cobra.Command{
	Use:   "recall",
	Short: "Run a one-shot recall query against the index",
	Run: func(cmd *cobra.Command, args []string) {
		runRecall()
	},
}

func init() {
	recallCmd.Flags().StringVar(&flagRecallContext, "context", "cli", "query context id")
	recallCmd.Flags().StringSliceVar(&flagRecallTags, "tags", nil, "query tags (repeatable or comma-separated)")
	recallCmd.Flags().StringVar(&flagRecallText, "text", "", "free-text query, embedded before ranking")
	rootCmd.AddCommand(recallCmd)
}

func runRecall() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	InitState(ctx)
	defer ShutdownState()

	result, err := state.recallService.Recall(ctx, &model.QueryContext{
		ContextId: flagRecallContext,
		Tags:      flagRecallTags,
		Text:      flagRecallText,
	})
	if err != nil {
		log.Fatalf("recall failed: %v", err)
	}
	if result.NoMatch {
		fmt.Println("no segment cleared the relevance floor")
		return
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("failed to render result: %v", err)
	}
	fmt.Println(string(out))
}
