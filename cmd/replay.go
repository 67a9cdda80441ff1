/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

// replayCommands re-runs a stored webhook through the processor.
func replayCommands(app *payrelayInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <webhook-id>",
		Short: "replay a recorded gateway webhook",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			outcome, err := app.relay.ReplayWebhook(context.Background(), args[0])
			if err != nil {
				log.Fatalf("Error replaying webhook %s: %v", args[0], err)
			}
			fmt.Printf("Webhook %s replayed: %s\n", args[0], outcome)
		},
	}

	return cmd
}
