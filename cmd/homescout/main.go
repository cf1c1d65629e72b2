// Command homescout hosts every service of the pipeline: the HTTP gateway,
// the aggregation coordinator, the stage workers and the migration runner.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "homescout",
		Short:         "Conversational property search over a Redis Streams pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config)")

	root.AddCommand(serveCMD(&cfgPath), coordinatorCMD(&cfgPath), workerCMD(&cfgPath), migrateCMD(&cfgPath))
	if err := root.Execute(); err != nil {
		root.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
