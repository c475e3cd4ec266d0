package commands

import (
	"fmt"
	"log"

	"github.com/aurumchain/aurum/foundation/blockchain/database/chainstore"
	"github.com/spf13/cobra"
)

var dbPath string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the head of the chain database",
	Run:   inspectRun,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringVarP(&dbPath, "db", "b", "zblock/chain.db", "Path to the chain database.")
}

func inspectRun(cmd *cobra.Command, args []string) {
	db, err := chainstore.Open(dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	genesisHash, err := db.GenesisHash()
	if err != nil {
		log.Fatal(err)
	}

	headHash, err := db.HeadHash()
	if err != nil {
		log.Fatal(err)
	}

	info, err := db.GetChainInfo(headHash)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("genesis:", genesisHash)
	fmt.Println("head:   ", headHash)
	fmt.Println("height: ", info.Height)
	fmt.Println("work:   ", info.Work)
	fmt.Println("parent: ", info.ParentHash)
}
