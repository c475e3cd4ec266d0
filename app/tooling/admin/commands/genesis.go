package commands

import (
	"fmt"
	"log"
	"time"

	"github.com/aurumchain/aurum/foundation/blockchain/genesis"
	"github.com/spf13/cobra"
)

var genesisPath string

var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "Write a starter genesis file for a new network",
	Run:   genesisRun,
}

func init() {
	rootCmd.AddCommand(genesisCmd)
	genesisCmd.Flags().StringVarP(&genesisPath, "path", "g", "zblock/genesis.json", "Path to write the genesis file to.")
}

func genesisRun(cmd *cobra.Command, args []string) {
	gen := genesis.Genesis{
		Date:    time.Now().UTC().Truncate(time.Second),
		ChainID: 1,

		StartingDiffBits:     0x1e0fffff,
		PowLimitBits:         0x1e0fffff,
		BlockIntervalSeconds: 60,
		RetargetWindow:       10,
		MaxAdjustmentFactor:  4,

		MiningReward:   700,
		TransPerBlock:  10,
		MaxBlockBytes:  1_048_576,
		ValidityWindow: 120,
		MempoolMaxSize: 1024,
		FutureTimeSkew: 120,

		Balances: map[string]uint64{},
	}

	if err := genesis.Save(genesisPath, gen); err != nil {
		log.Fatal(err)
	}

	fmt.Println("genesis file written to", genesisPath)
}
