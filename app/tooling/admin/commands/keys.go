package commands

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/aurumchain/aurum/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var (
	keysFolder string
	keysName   string
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate a named node key into the accounts folder",
	Run:   keysRun,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.Flags().StringVarP(&keysFolder, "folder", "p", "zblock/accounts/", "Path to the accounts folder.")
	keysCmd.Flags().StringVarP(&keysName, "name", "n", "miner1", "Name for the key file.")
}

func keysRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(keysFolder, keysName+".ecdsa")
	if err := crypto.SaveECDSA(path, privateKey); err != nil {
		log.Fatal(err)
	}

	accountID := database.PublicKeyToAccountID(privateKey.PublicKey)
	fmt.Printf("wrote %s for account %s\n", path, accountID)
}
