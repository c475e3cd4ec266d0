package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/aurumchain/aurum/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

type account struct {
	Account   string `json:"account"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Balance   uint64 `json:"balance"`
	Spendable uint64 `json:"spendable"`
	Nonce     uint64 `json:"nonce"`
}

type accountsResp struct {
	LatestBlock string    `json:"latest_block"`
	Uncommitted int       `json:"uncommitted"`
	Accounts    []account `json:"accounts"`
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print the balance of your account",
	Run:   balanceRun,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")
}

func balanceRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	accountID := database.PublicKeyToAccountID(privateKey.PublicKey)
	fmt.Println("For Account:", accountID)

	resp, err := http.Get(fmt.Sprintf("%s/v1/accounts/list/%s", url, accountID))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var accounts accountsResp
	if err := json.NewDecoder(resp.Body).Decode(&accounts); err != nil {
		log.Fatal(err)
	}

	for _, act := range accounts.Accounts {
		fmt.Printf("Balance: %d  Spendable: %d  Nonce: %d\n", act.Balance, act.Spendable, act.Nonce)
	}
}
