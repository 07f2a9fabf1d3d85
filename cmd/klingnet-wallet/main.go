// Klingnet companion wallet CLI.
//
// Usage:
//
//	klingnet-wallet create  --keystore=wallet.dat
//	klingnet-wallet address --keystore=wallet.dat
//	klingnet-wallet balance --keystore=wallet.dat --node=http://localhost:7000
//	klingnet-wallet send    --keystore=wallet.dat --node=http://localhost:7000 --to=<address> --amount=10
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/Klingon-tech/klingnet-chain/internal/wallet"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"golang.org/x/term"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "create":
		err = runCreate(args)
	case "address":
		err = runAddress(args)
	case "balance":
		err = runBalance(args)
	case "send":
		err = runSend(args)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: klingnet-wallet <create|address|balance|send> [flags]")
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		return pw, err
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	return []byte(line), err
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	keystorePath := fs.String("keystore", "wallet.dat", "path to write the encrypted keystore")
	fs.Parse(args)

	if wallet.Exists(*keystorePath) {
		return fmt.Errorf("keystore already exists at %s", *keystorePath)
	}
	password, err := readPassword("New wallet password: ")
	if err != nil {
		return err
	}
	kp, err := wallet.CreateKeystore(*keystorePath, password)
	if err != nil {
		return err
	}
	fmt.Printf("Wallet created at %s\n", *keystorePath)
	fmt.Printf("Address: %s\n", kp.Address())
	return nil
}

func runAddress(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	keystorePath := fs.String("keystore", "wallet.dat", "path to the encrypted keystore")
	fs.Parse(args)

	kp, err := openWallet(*keystorePath)
	if err != nil {
		return err
	}
	fmt.Println(kp.Address())
	return nil
}

func runBalance(args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	keystorePath := fs.String("keystore", "wallet.dat", "path to the encrypted keystore")
	nodeURL := fs.String("node", "http://localhost:7000", "node base URL")
	fs.Parse(args)

	kp, err := openWallet(*keystorePath)
	if err != nil {
		return err
	}

	var resp struct {
		Balance float64 `json:"balance"`
	}
	if err := getJSON(*nodeURL+"/balance/"+kp.Address(), &resp); err != nil {
		return err
	}
	fmt.Printf("%.8f\n", resp.Balance)
	return nil
}

func runSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	keystorePath := fs.String("keystore", "wallet.dat", "path to the encrypted keystore")
	nodeURL := fs.String("node", "http://localhost:7000", "node base URL")
	to := fs.String("to", "", "recipient address")
	amount := fs.Float64("amount", 0, "amount to send")
	fs.Parse(args)

	if *to == "" || *amount <= 0 {
		return fmt.Errorf("--to and --amount are required")
	}

	kp, err := openWallet(*keystorePath)
	if err != nil {
		return err
	}

	var utxos []types.UTXO
	if err := getJSON(*nodeURL+"/unspent/"+kp.Address(), &utxos); err != nil {
		return fmt.Errorf("fetch unspent outputs: %w", err)
	}

	t, err := wallet.BuildTransaction(kp, utxos, *to, *amount)
	if err != nil {
		return fmt.Errorf("build transaction: %w", err)
	}

	if err := postJSON(*nodeURL+"/transactions", t, nil); err != nil {
		return fmt.Errorf("submit transaction: %w", err)
	}
	fmt.Printf("Submitted transaction %s\n", t.ID)
	return nil
}

func openWallet(path string) (*crypto.KeyPair, error) {
	password, err := readPassword("Wallet password: ")
	if err != nil {
		return nil, err
	}
	kp, err := wallet.OpenKeystore(path, password)
	if err != nil {
		return nil, err
	}
	return kp, nil
}

func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("node responded %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(url string, body any, out any) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("node responded %d: %s", resp.StatusCode, errResp.Error)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
