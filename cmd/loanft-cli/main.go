package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const tokenEnv = "LOANFT_RPC_TOKEN"

func usage() {
	fmt.Fprintf(os.Stderr, `loanft-cli interacts with a running loanftd node.

Usage:
  loanft-cli [-rpc URL] [-token TOKEN] <command> [args]

Loan commands:
  request <applicant> <nftContract> <tokenId> <amount> <duration> <rate>
  fund <supplier> <id> <value>
  withdraw <applicant> <id>
  repay <applicant> <id> <value>
  redeem <supplier> <id>
  get-request <id>
  get-loan <id>
  interest <id>
  list-requests
  list-loans
  events [prefix] [limit]
  balance <address>
  vault

Collateral commands:
  mint <contract> <tokenId> <owner>
  approve <contract> <tokenId> <caller> <operator>
  owner-of <contract> <tokenId>
`)
	os.Exit(2)
}

type client struct {
	url   string
	token string
	http  *http.Client
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int         `json:"code"`
		Message string      `json:"message"`
		Data    interface{} `json:"data"`
	} `json:"error"`
}

func (c *client) call(method string, params interface{}) (json.RawMessage, error) {
	payload := rpcRequest{JSONRPC: "2.0", Method: method, ID: 1}
	if params != nil {
		payload.Params = []interface{}{params}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("malformed response: %s", strings.TrimSpace(string(body)))
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	return decoded.Result, nil
}

func (c *client) run(method string, params interface{}) {
	result, err := c.call(method, params)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		fmt.Println(string(result))
		return
	}
	fmt.Println(pretty.String())
}

func requireArgs(args []string, n int) {
	if len(args) != n {
		usage()
	}
}

func main() {
	rpcURL := flag.String("rpc", "http://localhost:8645", "JSON-RPC endpoint of the loanftd node")
	token := flag.String("token", os.Getenv(tokenEnv), "Bearer token for mutating methods")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	c := &client{url: *rpcURL, token: *token, http: &http.Client{Timeout: 30 * time.Second}}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "request":
		requireArgs(rest, 6)
		duration, err := strconv.ParseInt(rest[4], 10, 64)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error: invalid duration:", rest[4])
			os.Exit(1)
		}
		c.run("loanft_requestLoan", map[string]interface{}{
			"applicant":          rest[0],
			"nftContract":        rest[1],
			"tokenId":            rest[2],
			"amount":             rest[3],
			"loanDuration":       duration,
			"yearlyInterestRate": rest[5],
		})
	case "fund":
		requireArgs(rest, 3)
		c.run("loanft_provideLiquidity", map[string]string{
			"supplier": rest[0], "id": rest[1], "value": rest[2],
		})
	case "withdraw":
		requireArgs(rest, 2)
		c.run("loanft_withdrawLoan", map[string]string{
			"applicant": rest[0], "id": rest[1],
		})
	case "repay":
		requireArgs(rest, 3)
		c.run("loanft_repayLoan", map[string]string{
			"applicant": rest[0], "id": rest[1], "value": rest[2],
		})
	case "redeem":
		requireArgs(rest, 2)
		c.run("loanft_redeemLoanOrNFT", map[string]string{
			"supplier": rest[0], "id": rest[1],
		})
	case "get-request":
		requireArgs(rest, 1)
		c.run("loanft_getLoanRequest", map[string]string{"id": rest[0]})
	case "get-loan":
		requireArgs(rest, 1)
		c.run("loanft_getLoan", map[string]string{"id": rest[0]})
	case "interest":
		requireArgs(rest, 1)
		c.run("loanft_getLoanInterests", map[string]string{"id": rest[0]})
	case "list-requests":
		requireArgs(rest, 0)
		c.run("loanft_listLoanRequests", nil)
	case "list-loans":
		requireArgs(rest, 0)
		c.run("loanft_listLoans", nil)
	case "events":
		params := map[string]interface{}{}
		if len(rest) > 0 {
			params["prefix"] = rest[0]
		}
		if len(rest) > 1 {
			limit, err := strconv.Atoi(rest[1])
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error: invalid limit:", rest[1])
				os.Exit(1)
			}
			params["limit"] = limit
		}
		if len(rest) > 2 {
			usage()
		}
		c.run("loanft_listEvents", params)
	case "balance":
		requireArgs(rest, 1)
		c.run("loanft_getBalance", map[string]string{"address": rest[0]})
	case "vault":
		requireArgs(rest, 0)
		c.run("loanft_getVault", nil)
	case "mint":
		requireArgs(rest, 3)
		c.run("nft_mint", map[string]string{
			"contract": rest[0], "tokenId": rest[1], "owner": rest[2],
		})
	case "approve":
		requireArgs(rest, 4)
		c.run("nft_approve", map[string]string{
			"contract": rest[0], "tokenId": rest[1], "caller": rest[2], "operator": rest[3],
		})
	case "owner-of":
		requireArgs(rest, 2)
		c.run("nft_ownerOf", map[string]string{
			"contract": rest[0], "tokenId": rest[1],
		})
	default:
		usage()
	}
}
