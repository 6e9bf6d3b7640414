package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/m1guelpf/dollar-auction/auctionapi"
	"github.com/m1guelpf/dollar-auction/core"
	"github.com/m1guelpf/dollar-auction/validation"
)

func main() {
	var (
		receiptInput     = flag.String("receipt", "", "Settlement receipt, base64 or gzip+base64 (file path or inline)")
		operatorKeyInput = flag.String("operator-key", "", "Operator public key PEM (file path or inline)")
		auctionID        = flag.String("auction-id", "", "Expected auction id")
		winner           = flag.String("winner", "", "Expected winner identity")
		noWinner         = flag.Bool("no-winner", false, "Expect the auction to have closed without bids")
		winningBid       = flag.String("winning-bid", "", "Expected winning bid amount")
		prize            = flag.String("prize", "", "Expected prize amount")
		sweep            = flag.String("sweep", "", "Expected operator sweep amount")
		bidsInput        = flag.String("bids", "", "Accepted bids JSON array (file path or inline JSON)")
		attestationInput = flag.String("attestation", "", "Nitro attestation, base64 (file path or inline)")
		pcrsInput        = flag.String("pcrs", "", "Known PCR sets JSON file")
		outputFormat     = flag.String("format", "text", "Output format: text or json")
		help             = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help {
		showUsage()
		os.Exit(0)
	}

	if *receiptInput == "" || *operatorKeyInput == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --receipt and --operator-key are required\n")
		os.Exit(1)
	}
	if *noWinner && *winner != "" {
		fmt.Fprintf(os.Stderr, "Error: --winner and --no-winner are mutually exclusive\n")
		os.Exit(2)
	}

	receipt, err := decodeReceipt(readInput(*receiptInput))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading receipt: %v\n", err)
		os.Exit(2)
	}

	input := &validation.ReceiptValidationInput{
		Receipt:        receipt,
		OperatorKeyPEM: string(readInput(*operatorKeyInput)),
		AuctionID:      *auctionID,
	}

	switch {
	case *noWinner:
		none := core.Identity("")
		input.Winner = &none
	case *winner != "":
		w := core.Identity(*winner)
		input.Winner = &w
	}

	for _, a := range []struct {
		name  string
		value string
		dst   **decimal.Decimal
	}{
		{"winning bid", *winningBid, &input.WinningBid},
		{"prize", *prize, &input.Prize},
		{"sweep", *sweep, &input.Sweep},
	} {
		if a.value == "" {
			continue
		}
		d, err := decimal.NewFromString(a.value)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing %s: %v\n", a.name, err)
			os.Exit(2)
		}
		*a.dst = &d
	}

	if *bidsInput != "" {
		var bids []core.Bid
		if err := json.Unmarshal(readInput(*bidsInput), &bids); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing bids: %v\n", err)
			os.Exit(2)
		}
		input.Bids = bids
	}

	if *attestationInput != "" {
		att, err := auctionapi.AttestationCOSEBase64(readInput(*attestationInput)).Decode()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading attestation: %v\n", err)
			os.Exit(2)
		}
		input.Attestation = att

		if *pcrsInput != "" {
			sets, err := validation.LoadPCRsFromFile(*pcrsInput)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading PCR sets: %v\n", err)
				os.Exit(2)
			}
			input.KnownPCRs = sets
		}
	}

	result, err := validation.ValidateReceipt(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		outputJSON(result)
	} else {
		outputText(result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	fmt.Println("Dollar Auction Receipt Validator")
	fmt.Println()
	fmt.Println("Verifies a signed settlement receipt issued by auctiond.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  receipt-validator --receipt <receipt> --operator-key <pem> [options]")
	fmt.Println()
	fmt.Println("Required Flags:")
	fmt.Println("  --receipt <receipt>               Receipt from the settle or receipt response")
	fmt.Println("  --operator-key <pem>              Key from the operator_key response")
	fmt.Println()
	fmt.Println("Optional Flags:")
	fmt.Println("  --auction-id <id>                 Expected auction id")
	fmt.Println("  --winner <identity>               Expected winner")
	fmt.Println("  --no-winner                       Expect no bids were placed")
	fmt.Println("  --winning-bid <amount>            Expected winning bid")
	fmt.Println("  --prize <amount>                  Expected prize")
	fmt.Println("  --sweep <amount>                  Expected operator sweep")
	fmt.Println("  --bids <json>                     Accepted bids, replayed against the transcript hash")
	fmt.Println("  --attestation <base64>            Nitro attestation over the receipt")
	fmt.Println("  --pcrs <file>                     Known PCR sets for the attestation")
	fmt.Println("  --format <text|json>              Output format (default: text)")
	fmt.Println("  --help                            Show this help message")
	fmt.Println()
	fmt.Println("Input Format:")
	fmt.Println("  --receipt, --operator-key, --bids and --attestation accept a file path or an inline value.")
	fmt.Println()
	fmt.Println("Bids (from GET /v1/events, bid_accepted events in order):")
	fmt.Println("  [")
	fmt.Println("    {\"bidder\": \"x\", \"amount\": \"0.05\"},")
	fmt.Println("    {\"bidder\": \"y\", \"amount\": \"0.10\"}")
	fmt.Println("  ]")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  receipt-validator \\")
	fmt.Println("    --receipt receipt.b64 \\")
	fmt.Println("    --operator-key operator.pem \\")
	fmt.Println("    --winner x --winning-bid 1.10 --prize 1.00")
	fmt.Println()
	fmt.Println("Exit Codes:")
	fmt.Println("  0 - Validation passed")
	fmt.Println("  1 - Validation failed")
	fmt.Println("  2 - Invalid input or runtime error")
}

func readInput(input string) []byte {
	// Try reading as file first
	if data, err := os.ReadFile(input); err == nil {
		return data
	}
	return []byte(input)
}

// decodeReceipt accepts the plain base64 receipt or its gzip form.
func decodeReceipt(data []byte) (auctionapi.ReceiptCOSE, error) {
	s := strings.TrimSpace(string(data))
	if receipt, err := auctionapi.ReceiptCOSEGzip(s).Decompress(); err == nil {
		return receipt, nil
	}
	return auctionapi.ReceiptCOSEBase64(s).Decode()
}

func outputText(result *validation.ReceiptValidationResult) {
	fmt.Println("Dollar Auction Receipt Validator")
	fmt.Println("================================")
	fmt.Println()

	if r := result.Receipt; r != nil {
		fmt.Println("Receipt:")
		fmt.Printf("  Auction:                 %s\n", r.AuctionID)
		fmt.Printf("  Winner:                  %s\n", displayIdentity(r.Winner))
		fmt.Printf("  Winning Bid:             %s\n", r.WinningBid)
		fmt.Printf("  Prize:                   %s\n", r.Prize)
		fmt.Printf("  Sweep:                   %s (deferred: %v)\n", r.Sweep, r.SweepDeferred)
		fmt.Printf("  Bids:                    %d\n", r.BidCount)
		fmt.Printf("  Digest:                  %s\n", result.ReceiptDigest)
		fmt.Println()
	}

	fmt.Println("Summary:")
	fmt.Printf("  Signature Valid:         %v\n", result.SignatureValid)
	fmt.Printf("  Auction ID Valid:        %v\n", result.AuctionIDValid)
	fmt.Printf("  Winner Valid:            %v\n", result.WinnerValid)
	fmt.Printf("  Amounts Valid:           %v\n", result.AmountsValid)
	fmt.Printf("  Transcript Valid:        %v\n", result.TranscriptValid)
	if att := result.Attestation; att != nil {
		fmt.Printf("  PCRs Valid:              %v\n", att.PCRsValid)
		fmt.Printf("  Certificate Valid:       %v\n", att.CertificateValid)
		fmt.Printf("  Attestation Sig Valid:   %v\n", att.SignatureValid)
		fmt.Printf("  Receipt Digest Match:    %v\n", att.ReceiptDigestMatch)
		fmt.Printf("  Operator Key Match:      %v\n", att.OperatorKeyMatch)
	}

	fmt.Println()
	fmt.Println("Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Printf("  - %s\n", detail)
	}
	if result.Attestation != nil {
		for _, detail := range result.Attestation.ValidationDetails {
			fmt.Printf("  - %s\n", detail)
		}
	}

	fmt.Println()
	fmt.Println("================================")
	if result.IsValid() {
		fmt.Println("VALIDATION: ✓ PASSED")
		fmt.Println("Exit Code: 0")
	} else {
		fmt.Println("VALIDATION: ✗ FAILED")
		fmt.Println("Exit Code: 1")
	}
}

func outputJSON(result *validation.ReceiptValidationResult) {
	output := map[string]any{
		"valid":            result.IsValid(),
		"signature_valid":  result.SignatureValid,
		"auction_id_valid": result.AuctionIDValid,
		"winner_valid":     result.WinnerValid,
		"amounts_valid":    result.AmountsValid,
		"transcript_valid": result.TranscriptValid,
		"receipt_digest":   result.ReceiptDigest,
		"receipt":          result.Receipt,
		"details":          result.ValidationDetails,
	}
	if att := result.Attestation; att != nil {
		output["attestation"] = map[string]any{
			"valid":                att.IsValid(),
			"pcrs_valid":           att.PCRsValid,
			"certificate_valid":    att.CertificateValid,
			"signature_valid":      att.SignatureValid,
			"receipt_digest_match": att.ReceiptDigestMatch,
			"operator_key_match":   att.OperatorKeyMatch,
			"details":              att.ValidationDetails,
		}
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}

func displayIdentity(id string) string {
	if id == "" {
		return "(none)"
	}
	return id
}
