// Command invoicectl drives the staged processing pipeline of a running
// server from the terminal. Each subcommand opens one streaming session
// and prints the folded result.
//
// Usage:
//
//	invoicectl [-server ws://localhost:8080] process (-file invoice.txt | -text "...") [-id INV-X]
//	invoicectl approve -id INV-X
//	invoicectl pay -id INV-X [-approved-by human:ap@example.com] [-status ready_to_pay]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/finops-lab/invoiceflow/internal/runner"
	"github.com/finops-lab/invoiceflow/pkg/utils"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8080", "server websocket base URL")
	verbose := flag.Bool("v", false, "print the full stage log")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{Level: "warn", Format: "console"})
	if *verbose {
		logger, err = utils.NewDevelopmentLogger()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	req, err := parseStage(args[0], args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invoicectl: %v\n", err)
		usage()
		os.Exit(2)
	}

	session := runner.NewSession(runner.NewWebsocketDialer(*serverURL), logger)
	result := session.Run(context.Background(), req)

	if *verbose {
		for _, entry := range result.State.Logs {
			fmt.Printf("[%7.1fs] %-8s %s\n", entry.Elapsed, entry.Level, entry.Message)
		}
		fmt.Println()
	}
	printOutcome(result)

	if result.Outcome.Failed() {
		os.Exit(1)
	}
}

func parseStage(stage string, args []string) (runner.Request, error) {
	switch stage {
	case "process":
		fs := flag.NewFlagSet("process", flag.ExitOnError)
		file := fs.String("file", "", "invoice text file or stored PDF path")
		text := fs.String("text", "", "inline invoice text")
		id := fs.String("id", "", "invoice id (generated when empty)")
		fs.Parse(args)

		raw := *text
		if *file != "" {
			data, err := os.ReadFile(*file)
			if err != nil {
				return runner.Request{}, fmt.Errorf("read %s: %w", *file, err)
			}
			raw = string(data)
		}
		if raw == "" {
			return runner.Request{}, fmt.Errorf("process requires -file or -text")
		}
		return runner.Request{
			Stage:      runner.SelectIngestion,
			RawInvoice: raw,
			InvoiceID:  *id,
		}, nil

	case "approve":
		fs := flag.NewFlagSet("approve", flag.ExitOnError)
		id := fs.String("id", "", "invoice id")
		fs.Parse(args)
		if *id == "" {
			return runner.Request{}, fmt.Errorf("approve requires -id")
		}
		return runner.Request{Stage: runner.SelectApproval, InvoiceID: *id}, nil

	case "pay":
		fs := flag.NewFlagSet("pay", flag.ExitOnError)
		id := fs.String("id", "", "invoice id")
		approvedBy := fs.String("approved-by", "", "approval provenance, e.g. human:ap@example.com")
		status := fs.String("status", "", "current invoice status")
		fs.Parse(args)
		if *id == "" {
			return runner.Request{}, fmt.Errorf("pay requires -id")
		}
		return runner.Request{
			Stage:         runner.SelectPayment,
			InvoiceID:     *id,
			ApprovedBy:    *approvedBy,
			InvoiceStatus: *status,
		}, nil

	default:
		return runner.Request{}, fmt.Errorf("unknown stage %q", stage)
	}
}

func printOutcome(result runner.Result) {
	o := result.Outcome

	switch o.Kind {
	case runner.OutcomeIngestionComplete:
		fmt.Printf("ingestion complete: %s\n", o.InvoiceID)
		if o.Stage1 != nil {
			fmt.Printf("  status:  %s\n", o.Stage1.InvoiceStatus)
			fmt.Printf("  next:    %s\n", o.Stage1.NextAction)
		}
	case runner.OutcomeApprovalComplete:
		fmt.Printf("approval complete: %s\n", o.InvoiceID)
		if o.Stage2 != nil {
			fmt.Printf("  route:   %s\n", o.Stage2.Route)
			fmt.Printf("  status:  %s\n", o.Stage2.InvoiceStatus)
		}
	case runner.OutcomePaymentComplete:
		fmt.Printf("payment complete: %s\n", o.InvoiceID)
		if o.Payment != nil && o.Payment.PaymentResult != nil {
			fmt.Printf("  success: %v\n", o.Payment.PaymentResult.Success)
			if o.Payment.PaymentResult.TransactionID != "" {
				fmt.Printf("  txn:     %s\n", o.Payment.PaymentResult.TransactionID)
			}
			if o.Payment.PaymentResult.Error != "" {
				fmt.Printf("  error:   %s\n", o.Payment.PaymentResult.Error)
			}
		}
	case runner.OutcomeRejected:
		fmt.Printf("rejected at %s: %s\n", o.Stage, o.Reason)
	default:
		fmt.Printf("error at %s: %s\n", o.Stage, o.Reason)
	}

	if o.TokenTotal.TotalTokens > 0 {
		fmt.Printf("  tokens:  %d (%.1fs)\n", o.TokenTotal.TotalTokens, o.ProcessingTime)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: invoicectl [-server URL] [-v] <process|approve|pay> [flags]")
}
