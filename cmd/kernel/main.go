// Command kernel is the ledger kernel's entrypoint: it wires the
// Container, starts the batch scheduler, and blocks until a termination
// signal arrives, following the teacher's waitForShutdown idiom minus the
// HTTP server it used to guard.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/domain/models"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/infrastructure/store"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/ledger"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/money"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/components"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/logging"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/submission"
)

func main() {
	container, err := components.GetInstance()
	if err != nil {
		log.Fatalf("failed to initialize ledger kernel: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container.Start(ctx)

	logging.Info("ledger kernel started", map[string]any{
		"environment":  container.Config.Environment,
		"settlement":   string(container.Config.Settlement.Window),
		"netting_mode": string(container.Config.Netting.Mode),
	})

	if os.Getenv("KERNEL_DEMO") == "1" {
		runDemo(ctx, container)
	}

	waitForShutdown(container, cancel)
}

// runDemo upserts two Asset accounts, submits one 100 USD payment between
// them through Container.Submission, and on success runs one ProcessDue
// pass. EnsureAccount creates no balance row and the payer's metadata
// permits no overdraft, so against a fresh store the payment is rejected
// with InsufficientFunds and the demo stops after logging that. ProcessDue
// only processes batches whose cut-off has already passed, so a payment in
// a window still open is not netted in that pass. Gated behind
// KERNEL_DEMO=1 so a normal process start just runs the scheduler against
// whatever real traffic submits through Container.Submission.
func runDemo(ctx context.Context, c *components.Container) {
	ledgerStore := ledgerStoreFrom(c)

	payerID, err := ledgerStore.EnsureAccount(ctx, "demo-payer", "Demo Payer", models.AccountAsset, "USD")
	if err != nil {
		logging.Error("demo: failed to ensure payer account", err, nil)
		return
	}
	payeeID, err := ledgerStore.EnsureAccount(ctx, "demo-payee", "Demo Payee", models.AccountAsset, "USD")
	if err != nil {
		logging.Error("demo: failed to ensure payee account", err, nil)
		return
	}

	payer, err := ledgerStore.GetAccount(ctx, payerID)
	if err != nil {
		logging.Error("demo: failed to load payer account", err, nil)
		return
	}
	payee, err := ledgerStore.GetAccount(ctx, payeeID)
	if err != nil {
		logging.Error("demo: failed to load payee account", err, nil)
		return
	}

	txn, err := c.Submission.Submit(ctx, submission.Request{
		ClientID:      "demo-client",
		OperationType: "demo.payment",
		Posting: ledger.PostingRequest{
			Type:          models.TxPayment,
			SourceAccount: payer,
			DestAccount:   payee,
			Amount:        money.NewFromInt(100),
			Currency:      "USD",
		},
	})
	if err != nil {
		logging.Warn("demo: posting did not settle", map[string]any{"error": err.Error()})
		return
	}
	logging.Info("demo: transaction settled", map[string]any{"transaction_id": txn.ID.String()})

	if err := c.Batch.ProcessDue(ctx); err != nil {
		logging.Error("demo: batch processing failed", err, nil)
		return
	}
	logging.Info("demo: batch cycle complete", nil)
}

func ledgerStoreFrom(c *components.Container) *store.LedgerStore {
	return store.NewLedgerStore(c.Store)
}

func waitForShutdown(container *components.Container, cancel context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("shutting down ledger kernel", nil)
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()

	if err := container.Shutdown(shutdownCtx); err != nil {
		logging.Error("ledger kernel shutdown failed", err, nil)
	}

	logging.Info("ledger kernel shutdown complete", nil)
}
