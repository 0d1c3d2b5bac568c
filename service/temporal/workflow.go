package temporal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// SyncWalletWorkflow copies new ledger history for one wallet into the record
// store. It is triggered by a Temporal schedule at a configured interval.
//
// No key material passes through the workflow: records are stored without
// deciphered memos.
func SyncWalletWorkflow(ctx workflow.Context, input SyncWalletInput) (*SyncWalletResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SyncWalletWorkflow started", "wallet_id", input.WalletID, "accounts", len(input.Accounts))

	result := &SyncWalletResult{
		WalletID: input.WalletID,
		SyncTime: workflow.Now(ctx),
	}

	var runID string
	encoded := workflow.SideEffect(ctx, func(ctx workflow.Context) interface{} {
		return uuid.NewString()
	})
	if err := encoded.Get(&runID); err != nil {
		return result, fmt.Errorf("failed to generate run id: %w", err)
	}
	result.RunID = runID

	if len(input.Accounts) == 0 {
		logger.Info("no accounts configured, nothing to sync", "wallet_id", input.WalletID)
		return result, nil
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var syncResult *SyncAccountsResult
	err := workflow.ExecuteActivity(ctx, a.SyncAccounts, SyncAccountsInput{
		WalletID:   input.WalletID,
		RunID:      runID,
		Accounts:   input.Accounts,
		MaxRecords: input.MaxRecords,
	}).Get(ctx, &syncResult)
	if err != nil {
		logger.Error("failed to sync accounts", "wallet_id", input.WalletID, "error", err)
		errMsg := fmt.Sprintf("failed to sync accounts: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to sync accounts: %w", err)
	}

	result.Written = syncResult.Written
	result.Skipped = syncResult.Skipped
	result.Published = syncResult.Published
	result.Truncated = syncResult.Truncated

	logger.Info("SyncWalletWorkflow completed successfully",
		"wallet_id", input.WalletID,
		"run_id", runID,
		"written", result.Written,
		"skipped", result.Skipped,
	)

	return result, nil
}
