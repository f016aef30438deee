package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/futures-engine/internal/config"
	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/krobus00/futures-engine/internal/service/exchange"
	"github.com/krobus00/futures-engine/internal/service/position"
	"github.com/krobus00/futures-engine/internal/util"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

const defaultPositionCommandTimeout = time.Minute

type positionView struct {
	Position    entity.Position        `json:"position"`
	State       entity.PositionState   `json:"state"`
	Risk        []position.RiskWarning `json:"risk_warnings"`
	OpenOrders  []entity.Order         `json:"open_orders"`
	USDTBalance decimal.Decimal        `json:"usdt_balance"`
	Available   decimal.Decimal        `json:"available_balance"`
	MarginUsed  decimal.Decimal        `json:"margin_used"`
}

type positionOperation func(ctx context.Context, core *tradingCore, manager *position.Manager) (any, error)

func StartPositionShow(cmd *cobra.Command, args []string) {
	runPositionCommand(cmd, false, func(ctx context.Context, core *tradingCore, manager *position.Manager) (any, error) {
		if err := manager.Refresh(ctx); err != nil {
			return nil, err
		}

		pos, _ := manager.Snapshot()
		state, _ := manager.State()
		view := positionView{
			Position: pos,
			State:    state,
			Risk:     manager.MonitorRisk(position.RiskThresholdsFromConfig(config.Env.Engine.Risk)),
		}

		openOrders, err := core.gateway.OpenOrders(ctx, manager.Symbol())
		if err != nil {
			return nil, err
		}
		view.OpenOrders = openOrders

		account, err := core.gateway.Account(ctx)
		if err != nil {
			return nil, err
		}
		view.USDTBalance = exchange.USDTBalance(account)
		view.Available = account.AvailableBalance
		view.MarginUsed = account.MarginUsed()

		return view, nil
	})
}

func StartPositionClose(cmd *cobra.Command, args []string) {
	runPositionCommand(cmd, true, func(ctx context.Context, _ *tradingCore, manager *position.Manager) (any, error) {
		order, err := manager.Close(ctx)
		if err != nil {
			return nil, err
		}
		if order == nil {
			return map[string]any{"symbol": manager.Symbol(), "closed": false}, nil
		}
		return map[string]any{"symbol": manager.Symbol(), "closed": true, "order": order}, nil
	})
}

func StartPositionLeverage(cmd *cobra.Command, args []string) {
	leverage, _ := cmd.Flags().GetInt("leverage")

	runPositionCommand(cmd, true, func(ctx context.Context, _ *tradingCore, manager *position.Manager) (any, error) {
		applied, err := manager.SetLeverage(ctx, leverage)
		if err != nil {
			return nil, err
		}
		return map[string]any{"symbol": manager.Symbol(), "leverage": applied}, nil
	})
}

func StartPositionMarginType(cmd *cobra.Command, args []string) {
	marginType, _ := cmd.Flags().GetString("margin-type")

	runPositionCommand(cmd, true, func(ctx context.Context, _ *tradingCore, manager *position.Manager) (any, error) {
		mode := entity.MarginType(strings.ToUpper(strings.TrimSpace(marginType)))
		if err := manager.ChangeMarginType(ctx, mode); err != nil {
			return nil, err
		}
		return map[string]any{"symbol": manager.Symbol(), "margin_type": mode}, nil
	})
}

func runPositionCommand(cmd *cobra.Command, mutating bool, op positionOperation) {
	symbol, _ := cmd.Flags().GetString("symbol")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		timeout = defaultPositionCommandTimeout
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		util.ContinueOrFatal(errors.New("--symbol is required"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := executePositionOperation(ctx, symbol, mutating, op)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd.CommandPath(), err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	util.ContinueOrFatal(err)
	fmt.Println(string(out))
}

func executePositionOperation(ctx context.Context, symbol string, mutating bool, op positionOperation) (any, error) {
	core, err := newTradingCore(ctx, coreOptions{})
	if err != nil {
		return nil, err
	}
	defer core.close()

	manager := core.newPositionManager(symbol)

	if mutating {
		release, err := core.symbolLock.Acquire(ctx, symbol)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	return op(ctx, core, manager)
}
